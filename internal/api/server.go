package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-trading-agent/internal/database"
	"futures-trading-agent/internal/engine"
	"futures-trading-agent/internal/ledger"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/risk"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	JWTSecret      string
	TokenDuration  time.Duration

	// Operator is the single login; PasswordHash is its bcrypt hash. Auth
	// is disabled when the hash is empty.
	Operator     string
	PasswordHash string
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	jwtManager *JWTManager

	engine    *engine.TradingEngine
	positions *position.Manager
	portfolio *ledger.Portfolio
	riskMgr   *risk.Manager
	repo      *database.Repository // nil without a database
	logger    zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, eng *engine.TradingEngine, positions *position.Manager, portfolio *ledger.Portfolio, riskMgr *risk.Manager, repo *database.Repository, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:     router,
		config:     config,
		jwtManager: NewJWTManager(config.JWTSecret, config.TokenDuration),
		engine:     eng,
		positions:  positions,
		portfolio:  portfolio,
		riskMgr:    riskMgr,
		repo:       repo,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/login", s.handleLogin)

	apiGroup := s.router.Group("/api")
	if s.config.PasswordHash != "" {
		apiGroup.Use(authMiddleware(s.jwtManager))
	}

	apiGroup.GET("/status", s.handleStatus)
	apiGroup.GET("/positions", s.handlePositions)
	apiGroup.GET("/report", s.handleReport)
	apiGroup.GET("/signal", s.handleSignal)
	apiGroup.GET("/trades", s.handleTrades)

	apiGroup.POST("/trading/pause", s.handlePause)
	apiGroup.POST("/trading/resume", s.handleResume)
	apiGroup.POST("/trading/auto", s.handleAutoMode)
	apiGroup.POST("/risk/percent", s.handleRiskPercent)
	apiGroup.POST("/risk/mode", s.handleRiskMode)
}

// Start runs the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}
