package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().UTC()}
	if s.repo != nil {
		resp["database"] = "ok"
		if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

type loginRequest struct {
	Operator string `json:"operator" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and password required"})
		return
	}

	if s.config.PasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is not configured"})
		return
	}

	if req.Operator != s.config.Operator || !VerifyPassword(req.Password, s.config.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.jwtManager.GenerateToken(req.Operator)
	if err != nil {
		s.logger.Error().Err(err).Msg("token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(s.config.TokenDuration.Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	mode, auto := s.riskMgr.Mode()
	c.JSON(http.StatusOK, gin.H{
		"paused":          s.engine.Paused(),
		"balance":         s.portfolio.Balance(),
		"initial_balance": s.portfolio.InitialBalance(),
		"open_positions":  s.positions.OpenCount(),
		"loss_streak":     s.riskMgr.LossStreak(),
		"cooldown_until":  s.riskMgr.CooldownUntil(),
		"risk_mode":       mode,
		"auto_mode":       auto,
		"trade_percent":   s.riskMgr.TradePercent(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.positions.List()})
}

func (s *Server) handleReport(c *gin.Context) {
	day, dayPct := s.portfolio.Report(1)
	week, weekPct := s.portfolio.Report(7)
	month, monthPct := s.portfolio.Report(30)

	resp := gin.H{
		"balance": s.portfolio.Balance(),
		"daily":   gin.H{"pnl": day, "percent": dayPct},
		"weekly":  gin.H{"pnl": week, "percent": weekPct},
		"monthly": gin.H{"pnl": month, "percent": monthPct},
	}
	if s.repo != nil {
		stats, err := s.repo.GetTradeStats(c.Request.Context(), time.Now().AddDate(0, 0, -30))
		if err != nil {
			s.logger.Error().Err(err).Msg("trade stats fetch failed")
		} else {
			resp["trade_stats"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleTrades returns the last 30 days of closed trades, newest first. Only
// available with the database enabled.
func (s *Server) handleTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade history requires the database"})
		return
	}
	trades, err := s.repo.ListClosedTrades(c.Request.Context(), time.Now().AddDate(0, 0, -30), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing closed trades failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleSignal(c *gin.Context) {
	sig := s.engine.LastSignal()
	if sig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no signal generated yet"})
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) handlePause(c *gin.Context) {
	s.engine.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.engine.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

type autoModeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleAutoMode(c *gin.Context) {
	var req autoModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled flag required"})
		return
	}
	s.riskMgr.SetAutoMode(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"auto_mode": *req.Enabled})
}

type riskPercentRequest struct {
	Percent float64 `json:"percent" binding:"required"`
}

// handleRiskPercent sets the per-trade balance fraction. The input is a
// percentage, bounded to 0.1-10.
func (s *Server) handleRiskPercent(c *gin.Context) {
	var req riskPercentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "percent required"})
		return
	}

	if err := s.riskMgr.SetTradePercent(req.Percent / 100); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_percent": s.riskMgr.TradePercent()})
}

type riskModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleRiskMode(c *gin.Context) {
	var req riskModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode required"})
		return
	}

	if err := s.riskMgr.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"risk_mode": req.Mode, "description": s.riskMgr.ModeDescription()})
}
