package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-trading-agent/config"
	"futures-trading-agent/internal/api"
	"futures-trading-agent/internal/database"
	"futures-trading-agent/internal/engine"
	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/ledger"
	"futures-trading-agent/internal/notify"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/regime"
	"futures-trading-agent/internal/risk"
	signalgen "futures-trading-agent/internal/signal"
	"futures-trading-agent/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Str("symbol", cfg.TradingConfig.Symbol).Bool("mock", cfg.BinanceConfig.MockMode).Msg("starting trading agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional: the signal cache and position snapshot fall back
	// to process memory without it.
	var rdb *redis.Client
	if cfg.RedisConfig.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, using in-memory state")
			rdb = nil
		}
	}

	// The database is optional: without it the ledger lives in memory only.
	var repo *database.Repository
	var ledgerStore ledger.Store
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migrations failed")
		}
		repo = database.NewRepository(db)
		ledgerStore = repo
	}

	exchange, priceStream := buildExchange(ctx, cfg, logger)
	if priceStream != nil {
		if err := priceStream.Start(); err != nil {
			logger.Warn().Err(err).Msg("price stream start failed")
		} else {
			defer priceStream.Stop()
		}
	}

	portfolio := ledger.NewPortfolio(cfg.TradingConfig.InitialBalance, ledgerStore, logger)
	if ledgerStore != nil {
		if err := portfolio.Restore(ctx); err != nil {
			logger.Error().Err(err).Msg("ledger restore failed")
		}
	}

	riskMgr := risk.NewManager(riskConfig(cfg.RiskConfig), logger)
	if cfg.RiskConfig.Mode != "" {
		if err := riskMgr.SetMode(cfg.RiskConfig.Mode); err != nil {
			logger.Fatal().Err(err).Str("mode", cfg.RiskConfig.Mode).Msg("invalid risk mode")
		}
	}
	if balance, err := exchange.FetchBalance(ctx, cfg.TradingConfig.QuoteAsset); err == nil {
		riskMgr.SetBalanceStart(balance)
	}

	classifier := regime.NewClassifier(regime.DefaultConfig())
	sigCache := signalgen.NewCache(rdb, 60*time.Second, logger)
	sigCfg := signalgen.DefaultConfig()
	sigCfg.Interval = cfg.TradingConfig.Interval
	signals := signalgen.NewGenerator(exchange, classifier, sigCache, sigCfg, logger)

	posStore := position.NewStateStore(rdb, logger)
	posCfg := position.DefaultConfig()
	posCfg.QuoteAsset = cfg.TradingConfig.QuoteAsset
	posCfg.MaxSingleTrade = cfg.TradingConfig.MaxSingleTrade
	posCfg.MaxSymbolVolume = cfg.TradingConfig.MaxSymbolVolume
	posCfg.Leverage = cfg.TradingConfig.Leverage
	posCfg.ProtectiveOrders = cfg.TradingConfig.ProtectiveOrders
	positions := position.NewManager(exchange, portfolio, riskMgr, posStore, posCfg, logger)
	if priceStream != nil {
		positions.SetPriceSource(priceStream)
	}

	notifier := notify.NewManager(logger)
	if cfg.TelegramConfig.Enabled {
		notifier.AddNotifier(notify.NewTelegramNotifier(notify.TelegramConfig{
			BotToken: cfg.TelegramConfig.BotToken,
			ChatID:   cfg.TelegramConfig.ChatID,
			Enabled:  true,
		}))
	}

	engCfg := engine.DefaultConfig()
	engCfg.Symbol = cfg.TradingConfig.Symbol
	engCfg.QuoteAsset = cfg.TradingConfig.QuoteAsset
	engCfg.CycleInterval = time.Duration(cfg.TradingConfig.CycleSeconds) * time.Second
	engCfg.CycleTimeout = engCfg.CycleInterval * 3 / 4
	engCfg.StopLossPercent = cfg.TradingConfig.StopLossPercent
	engCfg.TakeProfitPercent = cfg.TradingConfig.TakeProfitPercent
	engCfg.ReportHour = *cfg.TradingConfig.ReportHour
	eng := engine.New(exchange, signals, riskMgr, positions, portfolio, notifier, repo, engCfg, logger)

	go eng.Run(ctx)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		JWTSecret:      cfg.ServerConfig.JWTSecret,
		TokenDuration:  time.Duration(cfg.ServerConfig.TokenHours) * time.Hour,
		Operator:       cfg.ServerConfig.Operator,
		PasswordHash:   cfg.ServerConfig.PasswordHash,
	}, eng, positions, portfolio, riskMgr, repo, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server stopped")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("trading agent stopped")
}

// buildExchange wires the live Binance gateway or the mock, depending on
// configuration. Live mode requires credentials; the mock requires none.
func buildExchange(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (gateway.Exchange, *gateway.PriceStream) {
	if cfg.BinanceConfig.MockMode {
		logger.Warn().Msg("mock mode: no real orders will be placed")
		mock := gateway.NewMockExchange(cfg.TradingConfig.InitialBalance)
		return mock, nil
	}

	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		SecretPath: cfg.VaultConfig.SecretPath,
		TLSEnabled: cfg.VaultConfig.TLSEnabled,
		CACert:     cfg.VaultConfig.CACert,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("vault client setup failed")
	}

	creds, err := vaultClient.GetCredentials(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("no exchange credentials available")
	}

	client := gateway.NewBinanceClient(creds.APIKey, creds.SecretKey, cfg.BinanceConfig.BaseURL, logger)
	stream := gateway.NewPriceStream(cfg.TradingConfig.Symbol, cfg.BinanceConfig.WSURL, logger)
	return client, stream
}

func riskConfig(rc config.RiskConfig) risk.Config {
	cfg := risk.DefaultConfig()
	if rc.MaxLossStreak > 0 {
		cfg.MaxLossStreak = rc.MaxLossStreak
	}
	if rc.MaxDrawdown > 0 {
		cfg.MaxDrawdown = rc.MaxDrawdown
	}
	if rc.MinRSI > 0 {
		cfg.MinRSI = rc.MinRSI
	}
	if rc.MaxRSI > 0 {
		cfg.MaxRSI = rc.MaxRSI
	}
	if rc.MaxATRRatio > 0 {
		cfg.MaxATRRatio = rc.MaxATRRatio
	}
	if rc.MinNotional > 0 {
		cfg.MinNotional = rc.MinNotional
	}
	if rc.LossCooldownH > 0 {
		cfg.LossCooldown = time.Duration(rc.LossCooldownH) * time.Hour
	}
	if rc.DrawdownPauseH > 0 {
		cfg.DrawdownCooldown = time.Duration(rc.DrawdownPauseH) * time.Hour
	}
	return cfg
}

func newLogger(lc config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if lc.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
