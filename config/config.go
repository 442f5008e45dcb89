package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	BinanceConfig  BinanceConfig  `json:"binance"`
	TradingConfig  TradingConfig  `json:"trading"`
	RiskConfig     RiskConfig     `json:"risk"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	TelegramConfig TelegramConfig `json:"telegram"`
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

type BinanceConfig struct {
	BaseURL  string `json:"base_url"`
	WSURL    string `json:"ws_url"`
	TestNet  bool   `json:"testnet"`
	MockMode bool   `json:"mock_mode"` // Use a simulated exchange, no real orders
}

type TradingConfig struct {
	Symbol            string  `json:"symbol"`
	QuoteAsset        string  `json:"quote_asset"`
	Interval          string  `json:"interval"`       // candle interval, e.g. "1m"
	CycleSeconds      int     `json:"cycle_seconds"`  // seconds between trading cycles
	Leverage          int     `json:"leverage"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	InitialBalance    float64 `json:"initial_balance"` // virtual ledger start, USDT
	MaxSingleTrade    float64 `json:"max_single_trade"`
	MaxSymbolVolume   float64 `json:"max_symbol_volume"`
	ProtectiveOrders  bool    `json:"protective_orders"`

	// ReportHour is the local hour (0-23) for the daily report; -1 disables
	// it. Defaults to 9 when absent. A pointer so that midnight (0) is
	// distinguishable from "not configured".
	ReportHour *int `json:"report_hour"`
}

type RiskConfig struct {
	Mode             string  `json:"mode"` // SAFE, NORMAL, AGGRESSIVE; empty for auto
	MaxLossStreak    int     `json:"max_loss_streak"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MinRSI           float64 `json:"min_rsi"`
	MaxRSI           float64 `json:"max_rsi"`
	MaxATRRatio      float64 `json:"max_atr_ratio"`
	MinNotional      float64 `json:"min_notional"`
	LossCooldownH    int     `json:"loss_cooldown_hours"`
	DrawdownPauseH   int     `json:"drawdown_pause_hours"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
	JWTSecret      string `json:"jwt_secret"`
	TokenHours     int    `json:"token_hours"`
	Operator       string `json:"operator"`
	PasswordHash   string `json:"password_hash"` // bcrypt; empty disables auth
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"`
}

// Load reads config.json when present and applies environment overrides on
// top. Environment variables win.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: BINANCE_API_KEY and BINANCE_API_SECRET are not read here; credential
// resolution goes through the vault client.
func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.WSURL = getEnvOrDefault("BINANCE_WS_URL", cfg.BinanceConfig.WSURL)
	cfg.BinanceConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.BinanceConfig.TestNet)
	cfg.BinanceConfig.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.BinanceConfig.MockMode)

	cfg.TradingConfig.Symbol = getEnvOrDefault("TRADING_SYMBOL", cfg.TradingConfig.Symbol)
	cfg.TradingConfig.Interval = getEnvOrDefault("TRADING_INTERVAL", cfg.TradingConfig.Interval)
	cfg.TradingConfig.CycleSeconds = getEnvIntOrDefault("TRADING_CYCLE_SECONDS", cfg.TradingConfig.CycleSeconds)
	cfg.TradingConfig.Leverage = getEnvIntOrDefault("TRADING_LEVERAGE", cfg.TradingConfig.Leverage)
	cfg.TradingConfig.InitialBalance = getEnvFloatOrDefault("TRADING_INITIAL_BALANCE", cfg.TradingConfig.InitialBalance)
	if v := os.Getenv("TRADING_REPORT_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TradingConfig.ReportHour = &n
		}
	}

	cfg.RiskConfig.Mode = getEnvOrDefault("RISK_MODE", cfg.RiskConfig.Mode)

	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.TelegramConfig.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.TelegramConfig.Enabled)
	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramConfig.BotToken)
	cfg.TelegramConfig.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.TelegramConfig.ChatID)

	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)
	cfg.ServerConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.ServerConfig.JWTSecret)
	cfg.ServerConfig.Operator = getEnvOrDefault("OPERATOR_NAME", cfg.ServerConfig.Operator)
	cfg.ServerConfig.PasswordHash = getEnvOrDefault("OPERATOR_PASSWORD_HASH", cfg.ServerConfig.PasswordHash)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

func applyDefaults(cfg *Config) {
	if cfg.BinanceConfig.BaseURL == "" {
		cfg.BinanceConfig.BaseURL = "https://fapi.binance.com"
	}
	if cfg.BinanceConfig.WSURL == "" {
		cfg.BinanceConfig.WSURL = "wss://fstream.binance.com"
	}
	if cfg.TradingConfig.Symbol == "" {
		cfg.TradingConfig.Symbol = "BTCUSDT"
	}
	if cfg.TradingConfig.QuoteAsset == "" {
		cfg.TradingConfig.QuoteAsset = "USDT"
	}
	if cfg.TradingConfig.Interval == "" {
		cfg.TradingConfig.Interval = "1m"
	}
	if cfg.TradingConfig.CycleSeconds == 0 {
		cfg.TradingConfig.CycleSeconds = 60
	}
	if cfg.TradingConfig.Leverage == 0 {
		cfg.TradingConfig.Leverage = 5
	}
	if cfg.TradingConfig.StopLossPercent == 0 {
		cfg.TradingConfig.StopLossPercent = 0.02
	}
	if cfg.TradingConfig.TakeProfitPercent == 0 {
		cfg.TradingConfig.TakeProfitPercent = 0.03
	}
	if cfg.TradingConfig.InitialBalance == 0 {
		cfg.TradingConfig.InitialBalance = 1000
	}
	if cfg.TradingConfig.MaxSingleTrade == 0 {
		cfg.TradingConfig.MaxSingleTrade = 0.01
	}
	if cfg.TradingConfig.MaxSymbolVolume == 0 {
		cfg.TradingConfig.MaxSymbolVolume = 0.02
	}
	if cfg.TradingConfig.ReportHour == nil {
		hour := 9
		cfg.TradingConfig.ReportHour = &hour
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.TokenHours == 0 {
		cfg.ServerConfig.TokenHours = 24
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
