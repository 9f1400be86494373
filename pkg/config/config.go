package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot.
type Config struct {
	Port string

	// Exchange session. EXCHANGE=paper (default) means no session.
	Exchange          string
	ExchangeAPIKey    string
	ExchangeAPISecret string
	ExchangeTestnet   bool
	AllowedSymbols    []string
	DefaultSymbol     string
	Interval          string
	TickerCacheTTL    time.Duration
	ReconcileInterval time.Duration

	// Live gating
	AllowLive        bool
	LiveConfirmToken string
	DryRun           bool

	// Backend proxy
	BackendURL     string
	BackendUserID  string
	BackendTimeout time.Duration
	BackendEnabled bool

	// Paper trading
	PaperPrice          float64
	PaperStartingEquity float64

	// Risk overrides; zero means default. Hard limits always apply.
	RiskMaxPositionPct  float64
	RiskTrailingStopPct float64
	RiskMaxDrawdownPct  float64
	RiskMaxConsecLosses int
	RiskMinTradeUSD     float64
	RiskMaxTradeUSD     float64
	RiskPaperLossCheck  bool

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	NotifyWebhookURL string

	// Storage
	StateBackend    string // "json" (default) or "sqlite"
	StatePath       string
	DBPath          string
	CredentialsPath string
	CredentialsKey  string
	StrategiesPath  string

	// Model worker
	PredictorAddr string

	// Auth
	JWTSecret string

	// Localization and logging
	Language  string // "en" or "zh"
	LogLevel  string
	LogFormat string // "json" or "console"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Key/secret: prefer EXCHANGE_*, then BINANCE_* for older .env files.
	apiKey := getEnv("EXCHANGE_API_KEY", os.Getenv("BINANCE_API_KEY"))
	apiSecret := getEnv("EXCHANGE_API_SECRET", os.Getenv("BINANCE_API_SECRET"))

	symbols := splitAndTrim(getEnv("ALLOWED_SYMBOLS", "BTC/USDT,ETH/USDT"))

	return &Config{
		Port:                getEnv("PORT", "8080"),
		Exchange:            strings.ToLower(getEnv("EXCHANGE", "paper")),
		ExchangeAPIKey:      apiKey,
		ExchangeAPISecret:   apiSecret,
		ExchangeTestnet:     getEnvBool("EXCHANGE_TESTNET", false),
		AllowedSymbols:      symbols,
		DefaultSymbol:       getEnv("SYMBOL", first(symbols, "BTC/USDT")),
		Interval:            getEnv("INTERVAL", "1h"),
		TickerCacheTTL:      time.Duration(getEnvFloat("TICKER_CACHE_TTL", 2) * float64(time.Second)),
		ReconcileInterval:   time.Duration(getEnvFloat("RECONCILE_INTERVAL", 300) * float64(time.Second)),
		AllowLive:           getEnvBool("ALLOW_LIVE", false),
		LiveConfirmToken:    os.Getenv("LIVE_CONFIRM_TOKEN"),
		DryRun:              getEnvBool("DRY_RUN", false),
		BackendURL:          strings.TrimRight(getEnv("BACKEND_API_URL", "http://localhost:8000"), "/"),
		BackendUserID:       os.Getenv("BACKEND_USER_ID"),
		BackendTimeout:      time.Duration(getEnvFloat("BACKEND_TIMEOUT", 5) * float64(time.Second)),
		BackendEnabled:      getEnvBool("BACKEND_ENABLED", false),
		PaperPrice:          getEnvFloat("PAPER_PRICE", 50000),
		PaperStartingEquity: getEnvFloat("PAPER_STARTING_EQUITY", 10000),
		RiskMaxPositionPct:  getEnvFloat("RISK_MAX_POSITION_PCT", 0),
		RiskTrailingStopPct: getEnvFloat("RISK_TRAILING_STOP_PCT", 0),
		RiskMaxDrawdownPct:  getEnvFloat("RISK_MAX_DRAWDOWN_PCT", 0),
		RiskMaxConsecLosses: getEnvInt("RISK_MAX_CONSEC_LOSSES", 0),
		RiskMinTradeUSD:     getEnvFloat("RISK_MIN_TRADE_USD", 0),
		RiskMaxTradeUSD:     getEnvFloat("RISK_MAX_TRADE_USD", 0),
		RiskPaperLossCheck:  getEnvBool("RISK_PAPER_LOSS_CHECK", false),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      os.Getenv("TELEGRAM_CHAT_ID"),
		NotifyWebhookURL:    os.Getenv("NOTIFY_WEBHOOK_URL"),
		StateBackend:        strings.ToLower(getEnv("STATE_BACKEND", "json")),
		StatePath:           getEnv("STATE_PATH", "state.json"),
		DBPath:              getEnv("DB_PATH", "./data/cryptopiggy.db"),
		CredentialsPath:     getEnv("CREDENTIALS_PATH", ".cryptopiggy/credentials.json"),
		CredentialsKey:      os.Getenv("CREDENTIALS_KEY"),
		StrategiesPath:      getEnv("STRATEGIES_PATH", "strategies.yaml"),
		PredictorAddr:       os.Getenv("PREDICTOR_ADDR"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		Language:            getEnv("LANGUAGE", "en"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "console")),
	}, nil
}

// ExchangeConfigured reports whether a real venue is selected.
func (c *Config) ExchangeConfigured() bool {
	return c.Exchange != "" && c.Exchange != "paper"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func first(vals []string, def string) string {
	if len(vals) == 0 {
		return def
	}
	return vals[0]
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
