package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cci-trader/internal/marketdata/angel"
)

// Candle source names accepted in DATA_SOURCE.
const (
	SourceBinance = "binance"
	SourceAngel   = "angel"
	SourceSQLite  = "sqlite"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Candle source: binance | angel | sqlite
	DataSource string

	// Binance
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceMarket    string // spot | futures
	BinanceTestnet   bool

	// Angel One credentials
	AngelAPIKey      string
	AngelClientCode  string
	AngelPassword    string
	AngelTOTPSecret  string
	AngelInstruments string // SYMBOL=EXCHANGE:TOKEN, comma-separated

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string

	// Notifications
	TelegramToken  string
	TelegramChatID int64
	WebhookURL     string

	// Live signals
	StrategyFile    string // YAML file of strategy settings; empty reads Redis
	MinPollInterval time.Duration
	BacktestTimeout time.Duration

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		DataSource: strings.ToLower(getEnv("DATA_SOURCE", SourceBinance)),

		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),
		BinanceMarket:    getEnv("BINANCE_MARKET", "spot"),
		BinanceTestnet:   getEnvBool("BINANCE_TESTNET", false),

		AngelAPIKey:      getEnv("ANGEL_API_KEY", ""),
		AngelClientCode:  getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:    getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret:  getEnv("ANGEL_TOTP_SECRET", ""),
		AngelInstruments: getEnv("ANGEL_INSTRUMENTS", "NIFTY=NSE:99926000"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/cci.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		StrategyFile:    getEnv("STRATEGY_FILE", ""),
		MinPollInterval: getEnvDuration("MIN_POLL_INTERVAL", 15*time.Minute),
		BacktestTimeout: getEnvDuration("BACKTEST_TIMEOUT", 2*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks that the credentials needed by the chosen data source are set.
func (c *Config) Validate() error {
	switch c.DataSource {
	case SourceBinance:
		if c.BinanceMarket != "spot" && c.BinanceMarket != "futures" {
			return fmt.Errorf("BINANCE_MARKET must be spot or futures, got %q", c.BinanceMarket)
		}
	case SourceAngel:
		for key, v := range map[string]string{
			"ANGEL_API_KEY":     c.AngelAPIKey,
			"ANGEL_CLIENT_CODE": c.AngelClientCode,
			"ANGEL_PASSWORD":    c.AngelPassword,
			"ANGEL_TOTP_SECRET": c.AngelTOTPSecret,
		} {
			if v == "" {
				return fmt.Errorf("required env var %s not set for angel data source", key)
			}
		}
	case SourceSQLite:
	default:
		return fmt.Errorf("unknown DATA_SOURCE %q", c.DataSource)
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// ParseInstruments parses AngelInstruments into symbol -> instrument.
// Entries without an exchange default to NSE.
func (c *Config) ParseInstruments() map[string]angel.Instrument {
	out := make(map[string]angel.Instrument)
	for _, p := range strings.Split(c.AngelInstruments, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sym, ref, ok := strings.Cut(p, "=")
		if !ok || sym == "" || ref == "" {
			log.Printf("[config] skipping invalid instrument: %q", p)
			continue
		}
		inst := angel.Instrument{Exchange: "NSE", Token: ref}
		if ex, tok, found := strings.Cut(ref, ":"); found {
			inst = angel.Instrument{Exchange: strings.ToUpper(ex), Token: tok}
		}
		out[strings.ToUpper(sym)] = inst
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
