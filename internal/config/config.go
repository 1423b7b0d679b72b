package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `validate:"required"`

	// Credential vault
	EncryptionKey string `validate:"required"`

	// Server
	ServerPort  string `validate:"required"`
	MetricsPort string `validate:"required"`
	APIToken    string

	// Monitor
	CheckInterval        time.Duration `validate:"gt=0"`
	MonitorMaxConcurrent int           `validate:"min=1"`
	RedeliveryInterval   time.Duration `validate:"gt=0"`

	// Cleanup
	CleanupInterval time.Duration `validate:"gt=0"`
	RetentionDays   int           `validate:"min=1"`

	// Scrape
	NavigationTimeout     time.Duration `validate:"gt=0"`
	SelectorTimeout       time.Duration `validate:"gt=0"`
	SettleTimeout         time.Duration `validate:"gt=0"`
	ScrapeHostRPS         float64       `validate:"gt=0"`
	ScrapePreflight       bool
	BrowserExecutablePath string

	// Notification
	DiscordToken    string
	StatusChannelID string

	// Rate Limit
	RateLimitGeneral int `validate:"min=1"`

	// Logging
	LogFile          string
	LogRetentionDays int `validate:"min=1"`
}

var validate = validator.New()

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	if cfg.EncryptionKey == "" {
		missing = append(missing, "ENCRYPTION_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.APIToken = getEnvString("API_TOKEN", "")
	cfg.CheckInterval = getEnvDuration("CHECK_INTERVAL", 5*time.Minute)
	cfg.MonitorMaxConcurrent = getEnvInt("MONITOR_MAX_CONCURRENT", 5)
	cfg.RedeliveryInterval = getEnvDuration("REDELIVERY_INTERVAL", 10*time.Minute)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 7)
	cfg.NavigationTimeout = getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second)
	cfg.SelectorTimeout = getEnvDuration("SELECTOR_TIMEOUT", 3*time.Second)
	cfg.SettleTimeout = getEnvDuration("SETTLE_TIMEOUT", 15*time.Second)
	cfg.ScrapeHostRPS = getEnvFloat("SCRAPE_HOST_RPS", 0.5)
	cfg.ScrapePreflight = getEnvBool("SCRAPE_PREFLIGHT", true)
	cfg.BrowserExecutablePath = getEnvString("BROWSER_EXECUTABLE_PATH", "/usr/bin/chromium")
	cfg.DiscordToken = getEnvString("DISCORD_TOKEN", "")
	cfg.StatusChannelID = getEnvString("STATUS_CHANNEL_ID", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogFile = getEnvString("LOG_FILE", "")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 14)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
