package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	SessionUser string

	RemoteBaseURL string
	RemoteTimeout time.Duration
	PollInterval  time.Duration

	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal

	// DBSource is optional; empty keeps all state in memory.
	DBSource string
	Port     string
	Env      string

	CORSAllowedOrigins []string

	Logger LoggerConfig
}

type LoggerConfig struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		SessionUser:   os.Getenv("SESSION_USER"),
		RemoteBaseURL: strings.TrimRight(getEnvDefault("REMOTE_BASE_URL", "http://localhost:8000"), "/"),
		DBSource:      os.Getenv("DB_SOURCE"),
		Port:          getEnvDefault("SERVER_PORT", "8080"),
		Env:           getEnvDefault("ENVIRONMENT", "development"),
		CORSAllowedOrigins: splitList(getEnvDefault("CORS_ALLOWED_ORIGINS",
			"http://localhost:5173,http://127.0.0.1:5173")),
		Logger: LoggerConfig{
			Level:      getEnvDefault("LOG_LEVEL", "info"),
			Format:     getEnvDefault("LOG_FORMAT", "json"),
			Output:     getEnvDefault("LOG_OUTPUT", "stdout"),
			Filename:   os.Getenv("LOG_FILE"),
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 3,
			Compress:   true,
		},
	}

	if cfg.SessionUser == "" {
		return nil, fmt.Errorf("SESSION_USER is required")
	}

	var err error
	if cfg.RemoteTimeout, err = getDuration("REMOTE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MinAmount, err = getDecimal("INVEST_MIN_AMOUNT", decimal.NewFromInt(100)); err != nil {
		return nil, err
	}
	if cfg.MaxAmount, err = getDecimal("INVEST_MAX_AMOUNT", decimal.NewFromInt(100000)); err != nil {
		return nil, err
	}
	if cfg.MinAmount.GreaterThan(cfg.MaxAmount) {
		return nil, fmt.Errorf("INVEST_MIN_AMOUNT %s exceeds INVEST_MAX_AMOUNT %s", cfg.MinAmount, cfg.MaxAmount)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("SERVER_PORT %q is not a number", cfg.Port)
	}

	return cfg, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func getDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
