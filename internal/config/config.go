package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session
	SessionMaxAge int

	// Retention
	ActivityRetention time.Duration
	InvitationTTL     time.Duration
	RetentionInterval time.Duration

	// Outbox
	OutboxDrainInterval time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int

	// Rate Limit
	RateLimitGeneral int
	RateLimitInvite  int

	// Cache
	RedisAddr         string
	DashboardCacheTTL time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.ActivityRetention = getEnvDuration("ACTIVITY_RETENTION", 90*24*time.Hour)
	cfg.InvitationTTL = getEnvDuration("INVITATION_TTL", 7*24*time.Hour)
	cfg.RetentionInterval = getEnvDuration("RETENTION_INTERVAL", 24*time.Hour)
	cfg.OutboxDrainInterval = getEnvDuration("OUTBOX_DRAIN_INTERVAL", 15*time.Second)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxAttempts = getEnvInt("OUTBOX_MAX_ATTEMPTS", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitInvite = getEnvInt("RATE_LIMIT_INVITE", 10)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.DashboardCacheTTL = getEnvDuration("DASHBOARD_CACHE_TTL", 30*time.Second)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
