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
	DatabaseURL string

	// Facebook
	FacebookAppSecret       string // 空の場合、連携解除コールバックは500を返す
	FacebookPageAccessToken string // リクエストにトークンが無い場合のフォールバック

	// Graph API
	GraphAPIBaseURL      string
	GraphAPIVersion      string
	GraphTimeout         time.Duration
	GraphMaxResponseSize int64

	// Deletion
	DeletionStatusURL     string
	DeletionRetentionDays int
	CleanupInterval       time.Duration

	// Rate Limit（1分あたり、クライアントIPごと）
	RateLimitWebhook int
	RateLimitPages   int

	// X-Forwarded-Forを信頼するプロキシのCIDRまたはIPアドレス
	TrustedProxyCIDRs []string

	// Logging
	LogLevel string

	// Server
	ServerPort           string
	ServerMaxConnections int // 同時接続数の上限（0以下で無制限）
	BaseURL              string

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

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FacebookAppSecret = os.Getenv("FACEBOOK_APP_SECRET")
	cfg.FacebookPageAccessToken = os.Getenv("FACEBOOK_PAGE_ACCESS_TOKEN")
	cfg.GraphAPIBaseURL = getEnvString("GRAPH_API_BASE_URL", "https://graph.facebook.com")
	cfg.GraphAPIVersion = getEnvString("GRAPH_API_VERSION", "v23.0")
	cfg.GraphTimeout = getEnvDuration("GRAPH_TIMEOUT", 10*time.Second)
	cfg.GraphMaxResponseSize = getEnvInt64("GRAPH_MAX_RESPONSE_SIZE", 1048576)
	cfg.DeletionStatusURL = getEnvString("DELETION_STATUS_URL", cfg.BaseURL+"/deletion_status")
	cfg.DeletionRetentionDays = getEnvInt("DELETION_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitWebhook = getEnvInt("RATE_LIMIT_WEBHOOK", 60)
	cfg.RateLimitPages = getEnvInt("RATE_LIMIT_PAGES", 30)
	cfg.TrustedProxyCIDRs = getEnvList("TRUSTED_PROXY_CIDRS")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ServerMaxConnections = getEnvInt("SERVER_MAX_CONNECTIONS", 256)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの値を分割し、空の要素を除いて返す。
func getEnvList(key string) []string {
	var list []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
