package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// minSessionSecretLength はセッショントークンのHMAC鍵として必要な最小長。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionSecret string
	SessionMaxAge int
	CookieSecure  bool

	// Outbound
	HTTPClientTimeout time.Duration
	HTTPAllowPrivate  bool

	// Rate Limit（req/min）
	RateLimitLogin   int
	RateLimitRewrite int

	// Server
	ServerPort   string
	AllowedHosts []string

	// CORS
	CORSAllowedOrigin string

	// Metrics（空の場合はメトリクスサーバーを起動しない）
	MetricsAddr string

	// Logging
	LogLevel string

	// Revision はページのフッターとUser-Agentに表示するリビジョン。
	Revision string
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

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.HTTPClientTimeout = getEnvDuration("HTTP_CLIENT_TIMEOUT", 10*time.Second)
	cfg.HTTPAllowPrivate = getEnvBool("HTTP_ALLOW_PRIVATE", false)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.RateLimitRewrite = getEnvInt("RATE_LIMIT_REWRITE", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AllowedHosts = getEnvList("ALLOWED_HOSTS")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.MetricsAddr = getEnvString("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.Revision = getEnvString("FEDIURL_REVISION", "dev")

	return cfg, nil
}

// ClientConfig はデータベースを使わないサブコマンド（healthcheck, rewrite）の設定。
type ClientConfig struct {
	// AccessToken はrewriteコマンドがホームインスタンスの検索に使うトークン。
	AccessToken       string
	HTTPClientTimeout time.Duration
	HTTPAllowPrivate  bool
	ServerPort        string
	LogLevel          string
	Revision          string
}

// LoadClient は環境変数からClientConfigを読み込む。必須項目はない。
func LoadClient() *ClientConfig {
	return &ClientConfig{
		AccessToken:       os.Getenv("FEDIURL_ACCESS_TOKEN"),
		HTTPClientTimeout: getEnvDuration("HTTP_CLIENT_TIMEOUT", 10*time.Second),
		HTTPAllowPrivate:  getEnvBool("HTTP_ALLOW_PRIVATE", false),
		ServerPort:        getEnvString("SERVER_PORT", "8080"),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),
		Revision:          getEnvString("FEDIURL_REVISION", "dev"),
	}
}

func getEnvString(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
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
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
