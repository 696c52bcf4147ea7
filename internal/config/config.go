// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"encoding/base64"
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

	// Identity OAuth (Google)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Data Provider OAuth (Fitbit)
	FitbitClientID     string
	FitbitClientSecret string
	FitbitRedirectURL  string
	FitbitScopes       []string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Token encryption
	// base64エンコードされた32バイトのAES-256鍵
	TokenEncryptionKey []byte

	// 許可メールアドレスリスト（小文字で保持）
	AllowedEmails []string

	// Token refresh
	RefreshSafetyMargin time.Duration
	ProviderTimeout     time.Duration

	// Rate Limit
	RateLimitOAuthMax     int
	RateLimitOAuthWindow  time.Duration
	RateLimitAPIKeyMax    int
	RateLimitAPIKeyWindow time.Duration
	RateLimitGeneral      int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// 開発用テストログインの有効化フラグ。本番では必ずfalseにする。
	EnableTestLogin bool

	// Cleanup worker
	CleanupInterval time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// TOKEN_ENCRYPTION_KEYの復号・長さ検証もここで行い、
// 鍵の不備は起動時エラーとして扱う（リクエスト時エラーにしない）。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.FitbitClientID = os.Getenv("FITBIT_CLIENT_ID")
	if cfg.FitbitClientID == "" {
		missing = append(missing, "FITBIT_CLIENT_ID")
	}

	cfg.FitbitClientSecret = os.Getenv("FITBIT_CLIENT_SECRET")
	if cfg.FitbitClientSecret == "" {
		missing = append(missing, "FITBIT_CLIENT_SECRET")
	}

	cfg.FitbitRedirectURL = os.Getenv("FITBIT_REDIRECT_URL")
	if cfg.FitbitRedirectURL == "" {
		missing = append(missing, "FITBIT_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	tokenKey := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if tokenKey == "" {
		missing = append(missing, "TOKEN_ENCRYPTION_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// トークン暗号鍵の検証（base64デコード後に32バイトであること）
	key, err := base64.StdEncoding.DecodeString(tokenKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be base64-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 32 bytes for AES-256, got %d", len(key))
	}
	cfg.TokenEncryptionKey = key

	// 許可メールアドレスリスト（カンマ区切り、小文字に正規化）
	cfg.AllowedEmails = parseEmailList(os.Getenv("ALLOWED_EMAILS"))

	// Optional fields with defaults
	cfg.FitbitScopes = parseScopeList(getEnvString("FITBIT_SCOPES", "nutrition profile"))
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RefreshSafetyMargin = getEnvDuration("REFRESH_SAFETY_MARGIN", 5*time.Minute)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.RateLimitOAuthMax = getEnvInt("RATE_LIMIT_OAUTH_MAX", 10)
	cfg.RateLimitOAuthWindow = getEnvDuration("RATE_LIMIT_OAUTH_WINDOW", time.Minute)
	cfg.RateLimitAPIKeyMax = getEnvInt("RATE_LIMIT_API_KEY_MAX", 60)
	cfg.RateLimitAPIKeyWindow = getEnvDuration("RATE_LIMIT_API_KEY_WINDOW", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.EnableTestLogin = getEnvBool("ENABLE_TEST_LOGIN", false)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)

	return cfg, nil
}

// parseEmailList はカンマ区切りのメールアドレスリストをパースする。
// 各要素は前後空白を除去し小文字に正規化する。空要素は無視する。
func parseEmailList(s string) []string {
	if s == "" {
		return nil
	}
	var emails []string
	for _, e := range strings.Split(s, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

// parseScopeList は空白区切りのスコープリストをパースする。
func parseScopeList(s string) []string {
	return strings.Fields(s)
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
