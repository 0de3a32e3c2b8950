package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// データベースバックエンド
const (
	BackendSQL  = "sql"
	BackendGorm = "gorm"
)

// ワンタイムコードの送付先として使う連絡手段
const (
	ChannelPhone = "phone"
	ChannelEmail = "email"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	// DatabaseURLが空の場合はインメモリストアで動作する。
	DatabaseURL     string
	DatabaseBackend string

	// Session
	SessionSecret          string
	SessionSecretGenerated bool
	SessionMaxAge          int

	// OTP
	ContactChannel     string
	OTPValidityMinutes int

	// SMTP
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Twilio
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Admin seed
	AdminUsername string
	AdminPassword string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitOTP   int
	RateLimitLogin int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load は.envファイルと環境変数からConfigを読み込む。
// 列挙値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	// .envは存在しなくてもよい
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	cfg := &Config{}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.DatabaseBackend = strings.ToLower(getEnvString("DATABASE_BACKEND", BackendSQL))
	if cfg.DatabaseBackend != BackendSQL && cfg.DatabaseBackend != BackendGorm {
		return nil, fmt.Errorf("invalid DATABASE_BACKEND: %q (must be %q or %q)", cfg.DatabaseBackend, BackendSQL, BackendGorm)
	}

	cfg.ContactChannel = strings.ToLower(getEnvString("CONTACT_CHANNEL", ChannelPhone))
	if cfg.ContactChannel != ChannelPhone && cfg.ContactChannel != ChannelEmail {
		return nil, fmt.Errorf("invalid CONTACT_CHANNEL: %q (must be %q or %q)", cfg.ContactChannel, ChannelPhone, ChannelEmail)
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.SessionSecret = secret
		cfg.SessionSecretGenerated = true
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.OTPValidityMinutes = getEnvInt("OTP_VALIDITY_MINUTES", 5)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvString("SMTP_PORT", "587")
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "")
	cfg.TwilioAccountSID = getEnvString("TWILIO_ACCOUNT_SID", "")
	cfg.TwilioAuthToken = getEnvString("TWILIO_AUTH_TOKEN", "")
	cfg.TwilioFromNumber = getEnvString("TWILIO_FROM_NUMBER", "")
	cfg.AdminUsername = getEnvString("ADMIN_USERNAME", "admin")
	cfg.AdminPassword = getEnvString("ADMIN_PASSWORD", "admin123")
	cfg.RateLimitOTP = getEnvInt("RATE_LIMIT_OTP", 10)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

// SMTPConfigured はメール送信に必要な設定が揃っているかを返す。
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// TwilioConfigured はSMS送信に必要な設定が揃っているかを返す。
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// randomSecret はプロセスごとのセッション署名鍵を生成する。
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}
