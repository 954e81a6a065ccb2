package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	AuthJWTSecret string
	DefaultOrgID  int64

	// PublicBaseURL is the externally reachable origin used in invitation
	// accept links.
	PublicBaseURL string

	OTLPEndpoint string

	Bootstrap BootstrapConfig
	Email     EmailConfig
	RateLimit RateLimitConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// BootstrapConfig drives first-run seeding of the default organization and
// its administrator account.
type BootstrapConfig struct {
	OrgName    string
	AdminEmail string
	AdminName  string
}

type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// RateLimitConfig configures the Redis-backed invitation quota. Leaving
// RedisAddr empty disables quota enforcement.
type RateLimitConfig struct {
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	InviteDailyLimit int64
}

func (c RateLimitConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisAddr) != "" && c.InviteDailyLimit > 0
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "atrium"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		DefaultOrgID:  getenvInt64("DEFAULT_ORG", 0),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		Bootstrap: BootstrapConfig{
			OrgName:    getenv("BOOTSTRAP_ORG_NAME", "Main Organization"),
			AdminEmail: strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", "")),
			AdminName:  getenv("BOOTSTRAP_ADMIN_NAME", "Administrator"),
		},
		Email: EmailConfig{
			Enabled:      getenvBool("EMAIL_ENABLED", false),
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@atrium.local"),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:        strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:    getenv("REDIS_PASSWORD", ""),
			RedisDB:          getenvInt("REDIS_DB", 0),
			InviteDailyLimit: getenvInt64("INVITE_DAILY_LIMIT", 0),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
