package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultPort = "8080"

type Config struct {
	Port        string
	Environment string

	Database  DatabaseConfig
	Redis     RedisConfig
	Admin     AdminConfig
	Session   SessionConfig
	RateLimit RateLimitConfig

	CorsAllowedOrigins []string
	SkipMigrations     bool

	// WireCacheSize is the number of converted bills kept in memory (0 disables).
	WireCacheSize int

	// ListCacheTTL controls the redis list cache; zero disables it.
	ListCacheTTL time.Duration

	// PhoneRegion is the default region used to derive E.164 customer phones.
	PhoneRegion string
}

type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	PoolSize int
}

type AdminConfig struct {
	UserId       string
	Email        string
	Password     string
	PasswordHash string
}

type SessionConfig struct {
	CookieName  string
	IdleTimeout time.Duration
	Secure      bool
}

type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int64
	Window      time.Duration
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// IsProduction reports whether GO_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads the whole application config from the environment.
func Load() *Config {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	env := strings.TrimSpace(os.Getenv("GO_ENV"))

	return &Config{
		Port:        port,
		Environment: env,
		Database: DatabaseConfig{
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			Host:            os.Getenv("DB_HOST"),
			Port:            stringFromEnv("DB_PORT", "3306"),
			Name:            os.Getenv("DB_NAME"),
			MaxOpenConns:    intFromEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    intFromEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
		},
		Redis: RedisConfig{
			Address:  strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
			Password: os.Getenv("REDIS_PASSWORD"),
			PoolSize: intFromEnv("REDIS_POOL_SIZE", 100),
		},
		Admin: AdminConfig{
			UserId:       stringFromEnv("ADMIN_USER_ID", "admin"),
			Email:        strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
			Password:     os.Getenv("ADMIN_PASSWORD"),
			PasswordHash: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")),
		},
		Session: SessionConfig{
			CookieName:  stringFromEnv("SESSION_COOKIE_NAME", "bills_session"),
			IdleTimeout: time.Duration(intFromEnv("SESSION_IDLE_MINUTES", 24*60)) * time.Minute,
			Secure:      boolFromEnv("SESSION_COOKIE_SECURE", strings.EqualFold(env, "production")),
		},
		RateLimit: RateLimitConfig{
			Enabled:     boolFromEnv("RATE_LIMIT_ENABLED", false),
			MaxRequests: int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
			Window:      time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		CorsAllowedOrigins: splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
		SkipMigrations:     boolFromEnv("SKIP_MIGRATIONS", false),
		WireCacheSize:      intFromEnv("WIRE_CACHE_SIZE", 1024),
		ListCacheTTL:       time.Duration(intFromEnv("LIST_CACHE_SECONDS", 30)) * time.Second,
		PhoneRegion:        stringFromEnv("DEFAULT_PHONE_REGION", "MM"),
	}
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
