package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrMissingAuthSecret  = errors.New("AUTH_SECRET is required when AUTH_REQUIRED=true")
	ErrMissingAdminUser   = errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must not be empty")
	ErrInvalidConcurrency = errors.New("RESPONDER_CONCURRENCY must be > 0")
)

type Config struct {
	Env string

	HTTP      HTTPConfig
	DB        DBConfig
	Admin     AdminConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Responder ResponderConfig
	Log       LogConfig
}

type HTTPConfig struct {
	ListenAddr         string
	HealthPath         string
	MetricsPath        string
	AllowedOrigins     []string
	RateLimitPerMinute int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type AdminConfig struct {
	Username string
	Password string
	Name     string
}

type AuthConfig struct {
	Required bool
	Secret   string
	TokenTTL time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ResponderConfig struct {
	Enabled         bool
	Stream          string
	Group           string
	ConsumerName    string
	Block           time.Duration
	Concurrency     int
	MaxRetries      int
	RepliesPerHour  int64
	DedupeTTL       time.Duration
	BusinessName    string
	FallbackMessage string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env: strings.ToLower(mustEnv("APP_ENV", "development")),
		HTTP: HTTPConfig{
			ListenAddr:         mustEnv("HTTP_LISTEN_ADDR", ":5000"),
			HealthPath:         mustEnv("HEALTH_PATH", "/api/health"),
			MetricsPath:        mustEnv("METRICS_PATH", "/metrics"),
			AllowedOrigins:     mustList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMinute: mustInt("RATE_LIMIT_PER_MINUTE", 300),
			ReadTimeout:        mustDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       mustDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		},
		DB: DBConfig{
			DSN:         mustEnv("DATABASE_URL", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Admin: AdminConfig{
			Username: mustEnv("ADMIN_USERNAME", "admin"),
			Password: mustEnv("ADMIN_PASSWORD", "admin"),
			Name:     mustEnv("ADMIN_NAME", "John Smith"),
		},
		Auth: AuthConfig{
			Required: mustBool("AUTH_REQUIRED", false),
			Secret:   mustEnv("AUTH_SECRET", ""),
			TokenTTL: mustDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Responder: ResponderConfig{
			Enabled:         mustBool("RESPONDER_ENABLED", true),
			Stream:          mustEnv("RESPONDER_STREAM", "chatdesk:replies"),
			Group:           mustEnv("RESPONDER_GROUP", "chatdesk-responders"),
			ConsumerName:    mustEnv("RESPONDER_CONSUMER", hostnameOr("responder")),
			Block:           mustDuration("RESPONDER_BLOCK", 5*time.Second),
			Concurrency:     mustInt("RESPONDER_CONCURRENCY", 2),
			MaxRetries:      mustInt("RESPONDER_MAX_RETRIES", 3),
			RepliesPerHour:  int64(mustInt("RESPONDER_REPLIES_PER_HOUR", 60)),
			DedupeTTL:       mustDuration("RESPONDER_DEDUPE_TTL", 6*time.Hour),
			BusinessName:    mustEnv("BUSINESS_NAME", "Your Company"),
			FallbackMessage: mustEnv("RESPONDER_FALLBACK_MESSAGE", "Thanks for your message! I'm processing your request..."),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	driver, err := ResolveDriver(mustEnv("DB_DRIVER", ""), cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	cfg.DB.Driver = driver

	if cfg.Auth.Required && cfg.Auth.Secret == "" {
		return nil, ErrMissingAuthSecret
	}
	if cfg.Admin.Username == "" || cfg.Admin.Password == "" {
		return nil, ErrMissingAdminUser
	}
	if cfg.Responder.Concurrency < 1 {
		return nil, ErrInvalidConcurrency
	}
	return cfg, nil
}

// ResponderActive reports whether the auto-responder has a backend to run on.
func (c *Config) ResponderActive() bool {
	return c.Responder.Enabled && c.Redis.Addr != ""
}

// ResolveDriver picks the SQL driver from an explicit setting or, failing
// that, from the DSN scheme. An empty DSN yields an empty driver.
func ResolveDriver(explicit, dsn string) (string, error) {
	if d := normalizeDriver(explicit); d != "" {
		if d != DriverPostgres && d != DriverSQLite {
			return "", fmt.Errorf("unsupported DB_DRIVER %q", explicit)
		}
		return d, nil
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", nil
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres, nil
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DriverPostgres, nil
	default:
		return DriverSQLite, nil
	}
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "postgres", "postgresql", "pgx":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return d
	}
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func mustList(key string, def []string) []string {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
