package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the carebook service.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DBPool         DBPool
	RedisAddr      string
	RedisPassword  string
	DataStore      string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	FrontendURL    string

	SessionTTL           time.Duration
	AnonymousClientTTL   time.Duration
	AnonymousClientLimit int
	TokenSigningKey      string
	ResolveTimeout       time.Duration
	GuardSettleTimeout   time.Duration
	PhoneRegion          string

	GoogleClientID       string
	GoogleClientSecret   string
	GoogleRedirectURL    string
	GoogleAllowedDomains []string
	GoogleAllowedEmails  []string
}

// DBPool sizes the postgres connection pool.
type DBPool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/carebook_database_url")
	if err != nil {
		return Config{}, err
	}

	redisPassword, err := getEnvOrFile("REDIS_PASSWORD", "/run/secrets/carebook_redis_password")
	if err != nil {
		return Config{}, err
	}

	signingKey, err := getEnvOrFile("TOKEN_SIGNING_KEY", "/run/secrets/carebook_token_signing_key")
	if err != nil {
		return Config{}, err
	}

	googleSecret, err := getEnvOrFile("AUTH_GOOGLE_CLIENT_SECRET", "/run/secrets/carebook_google_client_secret")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		DatabaseURL:    databaseURL,
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  strings.TrimSpace(redisPassword),
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		FrontendURL:    strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:8080"), "/"),

		TokenSigningKey: strings.TrimSpace(signingKey),
		PhoneRegion:     strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "IN")),

		GoogleClientID:       strings.TrimSpace(getEnv("AUTH_GOOGLE_CLIENT_ID", "")),
		GoogleClientSecret:   strings.TrimSpace(googleSecret),
		GoogleRedirectURL:    getEnv("AUTH_GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback"),
		GoogleAllowedDomains: parseCSV(getEnv("AUTH_GOOGLE_ALLOWED_DOMAINS", "")),
		GoogleAllowedEmails:  parseCSV(getEnv("AUTH_GOOGLE_ALLOWED_EMAILS", "")),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 12*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.AnonymousClientTTL, err = getDuration("ANONYMOUS_CLIENT_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AnonymousClientLimit, err = getPositiveInt("ANONYMOUS_CLIENT_LIMIT", 4096); err != nil {
		return Config{}, err
	}
	if cfg.DBPool.MaxOpenConns, err = getPositiveInt("DB_MAX_OPEN_CONNS", 10); err != nil {
		return Config{}, err
	}
	if cfg.DBPool.MaxIdleConns, err = getPositiveInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Config{}, err
	}
	if cfg.DBPool.ConnMaxLifetime, err = getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DBPool.ConnectAttempts, err = getPositiveInt("DB_CONNECT_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.ResolveTimeout, err = getDuration("RESOLVE_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.GuardSettleTimeout, err = getDuration("GUARD_SETTLE_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}

	switch cfg.DataStore {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("DATA_STORE is redis but REDIS_ADDR is not set")
		}
	default:
		return Config{}, fmt.Errorf("unsupported DATA_STORE %q", cfg.DataStore)
	}

	if !cfg.IsDevelopment() {
		if cfg.TokenSigningKey == "" {
			return Config{}, fmt.Errorf("TOKEN_SIGNING_KEY is required when APP_ENV is %q", cfg.Environment)
		}
		if len(cfg.AllowedOrigins) == 0 {
			return Config{}, fmt.Errorf("ALLOWED_ORIGINS must define at least one origin outside development")
		}
		for _, origin := range cfg.AllowedOrigins {
			if origin == "*" {
				return Config{}, fmt.Errorf("ALLOWED_ORIGINS cannot contain wildcard outside development")
			}
		}
	}

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret == "" {
		return Config{}, fmt.Errorf("AUTH_GOOGLE_CLIENT_SECRET is required when AUTH_GOOGLE_CLIENT_ID is set")
	}
	if cfg.OAuthEnabled() && !cfg.IsDevelopment() && len(cfg.GoogleAllowedDomains) == 0 && len(cfg.GoogleAllowedEmails) == 0 {
		return Config{}, fmt.Errorf("AUTH_GOOGLE_ALLOWED_DOMAINS or AUTH_GOOGLE_ALLOWED_EMAILS is required outside development")
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory data store should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// IsDevelopment reports whether the service runs with development defaults.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// OAuthEnabled returns true when Google sign-in is configured.
func (c Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return value, nil
}

func getPositiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return value, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
