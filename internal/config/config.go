package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Defense  DefenseConfig
	MFA      MFAConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port              string
	Env               string
	LogLevel          string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	TrustForwardedFor bool
	TrustedProxies    []string
}

type AuthConfig struct {
	JWTSecret               string
	AccessTokenExpiry       time.Duration
	LoginRateLimitPerMinute int
	TimingDelayBaseMs       int
	TimingDelayRandomMs     int
	AdminUsername           string
	AdminPassword           string
}

// DefenseConfig holds the attempt-defense knobs
type DefenseConfig struct {
	ChainSecret         string
	FailLimit           int
	FailWindow          time.Duration
	FailMode            models.DegradedMode
	RiskGateSkipPaths   []string
	ReAuthPerRequest    bool
	ReAuthMethods       []string
	ReAuthSkipPaths     []string
	WindowSweepInterval time.Duration

	// ZeroTrustAPIKey enables the API key gate when set
	ZeroTrustAPIKey    string
	ZeroTrustSkipPaths []string
}

type MFAConfig struct {
	EncryptionKey []byte // nil disables enrollment
	Issuer        string
}

// DefaultRiskGateSkipPaths are never blocked by the risk gate, otherwise the
// system could lock operators out of recovery.
var DefaultRiskGateSkipPaths = []string{
	"/metrics", "/ping", "/health", "/healthz",
	"/score",
	"/login", "/register",
	"/api/token",
	"/api/audit/log",
	"/events/auth",
	"/favicon.ico",
}

// TOTPKeyEnv names the variable holding the hex AES-256 key for TOTP secrets
const TOTPKeyEnv = "TOTP_ENCRYPTION_KEY"

// DefaultZeroTrustSkipPaths stay reachable without an API key
var DefaultZeroTrustSkipPaths = []string{
	"/ping", "/health", "/healthz", "/metrics",
	"/login", "/register", "/api/token",
	"/score",
	"/api/audit/log",
}

// DefaultTrustedProxies are the peers whose forwarded headers are believed
// when TRUSTED_PROXIES is unset: loopback and private ranges.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8", "::1/128",
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	"fc00::/7",
}

var DefaultReAuthSkipPaths = []string{
	"/ping", "/health", "/healthz", "/metrics",
	"/favicon.ico",
	"/login", "/register", "/api/token",
	"/score",
	"/api/audit/log",
	"/events/auth",
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	failMode, err := models.ParseDegradedMode(getEnv("POLICY_FAIL_MODE", "open"))
	if err != nil {
		return nil, fmt.Errorf("POLICY_FAIL_MODE: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "stuffguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustForwardedFor: getEnvAsBool("TRUST_FORWARDED_FOR", true),
			TrustedProxies:    getEnvAsList("TRUSTED_PROXIES", append([]string(nil), DefaultTrustedProxies...)),
		},
		Auth: AuthConfig{
			JWTSecret:               jwtSecret,
			AccessTokenExpiry:       getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 30*time.Minute),
			LoginRateLimitPerMinute: getEnvAsInt("LOGIN_RATE_LIMIT_PER_MINUTE", 60),
			TimingDelayBaseMs:       getEnvAsInt("TIMING_DELAY_BASE_MS", 0),
			TimingDelayRandomMs:     getEnvAsInt("TIMING_DELAY_RANDOM_MS", 0),
			AdminUsername:           getEnv("ADMIN_USERNAME", ""),
			AdminPassword:           getEnv("ADMIN_PASSWORD", ""),
		},
		Defense: DefenseConfig{
			ChainSecret:         getEnv("CHAIN_SECRET", jwtSecret),
			FailLimit:           getEnvAsInt("FAIL_LIMIT", 5),
			FailWindow:          time.Duration(getEnvAsInt("FAIL_WINDOW_SECONDS", 60)) * time.Second,
			FailMode:            failMode,
			RiskGateSkipPaths:   mergePaths(DefaultRiskGateSkipPaths, getEnvAsList("POLICY_SKIP_PATHS", nil)),
			ReAuthPerRequest:    getEnvAsBool("REAUTH_PER_REQUEST", false),
			ReAuthMethods:       upper(getEnvAsList("REAUTH_METHODS", []string{"POST", "PUT", "PATCH", "DELETE"})),
			ReAuthSkipPaths:     mergePaths(DefaultReAuthSkipPaths, getEnvAsList("REAUTH_SKIP_PATHS", nil)),
			WindowSweepInterval: getEnvAsDuration("WINDOW_SWEEP_INTERVAL", 5*time.Minute),
			ZeroTrustAPIKey:     getEnv("ZERO_TRUST_API_KEY", ""),
			ZeroTrustSkipPaths:  mergePaths(DefaultZeroTrustSkipPaths, getEnvAsList("ZERO_TRUST_SKIP_PATHS", nil)),
		},
		MFA: MFAConfig{
			Issuer: getEnv("TOTP_ISSUER", "stuffguard"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Defense.FailLimit < 1 {
		return nil, fmt.Errorf("FAIL_LIMIT must be at least 1 (got %d)", cfg.Defense.FailLimit)
	}
	if cfg.Defense.FailWindow <= 0 {
		return nil, fmt.Errorf("FAIL_WINDOW_SECONDS must be positive")
	}

	if err := validateSecret("JWT_SECRET", jwtSecret, env); err != nil {
		return nil, err
	}
	if err := validateSecret("CHAIN_SECRET", cfg.Defense.ChainSecret, env); err != nil {
		return nil, err
	}

	if raw := getEnv(TOTPKeyEnv, ""); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%s must be 64 hex characters (32 bytes)", TOTPKeyEnv)
		}
		cfg.MFA.EncryptionKey = key
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for signing and chain secrets
func validateSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info
func (c *ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping empty entries
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// mergePaths appends extra to base without duplicates, keeping order
func mergePaths(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, p := range append(append([]string{}, base...), extra...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func upper(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(v)
	}
	return out
}
