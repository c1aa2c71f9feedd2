package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	NewRelic     NewRelicConfig
	Log          LogConfig
	MPesa        MPesaConfig
	Callback     CallbackConfig
	Admin        AdminConfig
	Reconcile    ReconcileConfig
	Checkout     CheckoutConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	AutoMigrate bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds structured logging configuration.
type LogConfig struct {
	Level     string
	Env       string
	AddSource bool
}

// MPesaConfig holds Daraja API credentials. With Simulate set no external calls are made.
type MPesaConfig struct {
	BaseURL           string
	ConsumerKey       string
	ConsumerSecret    string
	ShortCode         string
	PassKey           string
	TransactionType   string
	AccountReference  string
	RequestTimeout    time.Duration
	StatusQueryPerSec float64
	Simulate          bool
}

// CallbackConfig holds settings for the gateway callback endpoint.
type CallbackConfig struct {
	BaseURL      string
	TokenSecret  string
	TokenTTL     time.Duration
	AllowedCIDRs []string
}

// AdminConfig holds admin API authentication settings.
type AdminConfig struct {
	JWTSecret string
}

// ReconcileConfig controls callback handling and the status poller.
type ReconcileConfig struct {
	LockTTL        time.Duration
	LockWait       time.Duration
	LookupAttempts int
	LookupBackoff  time.Duration
	CallbackWindow time.Duration
	ExpireAfter    time.Duration
	PollInterval   time.Duration
	PollBatchSize  int
	PollerEnabled  bool
}

// CheckoutConfig holds order building limits.
type CheckoutConfig struct {
	MaxLineQuantity int
	MaxLines        int
}

// NotificationConfig holds the confirmation notifier settings. An empty WebhookURL logs instead.
type NotificationConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DevelopmentEnv is the APP_ENV value under which placeholder secrets and the gateway
// simulator are accepted.
const DevelopmentEnv = "development"

const (
	defaultCallbackSecret = "change-me-callback"
	defaultAdminSecret    = "change-me-admin"
)

// ErrInsecureConfig is returned by Load outside development when a secret is unset or
// still a placeholder, or when the gateway simulator is on.
var ErrInsecureConfig = errors.New("insecure configuration")

// Load loads configuration from environment variables and validates it.
// A .env file in the working directory is read first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getListEnv("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "duka"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "duka-orders"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Env:       getEnv("APP_ENV", DevelopmentEnv),
			AddSource: getBoolEnv("LOG_ADD_SOURCE", false),
		},
		MPesa: MPesaConfig{
			BaseURL:           getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:       getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:    getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:         getEnv("MPESA_SHORTCODE", "174379"),
			PassKey:           getEnv("MPESA_PASSKEY", ""),
			TransactionType:   getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			AccountReference:  getEnv("MPESA_ACCOUNT_REFERENCE", "DUKA"),
			RequestTimeout:    getDurationEnv("MPESA_REQUEST_TIMEOUT", 15*time.Second),
			StatusQueryPerSec: getFloatEnv("MPESA_STATUS_QUERY_PER_SEC", 2),
			Simulate:          getBoolEnv("MPESA_SIMULATE", true),
		},
		Callback: CallbackConfig{
			BaseURL:      getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
			TokenSecret:  getEnv("CALLBACK_TOKEN_SECRET", defaultCallbackSecret),
			TokenTTL:     getDurationEnv("CALLBACK_TOKEN_TTL", 24*time.Hour),
			AllowedCIDRs: getListEnv("CALLBACK_ALLOWED_CIDRS", nil),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", defaultAdminSecret),
		},
		Reconcile: ReconcileConfig{
			LockTTL:        getDurationEnv("RECONCILE_LOCK_TTL", 30*time.Second),
			LockWait:       getDurationEnv("RECONCILE_LOCK_WAIT", 5*time.Second),
			LookupAttempts: getIntEnv("RECONCILE_LOOKUP_ATTEMPTS", 3),
			LookupBackoff:  getDurationEnv("RECONCILE_LOOKUP_BACKOFF", 200*time.Millisecond),
			CallbackWindow: getDurationEnv("RECONCILE_CALLBACK_WINDOW", 90*time.Second),
			ExpireAfter:    getDurationEnv("RECONCILE_EXPIRE_AFTER", 10*time.Minute),
			PollInterval:   getDurationEnv("RECONCILE_POLL_INTERVAL", 30*time.Second),
			PollBatchSize:  getIntEnv("RECONCILE_POLL_BATCH_SIZE", 50),
			PollerEnabled:  getBoolEnv("RECONCILE_POLLER_ENABLED", true),
		},
		Checkout: CheckoutConfig{
			MaxLineQuantity: getIntEnv("CHECKOUT_MAX_LINE_QUANTITY", 100),
			MaxLines:        getIntEnv("CHECKOUT_MAX_LINES", 50),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFICATION_WEBHOOK_URL", ""),
			Timeout:    getDurationEnv("NOTIFICATION_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getFloatEnv("RATE_LIMIT_RPS", 10),
			Burst:             getIntEnv("RATE_LIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would let callers forge callbacks or admin tokens.
// Everything is accepted in development.
func (c *Config) Validate() error {
	if c.Log.Env == DevelopmentEnv {
		return nil
	}

	var errs []error
	if c.Callback.TokenSecret == "" || c.Callback.TokenSecret == defaultCallbackSecret {
		errs = append(errs, fmt.Errorf("%w: CALLBACK_TOKEN_SECRET must be set", ErrInsecureConfig))
	}
	if c.Admin.JWTSecret == "" || c.Admin.JWTSecret == defaultAdminSecret {
		errs = append(errs, fmt.Errorf("%w: ADMIN_JWT_SECRET must be set", ErrInsecureConfig))
	}
	if c.MPesa.Simulate {
		errs = append(errs, fmt.Errorf("%w: MPESA_SIMULATE is only allowed in %s", ErrInsecureConfig, DevelopmentEnv))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty entries.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
