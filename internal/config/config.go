package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend selectors
const (
	EventStorePostgres = "postgres"
	EventStoreMemory   = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Cache        CacheConfig
	Security     SecurityConfig
	Monitoring   MonitoringConfig
	Notification NotificationConfig
	Admin        AdminConfig
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
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	LogFile        string
	TrustedProxies []string // CIDRs or IPs allowed to set X-Forwarded-For
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type CacheConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OpTimeout     time.Duration
}

// SecurityConfig holds the inline auth-path policy
type SecurityConfig struct {
	MaxLoginAttempts   int
	LoginAttemptWindow time.Duration
	LockoutDuration    time.Duration
	LockoutMultiplier  float64
	MaxLockoutDuration time.Duration
	LoginRateLimit     int
	LoginRateWindow    time.Duration
	RegisterRateLimit  int
	RegisterRateWindow time.Duration
	ResetRateLimit     int
	ResetRateWindow    time.Duration
	TimingBaseDelay    time.Duration
	TimingRandomDelay  time.Duration
	BcryptCost         int
	EdgeRateLimit      int // requests per minute per IP on the admin API
}

// MonitoringConfig holds the event store, detection and alerting settings
type MonitoringConfig struct {
	EventStore        string
	EventWriteTimeout time.Duration
	Interval          time.Duration
	AutoStart         bool
	DetectionWindow   time.Duration
	RetentionDays     int
	CleanupInterval   time.Duration
	ThresholdsFile    string
	MaxActiveAlerts   int
}

type NotificationConfig struct {
	AdminEmails []string
	AWSRegion   string
	FromAddress string
	SendRate    float64 // emails per second
	NotifyURLs  []string
}

type AdminConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "authguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFile:        getEnv("LOG_FILE", ""),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendMemory)),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			OpTimeout:     getEnvAsDuration("CACHE_OP_TIMEOUT", 100*time.Millisecond),
		},
		Security: SecurityConfig{
			MaxLoginAttempts:   getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			LoginAttemptWindow: getEnvAsDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
			LockoutDuration:    getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			LockoutMultiplier:  getEnvAsFloat("LOCKOUT_MULTIPLIER", 1.5),
			MaxLockoutDuration: getEnvAsDuration("MAX_LOCKOUT_DURATION", 24*time.Hour),
			LoginRateLimit:     getEnvAsInt("LOGIN_RATE_LIMIT", 5),
			LoginRateWindow:    getEnvAsDuration("LOGIN_RATE_WINDOW", 15*time.Minute),
			RegisterRateLimit:  getEnvAsInt("REGISTER_RATE_LIMIT", 3),
			RegisterRateWindow: getEnvAsDuration("REGISTER_RATE_WINDOW", 1*time.Hour),
			ResetRateLimit:     getEnvAsInt("RESET_RATE_LIMIT", 3),
			ResetRateWindow:    getEnvAsDuration("RESET_RATE_WINDOW", 1*time.Hour),
			TimingBaseDelay:    getEnvAsDuration("AUTH_TIMING_BASE_DELAY", 500*time.Millisecond),
			TimingRandomDelay:  getEnvAsDuration("AUTH_TIMING_RANDOM_DELAY", 100*time.Millisecond),
			BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
			EdgeRateLimit:      getEnvAsInt("ADMIN_RATE_LIMIT", 100),
		},
		Monitoring: MonitoringConfig{
			EventStore:        strings.ToLower(getEnv("EVENT_STORE", EventStorePostgres)),
			EventWriteTimeout: getEnvAsDuration("EVENT_WRITE_TIMEOUT", 50*time.Millisecond),
			Interval:          getEnvAsDuration("MONITOR_INTERVAL", 5*time.Minute),
			AutoStart:         getEnvAsBool("MONITOR_AUTOSTART", true),
			DetectionWindow:   getEnvAsDuration("DETECTION_WINDOW", 60*time.Minute),
			RetentionDays:     getEnvAsInt("EVENT_RETENTION_DAYS", 90),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 24*time.Hour),
			ThresholdsFile:    getEnv("ALERT_THRESHOLDS_FILE", ""),
			MaxActiveAlerts:   getEnvAsInt("MAX_ACTIVE_ALERTS", 1000),
		},
		Notification: NotificationConfig{
			AdminEmails: getEnvAsList("ADMIN_ALERT_EMAILS"),
			AWSRegion:   getEnv("AWS_REGION", ""),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			SendRate:    getEnvAsFloat("EMAIL_SEND_RATE", 1),
			NotifyURLs:  getEnvAsList("NOTIFY_URLS"),
		},
		Admin: AdminConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: getEnvAsDuration("ADMIN_TOKEN_EXPIRY", 1*time.Hour),
		},
	}

	if cfg.Monitoring.EventStore == EventStorePostgres && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Monitoring.EventStore {
	case EventStorePostgres, EventStoreMemory:
	default:
		return fmt.Errorf("EVENT_STORE must be %q or %q", EventStorePostgres, EventStoreMemory)
	}

	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q", CacheBackendRedis, CacheBackendMemory)
	}

	positive := map[string]time.Duration{
		"CACHE_OP_TIMEOUT":     c.Cache.OpTimeout,
		"EVENT_WRITE_TIMEOUT":  c.Monitoring.EventWriteTimeout,
		"LOGIN_ATTEMPT_WINDOW": c.Security.LoginAttemptWindow,
		"LOCKOUT_DURATION":     c.Security.LockoutDuration,
		"LOGIN_RATE_WINDOW":    c.Security.LoginRateWindow,
		"REGISTER_RATE_WINDOW": c.Security.RegisterRateWindow,
		"RESET_RATE_WINDOW":    c.Security.ResetRateWindow,
		"MONITOR_INTERVAL":     c.Monitoring.Interval,
		"DETECTION_WINDOW":     c.Monitoring.DetectionWindow,
		"CLEANUP_INTERVAL":     c.Monitoring.CleanupInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}

	atLeastOne := map[string]int{
		"MAX_LOGIN_ATTEMPTS":   c.Security.MaxLoginAttempts,
		"LOGIN_RATE_LIMIT":     c.Security.LoginRateLimit,
		"REGISTER_RATE_LIMIT":  c.Security.RegisterRateLimit,
		"RESET_RATE_LIMIT":     c.Security.ResetRateLimit,
		"EVENT_RETENTION_DAYS": c.Monitoring.RetentionDays,
		"MAX_ACTIVE_ALERTS":    c.Monitoring.MaxActiveAlerts,
	}
	for key, v := range atLeastOne {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1", key)
		}
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}

	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
