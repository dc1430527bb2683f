package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the credits service.
type Config struct {
	HTTPPort  string
	JWTSecret []byte

	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Risk     RiskConfig
	Admin    AdminConfig
	Audit    AuditConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	AccountCacheSize int
	AccountCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig holds ledger behavior settings
type LedgerConfig struct {
	// SignupBonusCredits is the free grant given to every new account.
	SignupBonusCredits float64

	// MaxRetries / RetryBackoff bound the retry loop around transient
	// storage failures. After the retries exhaust the request fails closed.
	MaxRetries   int
	RetryBackoff time.Duration
}

// RiskConfig holds risk scorer settings
type RiskConfig struct {
	// FailClosed controls what happens when signal collection fails.
	// The original behavior is fail-open (allow with an audit entry).
	FailClosed bool

	// DisposableEmailPatterns are substrings matched against the email
	// domain at signup-time scoring.
	DisposableEmailPatterns []string

	// TempBanDuration is applied when a critical score triggers a ban.
	TempBanDuration time.Duration
}

// AdminConfig holds the static admin override allow-lists
type AdminConfig struct {
	Emails     []string
	AccountIDs []string
}

// AuditConfig holds configuration for the S3-based decision audit sink
type AuditConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}

	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultDisposablePatterns matches the domains the study app flagged at signup.
var defaultDisposablePatterns = []string{
	"tempmail",
	"throwaway",
	"guerrillamail",
	"mailinator",
	"10minutemail",
	"trashmail",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnvString("HTTP_PORT", "8080")
	jwtSecret := []byte(getEnvString("JWT_SECRET", "supersecretkey"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	disposable := getEnvList("RISK_DISPOSABLE_EMAIL_PATTERNS")
	if disposable == nil {
		disposable = defaultDisposablePatterns
	}

	cfg := &Config{
		HTTPPort:  port,
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			AccountCacheSize: getEnvInt("CACHE_ACCOUNT_SIZE", 1000),
			AccountCacheTTL:  getEnvDuration("CACHE_ACCOUNT_TTL", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Ledger: LedgerConfig{
			SignupBonusCredits: getEnvFloat("SIGNUP_BONUS_CREDITS", 100),
			MaxRetries:         getEnvInt("LEDGER_MAX_RETRIES", 3),
			RetryBackoff:       getEnvDuration("LEDGER_RETRY_BACKOFF", 100*time.Millisecond),
		},
		Risk: RiskConfig{
			FailClosed:              getEnvBool("RISK_FAIL_CLOSED", false),
			DisposableEmailPatterns: disposable,
			TempBanDuration:         getEnvDuration("RISK_TEMP_BAN_DURATION", 7*24*time.Hour),
		},
		Admin: AdminConfig{
			Emails:     getEnvList("ADMIN_EMAILS"),
			AccountIDs: getEnvList("ADMIN_ACCOUNT_IDS"),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("AUDIT_SINK_ENABLED", false),
			BufferSize:    getEnvInt("AUDIT_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("AUDIT_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("AUDIT_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("AUDIT_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("AUDIT_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("AUDIT_SINK_S3_PREFIX", "audit/"),
			PodName:       getEnvString("POD_NAME", "credits-0"),
		},
	}

	return cfg, nil
}
