package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Ledger      LedgerConfig
	Backend     BackendConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Lifecycle   LifecycleConfig
	Workers     WorkersConfig
	Retry       RetryConfig
	Schedule    ScheduleConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
}

type HTTPConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxConn      int
	Enabled      bool
	// AuthDisabled serves the API without JWT verification.
	AuthDisabled bool
}

// Ledger drivers.
const (
	LedgerPostgres = "postgres"
	LedgerBolt     = "bolt"
	LedgerDynamoDB = "dynamodb"
	LedgerMemory   = "memory"
)

type LedgerConfig struct {
	Driver   string
	Table    string
	BoltPath string
	PageSize int
}

// Backend drivers.
const (
	BackendAWS    = "aws"
	BackendMemory = "memory"
)

type BackendConfig struct {
	Driver string
	// SeedPath is a JSON directory loaded by the memory backend.
	SeedPath string
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	Enabled      bool
	URL          string
	Password     string
	DB           int
	RunRetention time.Duration
	LockTTL      time.Duration
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type AWSConfig struct {
	Region          string
	Partition       string
	AssumeRoleName  string
	SessionPrefix   string
	SessionDuration time.Duration
	VerifyIdentity  bool
	// Endpoint overrides the IAM and STS endpoints, DynamoDBEndpoint the ledger one.
	Endpoint         string
	DynamoDBEndpoint string
	AccessKeyID      string
	SecretAccessKey  string
}

type LifecycleConfig struct {
	InactiveDays int
	DeleteDays   int
	DryRun       bool
	Accounts     []string
}

type WorkersConfig struct {
	Accounts   int
	Principals int
}

type RetryConfig struct {
	MaxAttempts int
	MinInterval time.Duration
	MaxInterval time.Duration
	Jitter      float64
	CallTimeout time.Duration
}

// ScheduleConfig holds cron specs per mode. An empty spec disables that mode.
type ScheduleConfig struct {
	Enabled    bool
	Sync       string
	Deactivate string
	Delete     string
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOneShot loads configuration for single-run commands, which serve no
// HTTP API and start no scheduler.
func LoadOneShot() (*Config, error) {
	cfg := read()
	cfg.HTTP.Enabled = false
	cfg.Schedule.Enabled = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "iam-cleaner"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:         getString("SERVER_HOST", "0.0.0.0"),
			Port:         getString("SERVER_PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:      getInt("SERVER_MAX_CONN", 0),
			Enabled:      getBool("SERVER_ENABLED", true),
			AuthDisabled: getBool("API_AUTH_DISABLED", false),
		},
		Ledger: LedgerConfig{
			Driver:   getString("LEDGER_DRIVER", LedgerPostgres),
			Table:    getString("LEDGER_TABLE", "iam_ledger"),
			BoltPath: getString("BOLTDB_PATH", "./data/ledger.db"),
			PageSize: getInt("LEDGER_PAGE_SIZE", 500),
		},
		Backend: BackendConfig{
			Driver:   getString("BACKEND_DRIVER", BackendAWS),
			SeedPath: os.Getenv("BACKEND_SEED_PATH"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "iam_cleaner"),
			User:            getString("DB_USER", "iam_cleaner"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:      getBool("REDIS_ENABLED", false),
			URL:          getString("REDIS_URL", "redis://localhost:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           getInt("REDIS_DB", 0),
			RunRetention: getDuration("RUN_RETENTION", 7*24*time.Hour),
			LockTTL:      getDuration("RUN_LOCK_TTL", time.Hour),
		},
		JWT: JWTConfig{
			Secret: os.Getenv("JWT_SECRET"),
			Issuer: getString("JWT_ISSUER", "iam-cleaner"),
		},
		AWS: AWSConfig{
			Region:           getString("AWS_REGION", "us-east-1"),
			Partition:        getString("AWS_PARTITION", "aws"),
			AssumeRoleName:   getString("ASSUME_ROLE_NAME", "iam-list-user-role-tem"),
			SessionPrefix:    getString("SESSION_NAME_PREFIX", "iam-cleaner-session"),
			SessionDuration:  getDuration("SESSION_DURATION", 15*time.Minute),
			VerifyIdentity:   getBool("VERIFY_IDENTITY", true),
			Endpoint:         os.Getenv("AWS_ENDPOINT_URL_IAM"),
			DynamoDBEndpoint: os.Getenv("AWS_ENDPOINT_URL_DYNAMODB"),
			AccessKeyID:      os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:  os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		Lifecycle: LifecycleConfig{
			InactiveDays: getInt("INACTIVE_DAYS", 30),
			DeleteDays:   getInt("DELETE_DAYS", 7),
			DryRun:       getBool("DRY_RUN", false),
			Accounts:     getList("ACCOUNTS", nil),
		},
		Workers: WorkersConfig{
			Accounts:   getInt("WORKERS_ACCOUNTS", 1),
			Principals: getInt("WORKERS_PRINCIPALS", 4),
		},
		Retry: RetryConfig{
			MaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 5),
			MinInterval: getDuration("RETRY_MIN_INTERVAL", 200*time.Millisecond),
			MaxInterval: getDuration("RETRY_MAX_INTERVAL", 10*time.Second),
			Jitter:      getFloat("RETRY_JITTER", 0.2),
			CallTimeout: getDuration("CALL_TIMEOUT", 20*time.Second),
		},
		Schedule: ScheduleConfig{
			Enabled:    getBool("SCHEDULE_ENABLED", true),
			Sync:       getString("SCHEDULE_SYNC", "@every 5m"),
			Deactivate: os.Getenv("SCHEDULE_DEACTIVATE"),
			Delete:     os.Getenv("SCHEDULE_DELETE"),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}
	return cfg
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Ledger.Driver {
	case LedgerPostgres, LedgerBolt, LedgerDynamoDB, LedgerMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown LEDGER_DRIVER %q", c.Ledger.Driver))
	}
	switch c.Backend.Driver {
	case BackendAWS:
		if c.AWS.AssumeRoleName == "" {
			problems = append(problems, "ASSUME_ROLE_NAME is required for the aws backend")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown BACKEND_DRIVER %q", c.Backend.Driver))
	}
	if c.Lifecycle.InactiveDays <= 0 {
		problems = append(problems, "INACTIVE_DAYS must be positive")
	}
	if c.Lifecycle.DeleteDays <= 0 {
		problems = append(problems, "DELETE_DAYS must be positive")
	}
	if c.HTTP.Enabled && c.JWT.Secret == "" && !c.HTTP.AuthDisabled {
		problems = append(problems, "JWT_SECRET is required while SERVER_ENABLED is true (set API_AUTH_DISABLED=true to serve without auth)")
	}
	if c.Workers.Accounts <= 0 || c.Workers.Principals <= 0 {
		problems = append(problems, "WORKERS_ACCOUNTS and WORKERS_PRINCIPALS must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getList splits a comma separated value, dropping blanks.
func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
