package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Bond funders.
const (
	FunderLedger = "ledger"
	FunderStripe = "stripe"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Store     StoreConfig
	Ledger    LedgerConfig
	Auth      AuthConfig
	Bond      BondConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Enabled turns on the ride cache and idempotency replay when the store is not Redis.
	Enabled bool
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// StoreConfig selects the ride record store.
type StoreConfig struct {
	Backend string
	Migrate bool
}

// LedgerConfig fixes the namespace every ride key is derived in.
type LedgerConfig struct {
	ProgramID string // hex, 32 bytes
	SeedTag   string
}

// AuthConfig controls proof-of-control verification.
type AuthConfig struct {
	Audience    string
	MaxProofAge time.Duration
}

// BondConfig prices and funds the storage bond.
type BondConfig struct {
	Funder              string
	OverheadBytes       uint64
	RatePerByte         uint64
	Faucet              uint64
	StripeKey           string
	StripeCurrency      string
	StripePaymentMethod string
}

// KafkaConfig configures the lifecycle event topic. No brokers means events go to the log.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// TelemetryConfig configures logging and tracing.
type TelemetryConfig struct {
	LogLevel       string
	TracingEnabled bool
	OTLPEndpoint   string
	SampleRatio    float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "rideledger"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 20),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "rideledger"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", StoreMemory),
			Migrate: getBoolEnv("STORE_MIGRATE", false),
		},
		Ledger: LedgerConfig{
			ProgramID: getEnv("LEDGER_PROGRAM_ID", strings.Repeat("00", 32)),
			SeedTag:   getEnv("LEDGER_SEED_TAG", "ride"),
		},
		Auth: AuthConfig{
			Audience:    getEnv("AUTH_AUDIENCE", "rideledger"),
			MaxProofAge: getDurationEnv("AUTH_MAX_PROOF_AGE", 5*time.Minute),
		},
		Bond: BondConfig{
			Funder:              getEnv("BOND_FUNDER", FunderLedger),
			OverheadBytes:       getUint64Env("BOND_OVERHEAD_BYTES", 128),
			RatePerByte:         getUint64Env("BOND_RATE_PER_BYTE", 6960),
			Faucet:              getUint64Env("BOND_FAUCET", 1_000_000_000),
			StripeKey:           getEnv("STRIPE_API_KEY", ""),
			StripeCurrency:      getEnv("STRIPE_CURRENCY", "usd"),
			StripePaymentMethod: getEnv("STRIPE_PAYMENT_METHOD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "ride-events"),
		},
		Telemetry: TelemetryConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TracingEnabled: getBoolEnv("TRACING_ENABLED", false),
			OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
			SampleRatio:    getFloatEnv("TRACING_SAMPLE_RATIO", 1),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be memory, postgres or redis, got %q", c.Store.Backend))
	}

	if _, err := c.Ledger.Program(); err != nil {
		errs = append(errs, err)
	}
	if n := len(c.Ledger.SeedTag); n == 0 || n > 32 {
		errs = append(errs, errors.New("LEDGER_SEED_TAG must be 1 to 32 bytes"))
	}

	switch c.Bond.Funder {
	case FunderLedger:
	case FunderStripe:
		if c.Bond.StripeKey == "" {
			errs = append(errs, errors.New("STRIPE_API_KEY is required when BOND_FUNDER=stripe"))
		}
	default:
		errs = append(errs, fmt.Errorf("BOND_FUNDER must be ledger or stripe, got %q", c.Bond.Funder))
	}
	if c.Bond.RatePerByte == 0 {
		errs = append(errs, errors.New("BOND_RATE_PER_BYTE must be positive"))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if c.NewRelic.Enabled && c.NewRelic.LicenseKey == "" {
		errs = append(errs, errors.New("NEW_RELIC_LICENSE_KEY is required when NEW_RELIC_ENABLED=true"))
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("TRACING_SAMPLE_RATIO must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// Program decodes the hex program id.
func (l LedgerConfig) Program() ([32]byte, error) {
	var program [32]byte
	b, err := hex.DecodeString(l.ProgramID)
	if err != nil || len(b) != len(program) {
		return program, errors.New("LEDGER_PROGRAM_ID must be 32 hex-encoded bytes")
	}
	copy(program[:], b)
	return program, nil
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

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
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

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
