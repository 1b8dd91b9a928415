package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends for the ledger.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Ledger   LedgerConfig
	Postgres PostgresConfig
	Badger   BadgerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Catalog  CatalogConfig
	Cooldown CooldownConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LedgerConfig selects the store and hashing schema.
type LedgerConfig struct {
	Store          string
	SchemaVersion  uint16
	VerifyInterval time.Duration
	VerifyPageSize int
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type BadgerConfig struct {
	Path       string
	SyncWrites bool
}

// RedisConfig is optional; an empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig is optional; no brokers disables the exporter.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	Partitions     int32
	Replication    int16
	ExportInterval time.Duration
	ExportBatch    int
}

type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	// AdminToken guards operator routes; empty disables them.
	AdminToken string
}

// CatalogConfig points at optional YAML files extending the built-in tables.
type CatalogConfig struct {
	ParametersPath string
	ActorsPath     string
}

type CooldownConfig struct {
	Enforce bool
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getEnv("AFTERIMAGE_ADDR", ":8080"),
			ReadTimeout:     getDuration("AFTERIMAGE_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("AFTERIMAGE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDuration("AFTERIMAGE_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Ledger: LedgerConfig{
			Store:          strings.ToLower(getEnv("LEDGER_STORE", StoreBadger)),
			SchemaVersion:  uint16(getInt("LEDGER_SCHEMA_VERSION", 1)),
			VerifyInterval: getDuration("LEDGER_VERIFY_INTERVAL", 5*time.Minute),
			VerifyPageSize: getInt("LEDGER_VERIFY_PAGE_SIZE", 500),
		},
		Postgres: PostgresConfig{
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Badger: BadgerConfig{
			Path:       getEnv("BADGER_PATH", "./data/ledger"),
			SyncWrites: getBool("BADGER_SYNC_WRITES", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:          getEnv("KAFKA_LEDGER_TOPIC", "afterimage.ledger.records"),
			Partitions:     int32(getInt("KAFKA_LEDGER_PARTITIONS", 1)),
			Replication:    int16(getInt("KAFKA_LEDGER_REPLICATION", 1)),
			ExportInterval: getDuration("KAFKA_EXPORT_INTERVAL", time.Second),
			ExportBatch:    getInt("KAFKA_EXPORT_BATCH", 100),
		},
		Auth: AuthConfig{
			// Use a default for development - should be overridden in production
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        os.Getenv("JWT_ISSUER"),
			AdminToken:    os.Getenv("ADMIN_API_TOKEN"),
		},
		Catalog: CatalogConfig{
			ParametersPath: os.Getenv("CATALOG_PATH"),
			ActorsPath:     os.Getenv("ACTORS_PATH"),
		},
		Cooldown: CooldownConfig{
			Enforce: getBool("COOLDOWN_ENFORCE", true),
		},
	}
}

// Validate checks cross-field rules.
func (c Config) Validate() error {
	switch c.Ledger.Store {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("LEDGER_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown LEDGER_STORE %q", c.Ledger.Store)
	}
	if c.Ledger.Store == StoreBadger && c.Badger.Path == "" {
		return fmt.Errorf("LEDGER_STORE=badger requires BADGER_PATH")
	}
	if c.Ledger.SchemaVersion != 1 && c.Ledger.SchemaVersion != 2 {
		return fmt.Errorf("LEDGER_SCHEMA_VERSION must be 1 or 2, got %d", c.Ledger.SchemaVersion)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_LEDGER_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
