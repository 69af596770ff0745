package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the tracerelay processes. The capture server and the
// relay worker share one Config; each validates the sections it needs.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	Relay      RelayConfig
	Capture    CaptureConfig
}

type ServerConfig struct {
	Port int
	Env  string
	Demo bool
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers         []string
	ClientID        string
	ConsumerGroup   string
	NackResendSleep time.Duration
}

type ClickHouseConfig struct {
	URL string
}

type RelayConfig struct {
	MetricsPort  int
	CloseTimeout time.Duration
}

type CaptureConfig struct {
	RateLimitPerMin int
	MaxBodyBytes    int64
	ProjectCacheTTL time.Duration
}

// Load reads configuration from environment variables and validates the sections shared by
// both processes. Callers then run ValidateServer or ValidateRelay.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TRACERELAY_PORT", 8080),
			Env:  envString("TRACERELAY_ENV", "development"),
			Demo: envBool("TRACERELAY_DEMO", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:         envList("KAFKA_BROKERS"),
			ClientID:        envString("KAFKA_CLIENT_ID", "tracerelay"),
			ConsumerGroup:   envString("KAFKA_CONSUMER_GROUP", "tracerelay-relay"),
			NackResendSleep: envDuration("KAFKA_NACK_RESEND_SLEEP", time.Second),
		},
		ClickHouse: ClickHouseConfig{
			URL: os.Getenv("CLICKHOUSE_URL"),
		},
		Relay: RelayConfig{
			MetricsPort:  envInt("METRICS_PORT", 9090),
			CloseTimeout: envDuration("RELAY_CLOSE_TIMEOUT", 30*time.Second),
		},
		Capture: CaptureConfig{
			RateLimitPerMin: envInt("CAPTURE_RATE_LIMIT_PER_MIN", 600),
			MaxBodyBytes:    int64(envInt("CAPTURE_MAX_BODY_BYTES", 5<<20)),
			ProjectCacheTTL: envDuration("PROJECT_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("TRACERELAY_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

// ValidateServer checks the settings only the capture server needs.
func (c *Config) ValidateServer() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Capture.MaxBodyBytes <= 0 {
		return fmt.Errorf("CAPTURE_MAX_BODY_BYTES must be positive, got %d", c.Capture.MaxBodyBytes)
	}
	return nil
}

// ValidateRelay checks the settings only the relay worker needs.
func (c *Config) ValidateRelay() error {
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("CLICKHOUSE_URL is required")
	}
	if !strings.HasPrefix(c.ClickHouse.URL, "clickhouse://") && !strings.HasPrefix(c.ClickHouse.URL, "tcp://") {
		return fmt.Errorf("CLICKHOUSE_URL must start with clickhouse:// or tcp://, got %q", c.ClickHouse.URL)
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("KAFKA_CONSUMER_GROUP is required")
	}
	if c.Relay.MetricsPort <= 0 || c.Relay.MetricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 1 and 65535, got %d", c.Relay.MetricsPort)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
