package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort     string
	Store        string
	DSN          string
	SnapshotFile string
	Username     string
	Password     string
	FilterWord   string
	GeocoderFile string

	JWT          JWTConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Audit        AuditConfig
	Prescription PrescriptionConfig

	PharmacyCacheRefresh time.Duration
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	GroupID string
	Topic   string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryDelay   time.Duration
	Lease        time.Duration
}

type AuditConfig struct {
	BatchSize int
	Timeout   time.Duration
	Workers   int
}

type PrescriptionConfig struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

func LoadConfig() *Config {
	brokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	port := getEnv("APP_PORT", "9000")
	return &Config{
		HTTPPort:     port,
		Store:        getEnv("APP_STORE", StoreMemory),
		DSN:          getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=medquote sslmode=disable"),
		SnapshotFile: getEnv("APP_SNAPSHOT_FILE", ""),
		Username:     getEnv("APP_USER", "admin"),
		Password:     getEnv("APP_PASS", "secret"),
		FilterWord:   getEnv("APP_FILTER", ""),
		GeocoderFile: getEnv("GEOCODER_FILE", ""),
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", "medquote"),
			TTL:        getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitList(brokersStr),
			GroupID: getEnv("KAFKA_GROUP_ID", "medquote-notifier"),
			Topic:   getEnv("KAFKA_TOPIC", "medquote.lifecycle"),
		},
		Outbox: OutboxConfig{
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH", 100),
			MaxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 3),
			RetryDelay:   getEnvDuration("OUTBOX_RETRY_DELAY", 2*time.Second),
			Lease:        getEnvDuration("OUTBOX_LEASE", time.Minute),
		},
		Audit: AuditConfig{
			BatchSize: getEnvInt("AUDIT_BATCH_SIZE", 5),
			Timeout:   getEnvDuration("AUDIT_TIMEOUT", 500*time.Millisecond),
			Workers:   getEnvInt("AUDIT_WORKERS", 2),
		},
		Prescription: PrescriptionConfig{
			Dir:      getEnv("PRESCRIPTION_DIR", "./data/prescriptions"),
			BaseURL:  getEnv("PRESCRIPTION_BASE_URL", "http://localhost:"+port+"/files/prescriptions"),
			MaxBytes: int64(getEnvInt("PRESCRIPTION_MAX_BYTES", 5<<20)),
		},
		PharmacyCacheRefresh: getEnvDuration("PHARMACY_CACHE_REFRESH", 30*time.Second),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Store != StorePostgres && c.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("APP_STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store))
	}
	if c.JWT.SigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if c.Prescription.MaxBytes <= 0 {
		errs = append(errs, errors.New("PRESCRIPTION_MAX_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}
