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

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Import        ImportConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Retention     RetentionConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// ImportConfig holds pipeline defaults. CLI flags override them per run.
type ImportConfig struct {
	BatchSize           int
	MaxRetries          int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	StaggerDelay        time.Duration
	SequenceRetries     int
	AutoMatchThreshold  float64
	SimilarityThreshold int
	// MatchCachePath selects a local SQLite match cache instead of Postgres.
	MatchCachePath string
	// FormatsFile adds or replaces source formats from a YAML file.
	FormatsFile string
}

type StorageConfig struct {
	LocalPath string
	BaseURL   string
}

type AuthConfig struct {
	JWTSecret    string
	AccessToken  string
	RefreshToken string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	// MetricsTextfile, when set, receives the metrics in text exposition
	// format after each command, for a node exporter textfile collector.
	MetricsTextfile string
	LogLevel        string
	LogFormat       string
}

type RetentionConfig struct {
	SnapshotMaxAge time.Duration
	ActivityMaxAge time.Duration
	Schedule       string
}

// Load reads configuration from environment variables, after loading a .env
// file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "catalog"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 20),
		},
		Import: ImportConfig{
			BatchSize:           getEnvAsInt("IMPORT_BATCH_SIZE", 10),
			MaxRetries:          getEnvAsInt("IMPORT_MAX_RETRIES", 3),
			RetryBaseDelay:      getEnvAsDuration("IMPORT_RETRY_BASE_DELAY", 250*time.Millisecond),
			RetryMaxDelay:       getEnvAsDuration("IMPORT_RETRY_MAX_DELAY", 5*time.Second),
			StaggerDelay:        getEnvAsDuration("IMPORT_STAGGER_DELAY", 0),
			SequenceRetries:     getEnvAsInt("IMPORT_SEQUENCE_RETRIES", 5),
			AutoMatchThreshold:  getEnvAsFloat("IMPORT_AUTO_MATCH_THRESHOLD", 0.8),
			SimilarityThreshold: getEnvAsInt("IMPORT_SIMILARITY_THRESHOLD", 80),
			MatchCachePath:      getEnv("IMPORT_MATCH_CACHE_PATH", ""),
			FormatsFile:         getEnv("IMPORT_FORMATS_FILE", ""),
		},
		Storage: StorageConfig{
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./data/imports"),
			BaseURL:   getEnv("STORAGE_BASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			AccessToken:  getEnv("IMPORT_ACCESS_TOKEN", ""),
			RefreshToken: getEnv("IMPORT_REFRESH_TOKEN", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
			MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogFormat:       getEnv("LOG_FORMAT", "text"),
		},
		Retention: RetentionConfig{
			SnapshotMaxAge: getEnvAsDuration("RETENTION_SNAPSHOT_MAX_AGE", 30*24*time.Hour),
			ActivityMaxAge: getEnvAsDuration("RETENTION_ACTIVITY_MAX_AGE", 365*24*time.Hour),
			Schedule:       getEnv("RETENTION_SCHEDULE", "0 3 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile applies an explicit env file, overriding variables already set.
func LoadEnvFile(path string) error {
	if err := godotenv.Overload(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Import.BatchSize <= 0 {
		errs = append(errs, errors.New("IMPORT_BATCH_SIZE must be positive"))
	}
	if c.Import.MaxRetries < 0 {
		errs = append(errs, errors.New("IMPORT_MAX_RETRIES must not be negative"))
	}
	if c.Import.RetryMaxDelay < c.Import.RetryBaseDelay {
		errs = append(errs, errors.New("IMPORT_RETRY_MAX_DELAY must not be below IMPORT_RETRY_BASE_DELAY"))
	}
	if c.Import.StaggerDelay < 0 {
		errs = append(errs, errors.New("IMPORT_STAGGER_DELAY must not be negative"))
	}
	if c.Import.AutoMatchThreshold < 0 || c.Import.AutoMatchThreshold > 1 {
		errs = append(errs, errors.New("IMPORT_AUTO_MATCH_THRESHOLD must be between 0 and 1"))
	}
	if c.Import.SimilarityThreshold < 0 || c.Import.SimilarityThreshold > 100 {
		errs = append(errs, errors.New("IMPORT_SIMILARITY_THRESHOLD must be between 0 and 100"))
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.Observability.LogFormat))
	}
	return errors.Join(errs...)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
