package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server            ServerConfig
	Database          DatabaseConfig
	Storage           StorageConfig
	VisualRecognition VisualRecognitionConfig
	Identity          IdentityConfig
	Training          TrainingConfig
	Cleanup           CleanupConfig
	Alerting          AlertingConfig
	Observability     ObservabilityConfig
	Environment       string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// StorageConfig holds the S3-compatible object store that keeps uploaded training images
type StorageConfig struct {
	Endpoint        string // empty means AWS default resolution
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// VisualRecognitionConfig holds settings for calls to the visual recognition service
type VisualRecognitionConfig struct {
	APIVersion         string
	ReadTimeout        time.Duration
	UploadTimeout      time.Duration
	RedeleteDelay      time.Duration
	DefaultExpiryHours int
}

// IdentityConfig holds settings for the API key to bearer token exchange
type IdentityConfig struct {
	URL          string
	Timeout      time.Duration
	CacheSize    int
	CacheTTL     time.Duration
	SafetyMargin time.Duration
}

// TrainingConfig holds limits applied while assembling training archives
type TrainingConfig struct {
	WorkDir             string
	MinImages           int
	MaxImages           int
	MaxArchiveBytes     int64
	DownloadConcurrency int
}

// CleanupConfig holds settings for removal of expired classifiers.
// An Interval of zero disables the in-process worker. RedeleteWait bounds how
// long the batch command stays up for its delayed deletes.
type CleanupConfig struct {
	Interval     time.Duration
	Concurrency  int
	RedeleteWait time.Duration
}

// AlertingConfig holds the Slack webhook used to notify administrators
type AlertingConfig struct {
	SlackWebhookURL    string
	ErrorsChannel      string
	CredentialsChannel string
	Timeout            time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: loadDatabaseConfig(),
		Storage: StorageConfig{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          getEnv("S3_BUCKET", "training-images"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvAsBool("S3_USE_PATH_STYLE", false),
		},
		VisualRecognition: VisualRecognitionConfig{
			APIVersion:         getEnv("VISREC_API_VERSION", "2018-03-19"),
			ReadTimeout:        getEnvAsDuration("VISREC_READ_TIMEOUT", 30*time.Second),
			UploadTimeout:      getEnvAsDuration("VISREC_UPLOAD_TIMEOUT", 120*time.Second),
			RedeleteDelay:      getEnvAsDuration("VISREC_REDELETE_DELAY", 15*time.Minute),
			DefaultExpiryHours: getEnvAsInt("VISREC_DEFAULT_EXPIRY_HOURS", 24),
		},
		Identity: IdentityConfig{
			URL:          getEnv("IAM_URL", "https://iam.cloud.ibm.com/identity/token"),
			Timeout:      getEnvAsDuration("IAM_TIMEOUT", 10*time.Second),
			CacheSize:    getEnvAsInt("IAM_CACHE_SIZE", 500),
			CacheTTL:     getEnvAsDuration("IAM_CACHE_TTL", time.Hour),
			SafetyMargin: getEnvAsDuration("IAM_SAFETY_MARGIN", 5*time.Minute),
		},
		Training: TrainingConfig{
			WorkDir:             getEnv("TRAINING_WORK_DIR", filepath.Join(os.TempDir(), "classifier-training")),
			MinImages:           getEnvAsInt("TRAINING_MIN_IMAGES", 10),
			MaxImages:           getEnvAsInt("TRAINING_MAX_IMAGES", 10000),
			MaxArchiveBytes:     getEnvAsInt64("TRAINING_MAX_ARCHIVE_BYTES", 100*1024*1024),
			DownloadConcurrency: getEnvAsInt("TRAINING_DOWNLOAD_CONCURRENCY", 8),
		},
		Cleanup: CleanupConfig{
			Interval:     getEnvAsDuration("CLEANUP_INTERVAL", 0),
			Concurrency:  getEnvAsInt("CLEANUP_CONCURRENCY", 4),
			RedeleteWait: getEnvAsDuration("CLEANUP_REDELETE_WAIT", 20*time.Minute),
		},
		Alerting: AlertingConfig{
			SlackWebhookURL:    getEnv("SLACK_WEBHOOK_URL", ""),
			ErrorsChannel:      getEnv("SLACK_ERRORS_CHANNEL", "#errors"),
			CredentialsChannel: getEnv("SLACK_CREDENTIALS_CHANNEL", "#credentials"),
			Timeout:            getEnvAsDuration("SLACK_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required in production")
	}

	if c.VisualRecognition.APIVersion == "" {
		return fmt.Errorf("visual recognition API version is required")
	}
	if c.Identity.URL == "" {
		return fmt.Errorf("identity URL is required")
	}
	if c.Identity.CacheSize <= 0 {
		return fmt.Errorf("identity cache size must be positive")
	}

	if c.Training.MinImages < 1 {
		return fmt.Errorf("training min images must be at least 1")
	}
	if c.Training.MaxImages < c.Training.MinImages {
		return fmt.Errorf("training max images must not be below min images")
	}
	if c.Training.MaxArchiveBytes <= 0 {
		return fmt.Errorf("training max archive size must be positive")
	}
	if c.Training.DownloadConcurrency <= 0 {
		return fmt.Errorf("training download concurrency must be positive")
	}
	if c.Cleanup.Concurrency <= 0 {
		return fmt.Errorf("cleanup concurrency must be positive")
	}
	if c.Cleanup.RedeleteWait < 0 {
		return fmt.Errorf("cleanup redelete wait must not be negative")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "mlforkids"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping blank entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
