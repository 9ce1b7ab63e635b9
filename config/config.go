package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the extraction analytics backend
type Config struct {
	Server   ServerConfig
	MQTT     MQTTConfig
	Database DatabaseConfig
	Sheets   SheetsConfig
	Blob     BlobConfig
	ML       MLConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// MQTTConfig holds MQTT broker configuration for instrument results
type MQTTConfig struct {
	Enabled         bool
	BrokerURL       string
	ClientID        string
	Username        string
	Password        string
	KeepAlive       time.Duration
	PingTimeout     time.Duration
	ConnectRetry    bool
	TopicResults    string // per-instrument wildcard topic
	TopicResultsAll string // shared topic for instruments without their own
}

// DatabaseConfig selects and configures the batch record database
type DatabaseConfig struct {
	Driver     string // postgres, sqlite or memory
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// SheetsConfig holds Google Sheets sync settings. An empty SpreadsheetURL
// disables sync.
type SheetsConfig struct {
	SpreadsheetURL  string
	SheetName       string
	CredentialsFile string
	Timeout         time.Duration
}

// BlobConfig selects where model artifacts are kept
type BlobConfig struct {
	Driver         string // fs, memory or s3
	FSRoot         string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKeyID  string
	S3SecretKey    string
	S3UsePathStyle bool
}

// MLConfig controls model training and the optional model overrides file
type MLConfig struct {
	RetrainInterval    time.Duration
	MinTrainingSamples int
	AutoSave           bool
	LoadOnStartup      bool
	ModelConfigPath    string
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Level  string
	Format string // text or json
}

// Load reads .env if present, then builds configuration from environment
// variables with defaults.
func Load() *Config {
	// Missing .env is normal in containers
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		MQTT: MQTTConfig{
			Enabled:         getBoolEnv("MQTT_ENABLED", true),
			BrokerURL:       getMQTTBrokerURL(),
			ClientID:        getEnv("MQTT_CLIENT_ID", "extractlab_backend"),
			Username:        getEnv("MQTT_USERNAME", ""),
			Password:        getEnv("MQTT_PASSWORD", ""),
			KeepAlive:       getDurationEnv("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout:     getDurationEnv("MQTT_PING_TIMEOUT", 10*time.Second),
			ConnectRetry:    getBoolEnv("MQTT_CONNECT_RETRY", true),
			TopicResults:    getEnv("MQTT_TOPIC_RESULTS", "extractlab/instruments/+/results"),
			TopicResultsAll: getEnv("MQTT_TOPIC_RESULTS_ALL", "extractlab/instruments/results"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "extractlab"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "extraction_data.db"),
		},
		Sheets: SheetsConfig{
			SpreadsheetURL:  getEnv("SHEETS_SPREADSHEET_URL", ""),
			SheetName:       getEnv("SHEETS_SHEET_NAME", "Batches"),
			CredentialsFile: getEnv("SHEETS_CREDENTIALS_FILE", ""),
			Timeout:         getDurationEnv("SHEETS_TIMEOUT", 10*time.Second),
		},
		Blob: BlobConfig{
			Driver:         strings.ToLower(getEnv("BLOB_DRIVER", "fs")),
			FSRoot:         getEnv("BLOB_FS_ROOT", "./artifacts"),
			S3Bucket:       getEnv("BLOB_S3_BUCKET", ""),
			S3Region:       getEnv("BLOB_S3_REGION", "us-east-1"),
			S3Endpoint:     getEnv("BLOB_S3_ENDPOINT", ""),
			S3AccessKeyID:  getEnv("BLOB_S3_ACCESS_KEY_ID", ""),
			S3SecretKey:    getEnv("BLOB_S3_SECRET_ACCESS_KEY", ""),
			S3UsePathStyle: getBoolEnv("BLOB_S3_PATH_STYLE", false),
		},
		ML: MLConfig{
			RetrainInterval:    getDurationEnv("ML_RETRAIN_INTERVAL", 0),
			MinTrainingSamples: getIntEnv("ML_MIN_TRAINING_SAMPLES", 10),
			AutoSave:           getBoolEnv("ML_AUTO_SAVE", true),
			LoadOnStartup:      getBoolEnv("ML_LOAD_ON_STARTUP", true),
			ModelConfigPath:    getEnv("ML_MODEL_CONFIG", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}
}

// Validate reports settings that cannot work together
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required for the s3 blob driver")
		}
	default:
		return fmt.Errorf("unsupported BLOB_DRIVER %q", c.Blob.Driver)
	}
	if c.ML.MinTrainingSamples < 2 {
		return fmt.Errorf("ML_MIN_TRAINING_SAMPLES must be at least 2")
	}
	return nil
}

// NewLogger builds the process logger from the logging section
func (c LoggingConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// getEnv returns environment variable value or default if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration environment variable value or default if not set
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getBoolEnv returns boolean environment variable value or default if not set
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated variable
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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getMQTTBrokerURL returns MQTT broker URL with tcp:// prefix if not present
// Supports both "localhost:1883" and "tcp://localhost:1883" formats
func getMQTTBrokerURL() string {
	broker := getEnv("MQTT_BROKER", getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"))

	if !strings.Contains(broker, "://") {
		return "tcp://" + broker
	}
	return broker
}
