package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Cache    CacheConfig
	OCR      OCRConfig
	Batch    BatchConfig
	Watch    WatchConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
}

// QueueConfig holds job queue scheduling configuration
type QueueConfig struct {
	SingleWorkers     int
	BatchWorkers      int
	MaxAttempts       int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	SweepInterval     time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// WorkerConfig holds per-task execution limits
type WorkerConfig struct {
	PDFTimeout   time.Duration
	ImageTimeout time.Duration
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	FastSize int
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Language         string
	DPI              int
	MaxPages         int
	Preprocess       bool
	TSVConfidence    bool
	HeicConverter    string
	TessdataDir      string
	ArtifactCacheDir string
}

// BatchConfig holds batch coordination defaults
type BatchConfig struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// WatchConfig holds hot-folder ingestion configuration
type WatchConfig struct {
	Roots    []string
	Debounce time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		Queue: QueueConfig{
			SingleWorkers:     getEnvAsInt("QUEUE_SINGLE_WORKERS", 4),
			BatchWorkers:      getEnvAsInt("QUEUE_BATCH_WORKERS", 2),
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			PollInterval:      getEnvAsDuration("QUEUE_POLL_INTERVAL", 250*time.Millisecond),
			VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 90*time.Second),
			SweepInterval:     getEnvAsDuration("QUEUE_SWEEP_INTERVAL", 5*time.Second),
			BackoffBase:       getEnvAsDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			BackoffMax:        getEnvAsDuration("QUEUE_BACKOFF_MAX", 60*time.Second),
		},
		Worker: WorkerConfig{
			PDFTimeout:   getEnvAsDuration("WORKER_PDF_TIMEOUT", 60*time.Second),
			ImageTimeout: getEnvAsDuration("WORKER_IMAGE_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			FastSize: getEnvAsInt("CACHE_FAST_SIZE", 1024),
		},
		OCR: OCRConfig{
			Language:         getEnv("OCR_LANG", "eng"),
			DPI:              getEnvAsInt("OCR_DPI", 300),
			MaxPages:         getEnvAsInt("OCR_MAX_PAGES", 0),
			Preprocess:       getEnvAsBool("OCR_PREPROCESS", true),
			TSVConfidence:    getEnvAsBool("OCR_TSV_CONFIDENCE", true),
			HeicConverter:    getEnv("HEIC_CONVERTER", "magick"),
			TessdataDir:      getEnv("TESSDATA_PREFIX", ""),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
		},
		Batch: BatchConfig{
			ChunkSize:  getEnvAsInt("BATCH_CHUNK_SIZE", 5),
			ChunkDelay: getEnvAsDuration("BATCH_CHUNK_DELAY", 1*time.Second),
		},
		Watch: WatchConfig{
			Roots:    getEnvAsList("WATCH_DIRS"),
			Debounce: getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Queue.SingleWorkers < 1 || c.Queue.BatchWorkers < 1 {
		return NewAppError("CONFIG_ERROR", "queue worker counts must be at least 1", ErrInvalidInput)
	}
	if c.Queue.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "QUEUE_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Queue.VisibilityTimeout <= c.Worker.PDFTimeout {
		return NewAppError("CONFIG_ERROR", "QUEUE_VISIBILITY_TIMEOUT must exceed WORKER_PDF_TIMEOUT", ErrInvalidInput)
	}
	return nil
}
