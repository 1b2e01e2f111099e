package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Store    StoreConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend   string // "local" or "minio"
	Root      string // local backend: root directory
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string // optional key prefix inside the bucket
}

// LLMConfig holds model-related configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
}

// PipelineConfig holds batch-processing configuration
type PipelineConfig struct {
	Workers     int
	DocTimeout  time.Duration
	SchemasPath string
	LedgerPath  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   getEnv("STORE_BACKEND", "local"),
			Root:      getEnv("STORE_ROOT", "./data"),
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "invoices"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			Prefix:    getEnv("STORE_PREFIX", ""),
		},
		LLM: LLMConfig{
			Model:       getEnv("GEMINI_MODEL", "gemini-1.5-pro-latest"),
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			BaseURL:     getEnv("GEMINI_BASE_URL", ""),
			Temperature: getEnvAsFloat32("GEMINI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("GEMINI_TIMEOUT", 60*time.Second),
			MaxRetries:  getEnvAsInt("GEMINI_MAX_RETRIES", 2),
		},
		Pipeline: PipelineConfig{
			Workers:     getEnvAsInt("PIPELINE_WORKERS", 4),
			DocTimeout:  getEnvAsDuration("PIPELINE_DOC_TIMEOUT", 3*time.Minute),
			SchemasPath: getEnv("SCHEMAS_PATH", "./schemas.yaml"),
			LedgerPath:  getEnv("LEDGER_PATH", ""),
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Store.Backend != "local" && c.Store.Backend != "minio" {
		return NewAppError("CONFIG_ERROR", "STORE_BACKEND must be 'local' or 'minio'", ErrInvalidInput)
	}
	if c.Store.Backend == "minio" && c.Store.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "MINIO_ENDPOINT is required for the minio backend", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Pipeline.SchemasPath == "" {
		return NewAppError("CONFIG_ERROR", "SCHEMAS_PATH is required", ErrInvalidInput)
	}
	return nil
}
