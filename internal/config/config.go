// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Runtime settings
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, audit trail uses in-memory if not set)

	// Model artifacts
	ModelDir string

	// History retention
	MaxHistory      int
	CompactInterval int

	// Training
	MinTrainTxs  int
	ValSplit     float64
	TestSplit    float64
	Epochs       int
	BatchSize    int
	LearningRate float64
	Patience     int
	Seed         int64

	// Scoring ensemble
	PatternWeight float64
	NeuralWeight  float64
	NeuralEnabled bool

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultModelDir        = "models"
	DefaultMaxHistory      = 10000
	DefaultCompactInterval = 1000
	DefaultMinTrainTxs     = 5
	DefaultValSplit        = 0.2
	DefaultTestSplit       = 0.1
	DefaultEpochs          = 100
	DefaultBatchSize       = 32
	DefaultLearningRate    = 0.001
	DefaultPatience        = 15
	DefaultSeed            = 42
	DefaultPatternWeight   = 0.5
	DefaultNeuralWeight    = 0.5
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelDir:        getEnv("MODEL_DIR", DefaultModelDir),
		MaxHistory:      int(getEnvInt64("MAX_HISTORY", DefaultMaxHistory)),
		CompactInterval: int(getEnvInt64("COMPACT_INTERVAL", DefaultCompactInterval)),
		MinTrainTxs:     int(getEnvInt64("MIN_TRAIN_TXS", DefaultMinTrainTxs)),
		ValSplit:        getEnvFloat("VAL_SPLIT", DefaultValSplit),
		TestSplit:       getEnvFloat("TEST_SPLIT", DefaultTestSplit),
		Epochs:          int(getEnvInt64("EPOCHS", DefaultEpochs)),
		BatchSize:       int(getEnvInt64("BATCH_SIZE", DefaultBatchSize)),
		LearningRate:    getEnvFloat("LEARNING_RATE", DefaultLearningRate),
		Patience:        int(getEnvInt64("PATIENCE", DefaultPatience)),
		Seed:            getEnvInt64("SEED", DefaultSeed),
		PatternWeight:   getEnvFloat("PATTERN_WEIGHT", DefaultPatternWeight),
		NeuralWeight:    getEnvFloat("NEURAL_WEIGHT", DefaultNeuralWeight),
		NeuralEnabled:   getEnvBool("NEURAL_ENABLED", true),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR is required")
	}
	if c.MaxHistory < 1 {
		return fmt.Errorf("MAX_HISTORY must be at least 1")
	}
	if c.CompactInterval < 1 {
		return fmt.Errorf("COMPACT_INTERVAL must be at least 1")
	}
	if c.MinTrainTxs < 1 {
		return fmt.Errorf("MIN_TRAIN_TXS must be at least 1")
	}
	if c.ValSplit <= 0 || c.ValSplit >= 1 {
		return fmt.Errorf("VAL_SPLIT must be between 0 and 1 exclusive")
	}
	if c.TestSplit <= 0 || c.TestSplit >= 1 {
		return fmt.Errorf("TEST_SPLIT must be between 0 and 1 exclusive")
	}
	if c.Epochs < 1 || c.BatchSize < 1 || c.Patience < 1 {
		return fmt.Errorf("EPOCHS, BATCH_SIZE and PATIENCE must be at least 1")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("LEARNING_RATE must be positive")
	}
	if c.PatternWeight < 0 || c.NeuralWeight < 0 || c.PatternWeight+c.NeuralWeight == 0 {
		return fmt.Errorf("ensemble weights must be non-negative and not both zero")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
