// Package config loads docjobs settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names accepted in job parameters.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderVoyage    = "voyage"
	ProviderTiktoken  = "tiktoken"
)

// Document store drivers.
const (
	DriverSolr     = "solr"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Output backends.
const (
	OutputFilesystem = "fs"
	OutputSurrealDB  = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerAddr string

	// Job engine
	MaxConcurrentJobs int
	LogCapacity       int
	StatusLogTail     int
	FetchTimeout      time.Duration
	DefaultBatchSize  int

	// Document store
	DocStoreDriver string
	DocStoreURL    string

	// Output
	OutputBackend string
	OutputDir     string

	// SurrealDB connection (output backend)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Capability providers
	OllamaHost        string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	VoyageAPIKey      string
	AWSRegion         string
	TiktokenEncoding  string
	EmbedBatchCeiling int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ServerAddr: getEnv("DOCJOBS_ADDR", ":8585"),

		MaxConcurrentJobs: getEnvInt("DOCJOBS_MAX_CONCURRENT_JOBS", 4),
		LogCapacity:       getEnvInt("DOCJOBS_LOG_CAPACITY", 300),
		StatusLogTail:     getEnvInt("DOCJOBS_STATUS_LOG_TAIL", 20),
		FetchTimeout:      getEnvDuration("DOCJOBS_FETCH_TIMEOUT", 30*time.Second),
		DefaultBatchSize:  getEnvInt("DOCJOBS_BATCH_SIZE", 1000),

		DocStoreDriver: getEnv("DOCJOBS_DOCSTORE_DRIVER", DriverSolr),
		DocStoreURL:    getEnv("DOCJOBS_DOCSTORE_URL", "http://localhost:8983/solr"),

		OutputBackend: getEnv("DOCJOBS_OUTPUT", OutputFilesystem),
		OutputDir:     getEnv("DOCJOBS_OUTPUT_DIR", "./output"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "docjobs"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "output"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		OllamaHost:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		VoyageAPIKey:      os.Getenv("VOYAGE_API_KEY"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		TiktokenEncoding:  getEnv("DOCJOBS_TIKTOKEN_ENCODING", "cl100k_base"),
		EmbedBatchCeiling: getEnvInt("DOCJOBS_EMBED_BATCH_CEILING", 0),

		LogFile:  getEnv("DOCJOBS_LOG_FILE", "/tmp/docjobs.log"),
		LogLevel: parseLogLevel(getEnv("DOCJOBS_LOG_LEVEL", "INFO")),
	}
}

// Validate checks the values that cannot be defaulted away.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("DOCJOBS_MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs))
	}
	if c.DefaultBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("DOCJOBS_BATCH_SIZE must be positive, got %d", c.DefaultBatchSize))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DOCJOBS_FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout))
	}
	switch c.DocStoreDriver {
	case DriverSolr, DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported document store driver: %q", c.DocStoreDriver))
	}
	switch c.OutputBackend {
	case OutputFilesystem, OutputSurrealDB:
	default:
		errs = append(errs, fmt.Errorf("unsupported output backend: %q", c.OutputBackend))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
