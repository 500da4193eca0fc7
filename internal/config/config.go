// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	HealthGRPCPort string
	FrontendURL    string

	Store         StoreConfig
	Storage       StorageConfig
	GenAI         GenAIConfig
	Generation    GenerationConfig
	Events        EventsConfig
	TranscriptLog TranscriptLogConfig
	RateLimit     RateLimitConfig
	SSE           SSEConfig
	Timeout       TimeoutConfig
}

// StoreConfig selects the job and session store.
type StoreConfig struct {
	Driver        string // "sqlite" or "memory"
	DBPath        string
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// StorageConfig selects where notebook content is written.
type StorageConfig struct {
	Backend            string // "local" or "gcs"
	Dir                string
	GCSBucket          string
	GCSCredentialsFile string
	EmulatorHost       string
	SignedURLTTL       time.Duration
}

// GenAIConfig configures the Gemini client. Without an API key the server
// falls back to the built-in catalog and template generator.
type GenAIConfig struct {
	APIKey      string
	Model       string
	CatalogPath string
}

// GenerationConfig is the per-topic retry policy.
type GenerationConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

// EventsConfig enables cross-instance progress events over Redis.
type EventsConfig struct {
	RedisAddr    string
	RedisChannel string
}

// TranscriptLogConfig controls NDJSON assessment transcripts.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// RateLimitConfig throttles model-backed endpoints per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the progress stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// TimeoutConfig holds server-side timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		HealthGRPCPort: getEnv("HEALTH_GRPC_PORT", "9090"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DBPath:        getEnv("DB_PATH", "./data/studyforge.db"),
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		},
		Storage: StorageConfig{
			Backend:            strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			Dir:                getEnv("STORAGE_DIR", "./data/notebooks"),
			GCSBucket:          getEnv("GCS_BUCKET", ""),
			GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			EmulatorHost:       getEnv("STORAGE_EMULATOR_HOST", ""),
			SignedURLTTL:       getEnvDuration("SIGNED_URL_TTL", 15*time.Minute),
		},
		GenAI: GenAIConfig{
			APIKey:      getEnv("GOOGLE_API_KEY", ""),
			Model:       getEnv("GENAI_MODEL", "gemini-2.5-flash"),
			CatalogPath: getEnv("CATALOG_PATH", ""),
		},
		Generation: GenerationConfig{
			MaxAttempts:    getEnvInt("GENERATION_MAX_ATTEMPTS", 2),
			BaseDelay:      getEnvDuration("GENERATION_BASE_DELAY", time.Second),
			AttemptTimeout: getEnvDuration("GENERATION_ATTEMPT_TIMEOUT", 90*time.Second),
		},
		Events: EventsConfig{
			RedisAddr:    getEnv("REDIS_ADDR", ""),
			RedisChannel: getEnv("REDIS_CHANNEL", "studyforge:jobs"),
		},
		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/assessments"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or memory, got %q", c.Store.Driver)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("STORAGE_DIR cannot be empty")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or gcs, got %q", c.Storage.Backend)
	}
	if c.Generation.MaxAttempts <= 0 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be > 0")
	}
	if c.Generation.AttemptTimeout <= 0 {
		return fmt.Errorf("GENERATION_ATTEMPT_TIMEOUT must be > 0")
	}
	if c.TranscriptLog.Enabled && c.TranscriptLog.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.TranscriptLog.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// GenAIEnabled reports whether a Gemini API key is configured.
func (c *Config) GenAIEnabled() bool {
	return c.GenAI.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
