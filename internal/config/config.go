package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the worker, loaded once at startup.
type Config struct {
	// Redis stream transport.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InputStream   string
	OutputStream  string
	ConsumerGroup string
	ConsumerName  string

	// GCP side channels. ProjectID is required for Vertex AI; the
	// Firestore collection and reports bucket are optional and disable
	// their feature when empty.
	ProjectID           string
	VertexAIRegion      string
	ReportsBucket       string
	FirestoreCollection string

	// Per-stage model identifiers.
	PIIDetectModel  string
	PIIReflectModel string
	NonPIIModel     string

	// Pipeline behavior.
	FetchTimeout      time.Duration
	ClassifyTimeout   time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	FanoutWidth       int
	SampleValues      int
	MaxDownloadBytes  int64
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		InputStream:   getEnv("INPUT_STREAM", "hdx_event_stream"),
		OutputStream:  getEnv("OUTPUT_STREAM", "sdd_report_stream"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "default_group"),
		ConsumerName:  getEnv("CONSUMER_NAME", "consumer-1"),

		ProjectID:           getEnv("PROJECT_ID", ""),
		VertexAIRegion:      getEnv("VERTEX_AI_REGION", "us-central1"),
		ReportsBucket:       getEnv("REPORTS_BUCKET", ""),
		FirestoreCollection: getEnv("FIRESTORE_COLLECTION", ""),

		PIIDetectModel:  getEnv("PII_DETECT_MODEL", "gemini-1.5-flash"),
		PIIReflectModel: getEnv("PII_REFLECT_MODEL", "gemini-1.5-flash"),
		NonPIIModel:     getEnv("NON_PII_DETECT_MODEL", "gemini-1.5-flash"),

		FetchTimeout:      getEnvAsDuration("FETCH_TIMEOUT", 60*time.Second),
		ClassifyTimeout:   getEnvAsDuration("CLASSIFY_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvAsInt("MAX_RETRIES", 3),
		BackoffBase:       getEnvAsDuration("RETRY_BACKOFF", time.Second),
		BackoffMultiplier: getEnvAsFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		FanoutWidth:       getEnvAsInt("FANOUT_WIDTH", 4),
		SampleValues:      getEnvAsInt("SAMPLE_VALUES", 5),
		MaxDownloadBytes:  int64(getEnvAsInt("MAX_DOWNLOAD_BYTES", 100<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.InputStream == "" || c.OutputStream == "" {
		return fmt.Errorf("INPUT_STREAM and OUTPUT_STREAM must be set")
	}
	if c.InputStream == c.OutputStream {
		return fmt.Errorf("INPUT_STREAM and OUTPUT_STREAM must differ")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("RETRY_BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.FanoutWidth <= 0 {
		return fmt.Errorf("FANOUT_WIDTH must be positive")
	}
	if c.SampleValues <= 0 {
		return fmt.Errorf("SAMPLE_VALUES must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
