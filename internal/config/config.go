package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth
	RefgestAPIKey string

	// LLM provider
	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	LLMMaxAttempts  int
	LLMRetryDelay   time.Duration
	LLMRateLimit    float64
	LLMRateBurst    int

	// Storage
	DBPath string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Downloads
	MaxDownloadBytes int64
	DownloadTimeout  time.Duration

	// Search
	SearchConcurrency int
	DefaultScorer     string

	// Sectioning
	SectionChunkSize int

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		RefgestAPIKey: os.Getenv("REFGEST_API_KEY"),

		LLMProvider:     strings.ToLower(envOr("LLM_PROVIDER", "anthropic")),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     envOr("OPENAI_MODEL", "gpt-4o-mini"),
		LLMMaxAttempts:  envInt("LLM_MAX_ATTEMPTS", 3),
		LLMRetryDelay:   envDuration("LLM_RETRY_DELAY", 2*time.Second),
		LLMRateLimit:    envFloat("LLM_RATE_LIMIT", 0),
		LLMRateBurst:    envInt("LLM_RATE_BURST", 1),

		DBPath: envOr("DB_PATH", "refgest.db"),

		WorkerCount:  envInt("WORKER_COUNT", 3),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxDownloadBytes: envInt64("MAX_DOWNLOAD_BYTES", 52428800), // 50MB
		DownloadTimeout:  envDuration("DOWNLOAD_TIMEOUT", 60*time.Second),

		SearchConcurrency: envInt("SEARCH_CONCURRENCY", 4),
		DefaultScorer:     strings.ToLower(envOr("DEFAULT_SCORER", "count")),

		SectionChunkSize: envInt("SECTION_CHUNK_SIZE", 3),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.LLMMaxAttempts <= 0 {
		cfg.LLMMaxAttempts = 3
	}
	if cfg.LLMRetryDelay < 0 {
		cfg.LLMRetryDelay = 2 * time.Second
	}
	if cfg.LLMRateBurst <= 0 {
		cfg.LLMRateBurst = 1
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 52428800
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = 4
	}
	if cfg.SectionChunkSize <= 0 {
		cfg.SectionChunkSize = 3
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.RefgestAPIKey == "" {
		return fmt.Errorf("REFGEST_API_KEY is required")
	}
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be anthropic or openai, got %q", c.LLMProvider)
	}
	switch c.DefaultScorer {
	case "count", "weighted":
	default:
		return fmt.Errorf("DEFAULT_SCORER must be count or weighted, got %q", c.DefaultScorer)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
