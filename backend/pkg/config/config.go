package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	apperrors "deepintrospect/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	GraphStore       string // "neo4j" or "memory"
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string
	Neo4jMaxPoolSize int

	// Row store and cache; empty means in-memory store / no cache
	DatabaseURL     string
	RedisURL        string
	SummaryCacheTTL time.Duration

	// AI
	LiteLLMURL           string
	ModelID              string
	OpenRouterAPIKey     string
	LLMMaxTokens         int
	LLMRequestsPerSecond float64
	LLMBurst             int

	// Pipeline
	ExtractionCallTimeout time.Duration
	PipelineJobTimeout    time.Duration
	PipelineWorkers       int
	PipelineQueueSize     int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		GraphStore:            getEnv("GRAPH_STORE", "neo4j"),
		Neo4jURI:              getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:             getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:         getEnv("NEO4J_PASSWORD", "password"),
		Neo4jMaxPoolSize:      getEnvInt("NEO4J_MAX_POOL_SIZE", 50),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		SummaryCacheTTL:       getEnvDuration("SUMMARY_CACHE_TTL", 10*time.Minute),
		LiteLLMURL:            getEnv("LITELLM_URL", "http://localhost:4000"),
		ModelID:               getEnv("MODEL_ID", "openai/gpt-4o-mini"),
		OpenRouterAPIKey:      getEnv("OPENROUTER_API_KEY", ""),
		LLMMaxTokens:          getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMRequestsPerSecond:  getEnvFloat("LLM_REQUESTS_PER_SECOND", 5),
		LLMBurst:              getEnvInt("LLM_BURST", 10),
		ExtractionCallTimeout: getEnvDuration("EXTRACTION_CALL_TIMEOUT", 45*time.Second),
		PipelineJobTimeout:    getEnvDuration("PIPELINE_JOB_TIMEOUT", 2*time.Minute),
		PipelineWorkers:       getEnvInt("PIPELINE_WORKERS", 4),
		PipelineQueueSize:     getEnvInt("PIPELINE_QUEUE_SIZE", 64),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and within range
func (c *Config) Validate() error {
	if c.GraphStore != "neo4j" && c.GraphStore != "memory" {
		return apperrors.NewConfigValidationFailed("GRAPH_STORE", "must be neo4j or memory")
	}
	if c.GraphStore == "neo4j" {
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	}
	if c.LiteLLMURL == "" {
		return apperrors.NewConfigMissingRequired("LITELLM_URL")
	}
	if c.ModelID == "" {
		return apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.PipelineWorkers < 1 {
		return apperrors.NewConfigValidationFailed("PIPELINE_WORKERS", "must be at least 1")
	}
	if c.PipelineQueueSize < 1 {
		return apperrors.NewConfigValidationFailed("PIPELINE_QUEUE_SIZE", "must be at least 1")
	}
	if c.ExtractionCallTimeout <= 0 || c.PipelineJobTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("EXTRACTION_CALL_TIMEOUT", "timeouts must be positive")
	}
	if c.LLMRequestsPerSecond <= 0 {
		return apperrors.NewConfigValidationFailed("LLM_REQUESTS_PER_SECOND", "must be positive")
	}
	// OpenRouter API key is optional when LiteLLM holds the upstream credentials
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

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
