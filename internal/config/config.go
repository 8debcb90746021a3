package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	LLMProvider        string `yaml:"llm_provider"`
	GeminiAPIKey       string `yaml:"-"`
	OpenAIAPIKey       string `yaml:"-"`
	ChatModel          string `yaml:"chat_model"`      // empty: provider default
	EmbeddingModel     string `yaml:"embedding_model"` // empty: provider default
	EmbeddingDimension int    `yaml:"embedding_dimension"`

	StoreDriver string `yaml:"store_driver"`
	DatabaseURL string `yaml:"database_url"`
	HTTPPort    string `yaml:"http_port"`
	LogLevel    string `yaml:"log_level"`

	EmbedTimeout    time.Duration `yaml:"embed_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`

	RAG RAGSettings `yaml:"rag"`
}

// RAGSettings holds the retrieval, dialogue and quiz tunables.
type RAGSettings struct {
	TopK                int     `yaml:"retrieval_top_k"`
	RelevanceThreshold  float64 `yaml:"relevance_threshold"`
	SemanticFloor       float64 `yaml:"semantic_floor"`
	SemanticWeight      float64 `yaml:"semantic_weight"`
	KeywordWeight       float64 `yaml:"keyword_weight"`
	MasteryThreshold    float64 `yaml:"mastery_threshold"`
	HighConfidenceScore float64 `yaml:"high_confidence_score"`
	HistoryTurns        int     `yaml:"history_turns"`
	QuizContextLimit    int     `yaml:"quiz_context_limit"`

	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	EmbedBatchSize  int           `yaml:"embed_batch_size"`
	EmbedBatchPause time.Duration `yaml:"embed_batch_pause"`
}

func Default() *Config {
	return &Config{
		LLMProvider:        ProviderGemini,
		EmbeddingDimension: 768,
		StoreDriver:        DriverSQLite,
		DatabaseURL:        "tutor.db",
		HTTPPort:           "8080",
		LogLevel:           "INFO",
		EmbedTimeout:       15 * time.Second,
		GenerateTimeout:    30 * time.Second,
		StoreTimeout:       10 * time.Second,
		RAG: RAGSettings{
			TopK:                5,
			RelevanceThreshold:  0.7,
			SemanticFloor:       0.0,
			SemanticWeight:      0.7,
			KeywordWeight:       0.3,
			MasteryThreshold:    0.7,
			HighConfidenceScore: 0.8,
			HistoryTurns:        5,
			QuizContextLimit:    10,
			ChunkSize:           800,
			ChunkOverlap:        100,
			EmbedBatchSize:      50,
			EmbedBatchPause:     500 * time.Millisecond,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence. A .env file is loaded if present.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load() // .env is optional, the environment may already be set

	cfg := Default()

	if yamlPath == "" {
		yamlPath = os.Getenv("TUTOR_CONFIG")
	}
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", yamlPath, err)
		}
	}

	cfg.applyEnv()

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.LLMProvider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLMProvider))
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.ChatModel = getEnv("CHAT_MODEL", c.ChatModel)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDimension = getEnvAsInt("EMBEDDING_DIMENSION", c.EmbeddingDimension)

	c.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", c.StoreDriver))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.LogLevel = strings.ToUpper(getEnv("LOG_LEVEL", c.LogLevel))

	c.EmbedTimeout = getEnvAsDuration("EMBED_TIMEOUT", c.EmbedTimeout)
	c.GenerateTimeout = getEnvAsDuration("GENERATE_TIMEOUT", c.GenerateTimeout)
	c.StoreTimeout = getEnvAsDuration("STORE_TIMEOUT", c.StoreTimeout)

	r := &c.RAG
	r.TopK = getEnvAsInt("RETRIEVAL_TOP_K", r.TopK)
	r.RelevanceThreshold = getEnvAsFloat("RELEVANCE_THRESHOLD", r.RelevanceThreshold)
	r.SemanticFloor = getEnvAsFloat("SEMANTIC_FLOOR", r.SemanticFloor)
	r.SemanticWeight = getEnvAsFloat("SEMANTIC_WEIGHT", r.SemanticWeight)
	r.KeywordWeight = getEnvAsFloat("KEYWORD_WEIGHT", r.KeywordWeight)
	r.MasteryThreshold = getEnvAsFloat("MASTERY_THRESHOLD", r.MasteryThreshold)
	r.HighConfidenceScore = getEnvAsFloat("HIGH_CONFIDENCE_SCORE", r.HighConfidenceScore)
	r.HistoryTurns = getEnvAsInt("HISTORY_TURNS", r.HistoryTurns)
	r.QuizContextLimit = getEnvAsInt("QUIZ_CONTEXT_LIMIT", r.QuizContextLimit)
	r.ChunkSize = getEnvAsInt("CHUNK_SIZE", r.ChunkSize)
	r.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", r.ChunkOverlap)
	r.EmbedBatchSize = getEnvAsInt("EMBED_BATCH_SIZE", r.EmbedBatchSize)
	r.EmbedBatchPause = getEnvAsDuration("EMBED_BATCH_PAUSE", r.EmbedBatchPause)
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for provider %q", c.LLMProvider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required for provider %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.LLMProvider)
	}

	if c.StoreDriver != DriverSQLite && c.StoreDriver != DriverPostgres {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.StoreDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}

	r := c.RAG
	if r.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", r.TopK)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"RELEVANCE_THRESHOLD", r.RelevanceThreshold},
		{"SEMANTIC_FLOOR", r.SemanticFloor},
		{"SEMANTIC_WEIGHT", r.SemanticWeight},
		{"KEYWORD_WEIGHT", r.KeywordWeight},
		{"MASTERY_THRESHOLD", r.MasteryThreshold},
		{"HIGH_CONFIDENCE_SCORE", r.HighConfidenceScore},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%s must be 0-1, got %f", f.name, f.value)
		}
	}
	if r.HistoryTurns < 0 {
		return fmt.Errorf("HISTORY_TURNS must not be negative, got %d", r.HistoryTurns)
	}
	if r.QuizContextLimit <= 0 {
		return fmt.Errorf("QUIZ_CONTEXT_LIMIT must be positive, got %d", r.QuizContextLimit)
	}
	if r.ChunkSize <= 0 || r.ChunkOverlap < 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive and CHUNK_OVERLAP non-negative, got %d/%d", r.ChunkSize, r.ChunkOverlap)
	}
	if r.EmbedBatchSize <= 0 {
		return fmt.Errorf("EMBED_BATCH_SIZE must be positive, got %d", r.EmbedBatchSize)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
