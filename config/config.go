package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	ProviderPinecone = "pinecone"
	ProviderPostgres = "postgres"
	ProviderMemory   = "memory"
)

// EmbeddingDimension is shared between the embedding clients and the vector
// index configuration. The two must agree exactly.
const EmbeddingDimension = 768

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider string
	Model    string
}

type PineconeConfig struct {
	APIKey     string
	IndexName  string
	ControlURL string
}

type Config struct {
	HTTPAddr    string
	PostgresDSN string

	VectorProvider string
	Pinecone       PineconeConfig

	Embeddings EmbeddingsConfig
	LLM        LLMConfig

	GoogleAPIKey  string
	GeminiBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	RequestTimeout time.Duration
}

func Load() Config {
	// A missing .env file is fine; plain environment variables still apply.
	_ = godotenv.Load()

	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/coursemind?sslmode=disable"),

		VectorProvider: getEnv("VECTOR_PROVIDER", ProviderPinecone),
		Pinecone: PineconeConfig{
			APIKey:     getEnv("PINECONE_API_KEY", ""),
			IndexName:  getEnv("PINECONE_INDEX_NAME", "coursemind-index"),
			ControlURL: getEnv("PINECONE_CONTROL_URL", "https://api.pinecone.io"),
		},

		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderGemini),
			Model:     getEnv("EMBEDDINGS_MODEL", "embedding-001"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", EmbeddingDimension),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderGemini),
			Model:    getEnv("LLM_MODEL", "gemini-1.5-flash"),
		},

		GoogleAPIKey:  getEnv("GOOGLE_API_KEY", ""),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
