package openai

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the OpenAI provider settings. Zero values fall back to the
// defaults below at construction time.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for Azure or a local proxy.
	// If empty, the client default is used.
	BaseURL string

	// TranscriptionModel is the audio model, default "whisper-1".
	TranscriptionModel string

	// ChatModel serves summaries, titles and tag suggestions,
	// default "gpt-4o-mini".
	ChatModel string

	// EmbeddingModel produces description vectors,
	// default "text-embedding-3-small".
	EmbeddingModel string

	// MaxConcurrent caps in-flight API calls. If 0, defaults to 4.
	MaxConcurrent int64

	// RequestsPerSecond throttles API calls. If 0, unlimited.
	RequestsPerSecond float64
}

const (
	defaultTranscriptionModel = "whisper-1"
	defaultChatModel          = "gpt-4o-mini"
	defaultEmbeddingModel     = "text-embedding-3-small"
	defaultMaxConcurrent      = 4
)

// ConfigFromEnv builds a Config from the environment, loading a .env file
// first when one exists.
func ConfigFromEnv() Config {
	_ = godotenv.Load()

	return Config{
		APIKey:             os.Getenv("OPENAI_API_KEY"),
		BaseURL:            os.Getenv("OPENAI_BASE_URL"),
		TranscriptionModel: getEnv("OPENAI_TRANSCRIPTION_MODEL", defaultTranscriptionModel),
		ChatModel:          getEnv("OPENAI_CHAT_MODEL", defaultChatModel),
		EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", defaultEmbeddingModel),
		MaxConcurrent:      getEnvInt64("OPENAI_MAX_CONCURRENT", defaultMaxConcurrent),
		RequestsPerSecond:  getEnvFloat("OPENAI_REQUESTS_PER_SECOND", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
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
