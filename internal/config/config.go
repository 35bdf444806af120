package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIPort  string
	LogLevel string

	// PostgresDSN is optional: empty means conversation history lives in
	// process memory.
	PostgresDSN string

	// NATSURL is optional: empty disables batch-completed publishing.
	NATSURL     string
	NATSSubject string

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string

	QdrantURL        string
	QdrantCollection string

	UploadPath string
	ReportPath string

	AnalysisConcurrency int
	MaxHistoryMessages  int
	HistoryWindow       int
	SuggestionTimeout   time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxConcurrent      int

	ResilienceEnabled bool

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "invoices.batch.completed"),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "invoice_documents"),

		UploadPath: mustEnv("UPLOAD_PATH", "./data/uploads"),
		ReportPath: mustEnv("REPORT_PATH", "./data/reports"),

		AnalysisConcurrency: mustEnvInt("ANALYSIS_CONCURRENCY", 4),
		MaxHistoryMessages:  mustEnvInt("MAX_HISTORY_MESSAGES", 20),
		HistoryWindow:       mustEnvInt("HISTORY_WINDOW", 6),
		SuggestionTimeout:   mustEnvDuration("SUGGESTION_TIMEOUT", 10*time.Second),

		RateLimitPerSecond: mustEnvFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     mustEnvInt("RATE_LIMIT_BURST", 20),
		MaxConcurrent:      mustEnvInt("MAX_CONCURRENT", 64),

		ResilienceEnabled: mustEnvBool("RESILIENCE_ENABLED", true),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
