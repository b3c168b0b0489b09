package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by DEEPRESEARCH_ENV (or .env by
// default), then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("DEEPRESEARCH_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// MonitorPort returns the port the monitor dashboard listens on.
// Defaults to 8765 if not set.
func MonitorPort() int {
	port, err := strconv.Atoi(os.Getenv("MONITOR_PORT"))
	if err != nil {
		return 8765
	}
	return port
}

func MonitorAddr() string {
	return fmt.Sprintf(":%d", MonitorPort())
}

// MonitorURL returns the base URL the agent posts events to.
// Empty means monitoring is disabled.
func MonitorURL() string {
	return os.Getenv("MONITOR_URL")
}

// MaxLoops returns the per-turn thinking budget.
// Defaults to 10 if not set.
func MaxLoops() int {
	n, err := strconv.Atoi(os.Getenv("MAX_LOOPS"))
	if err != nil || n <= 0 {
		return 10
	}
	return n
}

// LLMRateRPS returns the LLM request rate limit in requests per second.
// Defaults to 2 if not set.
func LLMRateRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("LLM_RATE_RPS"), 64)
	if err != nil || rps <= 0 {
		return 2
	}
	return rps
}

// LLMRateBurst returns the burst size for LLM rate limiting.
// Defaults to 4 if not set.
func LLMRateBurst() int {
	burst, err := strconv.Atoi(os.Getenv("LLM_RATE_BURST"))
	if err != nil || burst <= 0 {
		return 4
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
