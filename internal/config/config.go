package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Gemini     GeminiConfig
	OpenAI     OpenAIConfig
	Claude     ClaudeConfig
	Grok       GrokConfig
	OpenRouter OpenRouterConfig
	Ollama     OllamaConfig
	Storage    StorageConfig
	Retrieval  RetrievalConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port        int
	BaseURL     string
	FrontendURL string
}

type LLMConfig struct {
	Provider           string
	EmbeddingsProvider string
	Temperature        float64
	MaxTokens          int
	TimeoutMillis      int
	Concurrency        int
}

// Timeout is the server-side bound on a single generation call.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutMillis <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	EmbedModel string
}

type OpenAIConfig struct {
	APIKey      string
	EmbedAPIKey string
	Model       string
	EmbedModel  string
}

type ClaudeConfig struct {
	APIKey string
	Model  string
}

type GrokConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OpenRouterConfig struct {
	APIKey string
	Model  string
}

type OllamaConfig struct {
	BaseURL    string
	Model      string
	EmbedModel string
}

type StorageConfig struct {
	Dir          string
	AssetsDir    string
	DBMode       string
	QdrantURL    string
	QdrantAPIKey string
}

// JSONDir is where embedded-index namespaces keep their document files.
func (c StorageConfig) JSONDir() string {
	return filepath.Join(c.Dir, "json")
}

// SettingsPath is the location of the persisted settings overlay.
func (c StorageConfig) SettingsPath() string {
	return filepath.Join(c.Dir, "settings.json")
}

type RetrievalConfig struct {
	Namespace string
}

type LogConfig struct {
	Level string
}

// Defaults returns the built-in configuration with no environment or
// overlay applied.
func Defaults() Config {
	return defaults()
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        5000,
			BaseURL:     "http://localhost:5000",
			FrontendURL: "http://localhost:5173",
		},
		LLM: LLMConfig{
			Provider:      "gemini",
			Temperature:   1,
			MaxTokens:     16384,
			TimeoutMillis: 90000,
		},
		Gemini: GeminiConfig{
			Model:      "gemini-2.5-flash-lite",
			EmbedModel: "text-embedding-004",
		},
		OpenAI: OpenAIConfig{
			Model:      "gpt-4o-mini",
			EmbedModel: "text-embedding-3-large",
		},
		Claude: ClaudeConfig{
			Model: "claude-3-5-sonnet-latest",
		},
		Grok: GrokConfig{
			Model:   "grok-2-latest",
			BaseURL: "https://api.x.ai/v1",
		},
		OpenRouter: OpenRouterConfig{
			Model: "google/gemini-2.5-flash-lite",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama4",
		},
		Storage: StorageConfig{
			Dir:       "storage",
			AssetsDir: "assets",
			DBMode:    "json",
			QdrantURL: "http://localhost:6333",
		},
		Retrieval: RetrievalConfig{
			Namespace: "drleelm",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ChatModel returns the model name of the active chat provider.
func (c Config) ChatModel() string {
	switch c.LLM.Provider {
	case "openai":
		return c.OpenAI.Model
	case "claude":
		return c.Claude.Model
	case "grok":
		return c.Grok.Model
	case "openrouter":
		return c.OpenRouter.Model
	case "ollama":
		return c.Ollama.Model
	default:
		return c.Gemini.Model
	}
}

// Load reads configuration from defaults, the process environment (after
// applying a .env file in the working directory, which overrides the shell)
// and the persisted settings overlay under the storage directory.
//
// Precedence is overlay > environment > default.
func Load() (Config, *Settings, error) {
	if err := LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}

	base := defaults()
	applyEnvOverrides(&base, os.LookupEnv)

	s := NewSettings(OpenFileOverlay(base.Storage.SettingsPath()))
	return s.Config(), s, nil
}
