package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

// Setting kinds as presented to the settings UI.
const (
	KindSelect   = "select"
	KindPassword = "password"
	KindText     = "text"
	KindNumber   = "number"
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	alias string
	// envOnly keys are never read from or written to the overlay.
	envOnly bool
	secret  bool

	label    string
	desc     string
	kind     string
	options  []string
	min, max *float64
	category string

	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func bound(v float64) *float64 { return &v }

var specs = []keySpec{
	{
		key: "LLM_PROVIDER", typ: kString, env: "LLM_PROVIDER",
		label: "LLM Provider", kind: KindSelect, category: "LLM",
		desc:    "Primary AI provider for chat and generation",
		options: []string{"gemini", "openai", "claude", "grok", "openrouter", "ollama"},
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "EMB_PROVIDER", typ: kString, env: "EMB_PROVIDER",
		label: "Embeddings Provider", kind: KindSelect, category: "LLM",
		desc:    "Provider for text embeddings. Empty selects automatically from available keys",
		options: []string{"openai", "gemini", "ollama"},
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbeddingsProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbeddingsProvider },
	},
	{
		key: "gemini", typ: kString, env: "gemini", alias: "GOOGLE_API_KEY", secret: true,
		label: "Gemini API Key", kind: KindPassword, category: "Gemini",
		desc:    "Google AI API key from https://aistudio.google.com/app/apikey",
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini_model", typ: kString, env: "gemini_model",
		label: "Gemini Model", kind: KindSelect, category: "Gemini",
		desc:    "gemini-2.5-flash-lite is fastest, gemini-2.5-pro is most capable",
		options: []string{"gemini-2.5-flash-lite", "gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini_embed_model", typ: kString, env: "gemini_embed_model",
		label: "Gemini Embedding Model", kind: KindText, category: "Gemini",
		desc:    "Model for text embeddings when Gemini is the embeddings provider",
		apply:   func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.EmbedModel },
	},
	{
		key: "OPENAI_API_KEY", typ: kString, env: "OPENAI_API_KEY", secret: true,
		label: "OpenAI API Key", kind: KindPassword, category: "OpenAI",
		desc:    "API key from https://platform.openai.com/api-keys",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "OPENAI_EMBED_API_KEY", typ: kString, env: "OPENAI_EMBED_API_KEY", secret: true,
		label: "OpenAI Embeddings API Key", kind: KindPassword, category: "OpenAI",
		desc:    "Separate key for embeddings. Falls back to the main key when empty",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedAPIKey },
	},
	{
		key: "OPENAI_MODEL", typ: kString, env: "OPENAI_MODEL",
		label: "OpenAI Model", kind: KindSelect, category: "OpenAI",
		desc:    "gpt-4o is most capable, gpt-4o-mini is faster and cheaper",
		options: []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "OPENAI_EMBED_MODEL", typ: kString, env: "OPENAI_EMBED_MODEL",
		label: "OpenAI Embedding Model", kind: KindSelect, category: "OpenAI",
		desc:    "text-embedding-3-large is most capable",
		options: []string{"text-embedding-3-large", "text-embedding-3-small", "text-embedding-ada-002"},
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "ANTHROPIC_API_KEY", typ: kString, env: "ANTHROPIC_API_KEY", secret: true,
		label: "Anthropic API Key", kind: KindPassword, category: "Claude",
		desc:    "API key from https://console.anthropic.com/settings/keys",
		apply:   func(cfg *Config, v any) { cfg.Claude.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Claude.APIKey },
	},
	{
		key: "CLAUDE_MODEL", typ: kString, env: "CLAUDE_MODEL",
		label: "Claude Model", kind: KindSelect, category: "Claude",
		desc:    "claude-3-5-sonnet is balanced, opus is most capable",
		options: []string{"claude-3-5-sonnet-latest", "claude-3-opus-latest", "claude-3-haiku-20240307"},
		apply:   func(cfg *Config, v any) { cfg.Claude.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Claude.Model },
	},
	{
		key: "XAI_API_KEY", typ: kString, env: "XAI_API_KEY", secret: true,
		label: "xAI API Key", kind: KindPassword, category: "Grok",
		desc:    "API key from https://console.x.ai/",
		apply:   func(cfg *Config, v any) { cfg.Grok.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Grok.APIKey },
	},
	{
		key: "GROK_MODEL", typ: kString, env: "GROK_MODEL",
		label: "Grok Model", kind: KindText, category: "Grok",
		desc:    "Grok model to use",
		apply:   func(cfg *Config, v any) { cfg.Grok.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Grok.Model },
	},
	{
		key: "GROK_BASE", typ: kString, env: "GROK_BASE",
		label: "Grok Base URL", kind: KindText, category: "Grok",
		desc:    "API endpoint for Grok",
		apply:   func(cfg *Config, v any) { cfg.Grok.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Grok.BaseURL },
	},
	{
		key: "OPENROUTER_API_KEY", typ: kString, env: "OPENROUTER_API_KEY", secret: true,
		label: "OpenRouter API Key", kind: KindPassword, category: "OpenRouter",
		desc:    "API key from https://openrouter.ai/keys",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter_model", typ: kString, env: "OPENROUTER_MODEL",
		label: "OpenRouter Model", kind: KindText, category: "OpenRouter",
		desc:    "Model ID like anthropic/claude-3-opus or openai/gpt-4o",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "OLLAMA_MODEL", typ: kString, env: "OLLAMA_MODEL",
		label: "Ollama Model", kind: KindText, category: "Ollama",
		desc:    "Local model name (e.g. llama4, mistral)",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "OLLAMA_EMBED_MODEL", typ: kString, env: "OLLAMA_EMBED_MODEL",
		label: "Ollama Embedding Model", kind: KindText, category: "Ollama",
		desc:    "Local embedding model (e.g. nomic-embed-text)",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "OLLAMA_BASE_URL", typ: kString, env: "OLLAMA_BASE_URL",
		label: "Ollama Base URL", kind: KindText, category: "Ollama",
		desc:    "URL where Ollama is running",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "LLM_TEMP", typ: kFloat, env: "LLM_TEMP",
		label: "Temperature", kind: KindNumber, category: "Parameters",
		desc: "Controls randomness. 0 = deterministic, 2 = very random",
		min:  bound(0), max: bound(2),
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "LLM_MAXTOK", typ: kInt, env: "LLM_MAXTOK",
		label: "Max Tokens", kind: KindNumber, category: "Parameters",
		desc: "Maximum response length in tokens",
		min:  bound(256), max: bound(128000),
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "LLM_CONCURRENCY", typ: kInt, env: "LLM_CONCURRENCY",
		label: "Concurrent Generations", kind: KindNumber, category: "Parameters",
		desc: "Maximum concurrent generation calls. 0 means unbounded. Requires restart",
		min:  bound(0), max: bound(256),
		apply:   func(cfg *Config, v any) { cfg.LLM.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.Concurrency },
	},
	{
		key: "db_mode", typ: kString, env: "db_mode",
		label: "Database Mode", kind: KindSelect, category: "System",
		desc:    "Retrieval backend: json (in-process index) or qdrant. Requires restart",
		options: []string{"json", "qdrant"},
		apply:   func(cfg *Config, v any) { cfg.Storage.DBMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DBMode },
	},
	{
		key: "QDRANT_URL", typ: kString, env: "QDRANT_URL",
		label: "Qdrant URL", kind: KindText, category: "System",
		desc:    "Qdrant REST endpoint used when db_mode is qdrant",
		apply:   func(cfg *Config, v any) { cfg.Storage.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.QdrantURL },
	},
	{
		key: "QDRANT_API_KEY", typ: kString, env: "QDRANT_API_KEY", secret: true,
		label: "Qdrant API Key", kind: KindPassword, category: "System",
		desc:    "Optional api-key header for Qdrant",
		apply:   func(cfg *Config, v any) { cfg.Storage.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.QdrantAPIKey },
	},
	{
		key: "RAG_NAMESPACE", typ: kString, env: "RAG_NAMESPACE",
		label: "Default Namespace", kind: KindText, category: "System",
		desc:    "Document collection searched when a request names none",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Namespace },
	},
	{
		key: "VITE_TIMEOUT", typ: kInt, env: "VITE_TIMEOUT",
		label: "Request Timeout", kind: KindNumber, category: "System",
		desc: "Generation timeout in milliseconds",
		min:  bound(10000), max: bound(600000),
		apply:   func(cfg *Config, v any) { cfg.LLM.TimeoutMillis = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.TimeoutMillis },
	},
	{
		key: "LOG_LEVEL", typ: kString, env: "LOG_LEVEL",
		label: "Log Level", kind: KindSelect, category: "System",
		desc:    "Server log verbosity. Requires restart",
		options: []string{"debug", "info", "warn", "error"},
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "PORT", typ: kInt, env: "PORT", envOnly: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "VITE_BACKEND_URL", typ: kString, env: "VITE_BACKEND_URL", envOnly: true,
		apply:   func(cfg *Config, v any) { cfg.Server.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.BaseURL },
	},
	{
		key: "VITE_FRONTEND_URL", typ: kString, env: "VITE_FRONTEND_URL", envOnly: true,
		apply:   func(cfg *Config, v any) { cfg.Server.FrontendURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.FrontendURL },
	},
	{
		key: "STORAGE_DIR", typ: kString, env: "STORAGE_DIR", envOnly: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Dir },
	},
	{
		key: "ASSETS_DIR", typ: kString, env: "ASSETS_DIR", envOnly: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.AssetsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.AssetsDir },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func (s keySpec) lookupEnv(lookup func(string) (string, bool)) (string, bool) {
	if v, ok := lookup(s.env); ok && v != "" {
		return v, true
	}
	if s.alias != "" {
		if v, ok := lookup(s.alias); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for _, s := range specs {
		raw, ok := s.lookupEnv(lookup)
		if !ok {
			continue
		}
		v, err := coerce(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func applyOverlay(cfg *Config, o Overlay) {
	for _, s := range specs {
		if s.envOnly {
			continue
		}
		raw, ok := o.Get(s.key)
		if !ok {
			continue
		}
		v, err := coerce(s, raw)
		if err == nil {
			err = s.validate(v)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring saved setting %s=%v: %v\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// coerce converts a raw env string or decoded JSON value to the key's Go type.
func coerce(s keySpec, raw any) (any, error) {
	switch s.typ {
	case kString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case json.Number:
			return v.String(), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	case kInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) || v < math.MinInt || v > math.MaxInt {
				return nil, fmt.Errorf("%v is not a valid integer", v)
			}
			return int(v), nil
		case json.Number:
			return strconv.Atoi(v.String())
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("invalid integer: %w", err)
			}
			return i, nil
		}
	case kFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number: %w", err)
			}
			return f, nil
		}
	}
	return nil, fmt.Errorf("unsupported value type %T", raw)
}

// validate checks a coerced value against the key's options and range.
func (s keySpec) validate(v any) error {
	if s.kind == KindSelect && len(s.options) > 0 {
		str, _ := v.(string)
		if !slices.Contains(s.options, str) {
			return fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, s.key, strings.Join(s.options, ", "))
		}
	}
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil
	}
	if s.min != nil && f < *s.min {
		return fmt.Errorf("%w: %s must be >= %v", ErrInvalidValue, s.key, *s.min)
	}
	if s.max != nil && f > *s.max {
		return fmt.Errorf("%w: %s must be <= %v", ErrInvalidValue, s.key, *s.max)
	}
	return nil
}
