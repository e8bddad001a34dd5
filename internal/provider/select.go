package provider

import (
	"fmt"
	"log/slog"

	"github.com/drleelm/drleelm/internal/config"
)

// AppTitle is sent to vendors that accept attribution headers.
const AppTitle = "DrLeeLM"

// Selection is the active chat model and embeddings pair.
type Selection struct {
	LLM               LLM
	Embeddings        Embeddings
	ChatProvider      string
	EmbeddingProvider string
	EmbeddingModel    string
}

// Select builds the pair named by cfg. It never returns nil members: a
// chat provider that cannot be built yields an LLM that fails every call,
// and embeddings fall back to Gemini.
func Select(cfg config.Config) Selection {
	chat := ChatProviderName(cfg)
	llm, err := NewLLM(cfg)
	if err != nil {
		slog.Warn("chat provider unavailable", "provider", chat, "error", err)
		llm = failedLLM{err: err}
	}

	embName := EmbeddingProviderName(cfg)
	emb, err := NewEmbeddings(cfg, embName)
	if err != nil {
		slog.Warn("embeddings provider unavailable, falling back to gemini", "provider", embName, "error", err)
		embName = Gemini
		emb = NewGeminiEmbeddings(cfg.Gemini.APIKey, cfg.Gemini.EmbedModel)
	}

	return Selection{
		LLM:               llm,
		Embeddings:        emb,
		ChatProvider:      chat,
		EmbeddingProvider: embName,
		EmbeddingModel:    EmbeddingModelName(cfg, embName),
	}
}

// ChatProviderName normalizes LLM_PROVIDER; unknown names mean gemini.
func ChatProviderName(cfg config.Config) string {
	switch cfg.LLM.Provider {
	case Gemini, OpenAI, Claude, Grok, OpenRouter, Ollama:
		return cfg.LLM.Provider
	}
	return Gemini
}

// EmbeddingProviderName applies the precedence: explicit EMB_PROVIDER,
// then OpenAI when any OpenAI key is present, then Gemini.
func EmbeddingProviderName(cfg config.Config) string {
	switch {
	case cfg.LLM.EmbeddingsProvider != "":
		return cfg.LLM.EmbeddingsProvider
	case cfg.OpenAI.APIKey != "" || cfg.OpenAI.EmbedAPIKey != "":
		return OpenAI
	default:
		return Gemini
	}
}

// NewLLM builds the chat model for cfg's provider.
func NewLLM(cfg config.Config) (LLM, error) {
	switch ChatProviderName(cfg) {
	case OpenAI:
		return NewOpenAILLM(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	case Claude:
		return NewClaudeLLM(cfg.Claude.APIKey, cfg.Claude.Model)
	case Grok:
		return NewGrokLLM(cfg.Grok.APIKey, cfg.Grok.Model, cfg.Grok.BaseURL)
	case OpenRouter:
		return NewOpenRouterLLM(cfg.OpenRouter.APIKey, cfg.OpenRouter.Model, cfg.Server.FrontendURL, AppTitle)
	case Ollama:
		return NewOllamaLLM(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	default:
		return NewGeminiLLM(cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
}

// NewEmbeddings builds the named embeddings provider.
func NewEmbeddings(cfg config.Config, name string) (Embeddings, error) {
	switch name {
	case OpenAI:
		return NewOpenAIEmbeddings(cfg.OpenAI.APIKey, cfg.OpenAI.EmbedAPIKey, cfg.OpenAI.EmbedModel)
	case Ollama:
		return NewOllamaEmbeddings(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
	case Gemini:
		return NewGeminiEmbeddings(cfg.Gemini.APIKey, cfg.Gemini.EmbedModel), nil
	case Claude, Grok, OpenRouter:
		return nil, &Error{Provider: name, Message: ErrNoEmbeddings.Error(), Err: ErrNoEmbeddings}
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", name)
	}
}

// EmbeddingModelName returns the embedding model configured for name.
func EmbeddingModelName(cfg config.Config, name string) string {
	switch name {
	case OpenAI:
		return cfg.OpenAI.EmbedModel
	case Ollama:
		return cfg.Ollama.EmbedModel
	case Gemini:
		return cfg.Gemini.EmbedModel
	}
	return ""
}
