package provider

import (
	"context"

	"github.com/drleelm/drleelm/internal/proxy"
)

// CompatLLM drives any OpenAI-compatible chat endpoint.
type CompatLLM struct {
	name   string
	model  string
	client *proxy.Client
}

func (l *CompatLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	temp := opts.Temperature
	text, err := l.client.Complete(ctx, proxy.ChatRequest{
		Model:       l.model,
		Messages:    []proxy.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
		MaxTokens:   opts.MaxTokens,
	})
	return text, wrapErr(l.name, err)
}

// CompatEmbeddings drives an OpenAI-compatible /embeddings endpoint.
type CompatEmbeddings struct {
	name   string
	model  string
	client *proxy.Client
}

func (e *CompatEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	return vec, wrapErr(e.name, err)
}

// NewOpenAILLM returns an OpenAI chat model.
func NewOpenAILLM(apiKey, model string) (*CompatLLM, error) {
	if apiKey == "" {
		return nil, missingKey(OpenAI, "OPENAI_API_KEY")
	}
	return &CompatLLM{name: OpenAI, model: model, client: proxy.NewClient(apiKey, proxy.OpenAIBaseURL)}, nil
}

// NewOpenAIEmbeddings returns OpenAI embeddings. embedKey, when set, is
// preferred over the main key.
func NewOpenAIEmbeddings(apiKey, embedKey, model string) (*CompatEmbeddings, error) {
	key := embedKey
	if key == "" {
		key = apiKey
	}
	if key == "" {
		return nil, missingKey(OpenAI, "OPENAI_API_KEY or OPENAI_EMBED_API_KEY")
	}
	return &CompatEmbeddings{name: OpenAI, model: model, client: proxy.NewClient(key, proxy.OpenAIBaseURL)}, nil
}

// NewGrokLLM returns an xAI chat model at baseURL.
func NewGrokLLM(apiKey, model, baseURL string) (*CompatLLM, error) {
	if apiKey == "" {
		return nil, missingKey(Grok, "XAI_API_KEY")
	}
	return &CompatLLM{name: Grok, model: model, client: proxy.NewClient(apiKey, baseURL)}, nil
}

// NewOpenRouterLLM returns an OpenRouter chat model. referer and title are
// sent as attribution headers.
func NewOpenRouterLLM(apiKey, model, referer, title string) (*CompatLLM, error) {
	if apiKey == "" {
		return nil, missingKey(OpenRouter, "OPENROUTER_API_KEY")
	}
	return &CompatLLM{name: OpenRouter, model: model, client: proxy.NewOpenRouterClient(apiKey, referer, title)}, nil
}
