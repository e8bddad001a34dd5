package provider

import (
	"context"
	"errors"

	"github.com/drleelm/drleelm/internal/ollama"
)

// OllamaLLM adapts the internal/ollama.Client to LLM.
type OllamaLLM struct {
	client *ollama.Client
	model  string
}

// NewOllamaLLM returns a chat model served by a local Ollama at baseURL.
func NewOllamaLLM(baseURL, model string) *OllamaLLM {
	return &OllamaLLM{client: ollama.New(baseURL), model: model}
}

func (l *OllamaLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	temp := opts.Temperature
	text, err := l.client.Chat(ctx, l.model, []ollama.Message{
		{Role: "user", Content: prompt},
	}, &ollama.Options{Temperature: &temp, NumPredict: opts.MaxTokens})
	return text, wrapErr(Ollama, err)
}

// OllamaEmbeddings adapts the internal/ollama.Client to Embeddings.
type OllamaEmbeddings struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbeddings requires an embedding model name; Ollama has no
// server-side default.
func NewOllamaEmbeddings(baseURL, model string) (*OllamaEmbeddings, error) {
	if model == "" {
		return nil, &Error{Provider: Ollama, Message: "OLLAMA_EMBED_MODEL not configured", Err: errors.New("no embedding model")}
	}
	return &OllamaEmbeddings{client: ollama.New(baseURL), model: model}, nil
}

func (e *OllamaEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	return vec, wrapErr(Ollama, err)
}
