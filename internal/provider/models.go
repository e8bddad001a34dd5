package provider

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/drleelm/drleelm/internal/config"
	"github.com/drleelm/drleelm/internal/ollama"
	"github.com/drleelm/drleelm/internal/proxy"
)

// Model kinds accepted by ListModels.
const (
	KindChat      = "chat"
	KindEmbedding = "embedding"
)

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Endpoints overridable for tests.
var (
	openAIBase     = proxy.OpenAIBaseURL
	openRouterBase = proxy.OpenRouterBaseURL
	geminiBase     = geminiBaseURL
	claudeBase     = claudeBaseURL
)

var geminiTags = map[string]string{
	"gemini-2.5-flash-lite": "Fastest - Free tier",
	"gemini-2.5-flash":      "Fast - Balanced",
	"gemini-2.5-pro":        "Most capable - Slower",
	"gemini-2.0-flash":      "Fast - Good balance",
	"gemini-1.5-pro":        "Capable - Legacy",
	"gemini-1.5-flash":      "Fast - Legacy",
}

var openAITags = map[string]string{
	"gpt-4o":                 "Most capable - Recommended",
	"gpt-4o-mini":            "Fast - Budget friendly",
	"gpt-4-turbo":            "Capable - Higher cost",
	"gpt-4":                  "Legacy - Use 4o instead",
	"gpt-3.5-turbo":          "Fastest - Basic tasks",
	"text-embedding-3-large": "Best quality - Recommended",
	"text-embedding-3-small": "Fast - Lower cost",
	"text-embedding-ada-002": "Legacy - Use v3 instead",
}

func named(ids ...string) []ModelInfo {
	out := make([]ModelInfo, len(ids))
	for i, id := range ids {
		out[i] = ModelInfo{ID: id, Name: id}
	}
	return out
}

var fallbackModels = map[string][]ModelInfo{
	OpenAI:            named("gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"),
	OpenAI + "_embed": named("text-embedding-3-large", "text-embedding-3-small", "text-embedding-ada-002"),
	Gemini + "_embed": named("text-embedding-004", "embedding-001"),
	Ollama:            named("llama4", "llama3.2", "mistral", "codellama"),
	Grok:              named("grok-2-latest", "grok-2", "grok-beta"),
	Gemini: {
		{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash-Lite"},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash"},
	},
	OpenRouter: {
		{ID: "google/gemini-2.5-flash", Name: "Google Gemini 2.5 Flash"},
		{ID: "google/gemini-2.5-pro", Name: "Google Gemini 2.5 Pro"},
		{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet"},
		{ID: "openai/gpt-4o", Name: "GPT-4o"},
		{ID: "meta-llama/llama-4-maverick", Name: "Llama 4 Maverick"},
	},
	Claude: {
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Description: "Balanced - Best value"},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Description: "Most capable - Slow"},
		{ID: "claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet", Description: "Balanced - Recommended"},
		{ID: "claude-3-opus-latest", Name: "Claude 3 Opus", Description: "Most capable - Slow"},
		{ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku", Description: "Fast - Budget"},
	},
}

func fallback(key string) []ModelInfo {
	return slices.Clone(fallbackModels[key])
}

// ListModels returns the models a provider offers for kind (chat or
// embedding). Vendor failures are logged and answered with a fixed list.
// Only an unknown provider is an error.
func ListModels(ctx context.Context, cfg config.Config, name, kind string) ([]ModelInfo, error) {
	embed := kind == KindEmbedding
	switch name {
	case OpenAI:
		key := cfg.OpenAI.APIKey
		if embed && key == "" {
			key = cfg.OpenAI.EmbedAPIKey
		}
		return tag(openAIModels(ctx, key, embed), openAITags, true), nil
	case Gemini:
		if embed {
			return geminiModels(ctx, cfg.Gemini.APIKey, true), nil
		}
		return tag(geminiModels(ctx, cfg.Gemini.APIKey, false), geminiTags, false), nil
	case OpenRouter:
		return openRouterModels(ctx, cfg.OpenRouter.APIKey), nil
	case Ollama:
		return ollamaModels(ctx, cfg.Ollama.BaseURL), nil
	case Grok:
		return grokModels(ctx, cfg.Grok.APIKey, cfg.Grok.BaseURL), nil
	case Claude:
		return claudeModels(ctx, cfg.Claude.APIKey), nil
	}
	return nil, fmt.Errorf("unknown provider: %s", name)
}

// AllModels lists models for every provider that has credentials, in
// parallel. Embedding lists are keyed "<provider>_embed".
func AllModels(ctx context.Context, cfg config.Config) map[string][]ModelInfo {
	var (
		mu     sync.Mutex
		result = make(map[string][]ModelInfo)
	)
	g, ctx := errgroup.WithContext(ctx)
	fetch := func(key, name, kind string) {
		g.Go(func() error {
			models, err := ListModels(ctx, cfg, name, kind)
			if err != nil {
				return nil
			}
			mu.Lock()
			result[key] = models
			mu.Unlock()
			return nil
		})
	}

	if cfg.OpenAI.APIKey != "" {
		fetch(OpenAI, OpenAI, KindChat)
		fetch(OpenAI+"_embed", OpenAI, KindEmbedding)
	}
	if cfg.Gemini.APIKey != "" {
		fetch(Gemini, Gemini, KindChat)
		fetch(Gemini+"_embed", Gemini, KindEmbedding)
	}
	if cfg.OpenRouter.APIKey != "" {
		fetch(OpenRouter, OpenRouter, KindChat)
	}
	if cfg.Ollama.BaseURL != "" {
		fetch(Ollama, Ollama, KindChat)
	}
	if cfg.Grok.APIKey != "" {
		fetch(Grok, Grok, KindChat)
	}
	if cfg.Claude.APIKey != "" {
		fetch(Claude, Claude, KindChat)
	}

	_ = g.Wait()
	return result
}

// tag fills descriptions from tags. With always set, the id is used when
// no tag or vendor description exists.
func tag(models []ModelInfo, tags map[string]string, always bool) []ModelInfo {
	for i, m := range models {
		if t, ok := tags[m.ID]; ok {
			models[i].Description = t
		} else if always && m.Description == "" {
			models[i].Description = m.ID
		}
	}
	return models
}

func warnFallback(name string, err error) {
	slog.Warn("listing models failed, using fallback list", "provider", name, "error", err)
}

func openAIModels(ctx context.Context, apiKey string, embed bool) []ModelInfo {
	key := OpenAI
	if embed {
		key = OpenAI + "_embed"
	}
	if apiKey == "" {
		return fallback(key)
	}
	list, err := proxy.NewClient(apiKey, openAIBase).ListModels(ctx)
	if err != nil {
		warnFallback(OpenAI, err)
		return fallback(key)
	}

	var picked []proxy.Model
	for _, m := range list {
		if embed {
			if strings.Contains(m.ID, "embedding") {
				picked = append(picked, m)
			}
			continue
		}
		if strings.Contains(m.ID, "gpt") && !strings.Contains(m.ID, "instruct") && !strings.Contains(m.ID, "vision") {
			picked = append(picked, m)
		}
	}
	slices.SortStableFunc(picked, func(a, b proxy.Model) int { return cmp.Compare(b.Created, a.Created) })
	if !embed && len(picked) > 20 {
		picked = picked[:20]
	}

	out := make([]ModelInfo, len(picked))
	for i, m := range picked {
		out[i] = ModelInfo{ID: m.ID, Name: m.ID}
	}
	return out
}

func geminiModels(ctx context.Context, apiKey string, embed bool) []ModelInfo {
	key := Gemini
	if embed {
		key = Gemini + "_embed"
	}
	list, err := NewGeminiEmbeddings(apiKey, "").withBaseURL(geminiBase).listModels(ctx)
	if err != nil {
		warnFallback(Gemini, err)
		return fallback(key)
	}

	var out []ModelInfo
	for _, m := range list {
		id := strings.TrimPrefix(m.Name, "models/")
		var keep bool
		if embed {
			keep = slices.Contains(m.SupportedGenerationMethods, "embedContent") || strings.Contains(m.Name, "embedding")
		} else {
			keep = slices.Contains(m.SupportedGenerationMethods, "generateContent") &&
				!strings.Contains(m.Name, "embedding") && !strings.Contains(m.Name, "aqa")
		}
		if !keep {
			continue
		}
		info := ModelInfo{ID: id, Name: cmp.Or(m.DisplayName, id)}
		if !embed {
			info.Description = m.Description
		}
		out = append(out, info)
	}
	return out
}

func openRouterModels(ctx context.Context, apiKey string) []ModelInfo {
	list, err := proxy.NewClient(apiKey, openRouterBase).ListModels(ctx)
	if err != nil {
		warnFallback(OpenRouter, err)
		return fallback(OpenRouter)
	}

	score := func(m proxy.Model) int {
		s := m.ContextLength
		if m.TopProvider != nil {
			s += 1000
		}
		return s
	}
	var picked []proxy.Model
	for _, m := range list {
		if m.ID != "" && !strings.Contains(m.ID, ":free") {
			picked = append(picked, m)
		}
	}
	slices.SortStableFunc(picked, func(a, b proxy.Model) int { return cmp.Compare(score(b), score(a)) })
	if len(picked) > 100 {
		picked = picked[:100]
	}

	out := make([]ModelInfo, len(picked))
	for i, m := range picked {
		info := ModelInfo{ID: m.ID, Name: cmp.Or(m.Name, m.ID)}
		if m.ContextLength > 0 {
			info.Description = fmt.Sprintf("%dk ctx", m.ContextLength/1000)
		}
		out[i] = info
	}
	return out
}

func ollamaModels(ctx context.Context, baseURL string) []ModelInfo {
	names, err := ollama.New(baseURL).ListModels(ctx)
	if err != nil {
		warnFallback(Ollama, err)
		return fallback(Ollama)
	}
	return named(names...)
}

func grokModels(ctx context.Context, apiKey, baseURL string) []ModelInfo {
	if apiKey == "" {
		return fallback(Grok)
	}
	list, err := proxy.NewClient(apiKey, baseURL).ListModels(ctx)
	if err != nil {
		warnFallback(Grok, err)
		return fallback(Grok)
	}
	out := make([]ModelInfo, len(list))
	for i, m := range list {
		out[i] = ModelInfo{ID: m.ID, Name: m.ID}
	}
	return out
}

func claudeModels(ctx context.Context, apiKey string) []ModelInfo {
	if apiKey == "" {
		return fallback(Claude)
	}
	list, err := newClaudeLLM(apiKey, "").withBaseURL(claudeBase).listModels(ctx)
	if err != nil {
		warnFallback(Claude, err)
		return fallback(Claude)
	}

	var out []ModelInfo
	for _, m := range list {
		if m.Type != "model" {
			continue
		}
		var desc string
		switch {
		case strings.Contains(m.ID, "haiku"):
			desc = "Fastest - Budget"
		case strings.Contains(m.ID, "sonnet"):
			desc = "Balanced - Recommended"
		case strings.Contains(m.ID, "opus"):
			desc = "Most capable - Slow"
		}
		out = append(out, ModelInfo{ID: m.ID, Name: cmp.Or(m.DisplayName, m.ID), Description: desc})
	}
	return out
}
