package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drleelm/drleelm/internal/config"
)

func withEndpoint(t *testing.T, target *string, url string) {
	t.Helper()
	old := *target
	*target = url
	t.Cleanup(func() { *target = old })
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListModels_OpenAIFiltersAndTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[
			{"id":"gpt-4o-mini","created":2},
			{"id":"gpt-4o","created":3},
			{"id":"gpt-3.5-turbo-instruct","created":4},
			{"id":"dall-e-3","created":5},
			{"id":"text-embedding-3-small","created":1}
		]}`)
	}))
	defer srv.Close()
	withEndpoint(t, &openAIBase, srv.URL)

	cfg := config.Defaults()
	cfg.OpenAI.APIKey = "k"

	chat, err := ListModels(context.Background(), cfg, OpenAI, KindChat)
	if err != nil {
		t.Fatal(err)
	}
	if len(chat) != 2 || chat[0].ID != "gpt-4o" || chat[1].ID != "gpt-4o-mini" {
		t.Fatalf("chat = %+v, want gpt-4o then gpt-4o-mini", chat)
	}
	if chat[0].Description != "Most capable - Recommended" {
		t.Errorf("gpt-4o description = %q", chat[0].Description)
	}

	emb, err := ListModels(context.Background(), cfg, OpenAI, KindEmbedding)
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 1 || emb[0].ID != "text-embedding-3-small" || emb[0].Description != "Fast - Lower cost" {
		t.Errorf("embedding = %+v", emb)
	}
}

func TestListModels_FallbackOnFailure(t *testing.T) {
	srv := failingServer(t)
	withEndpoint(t, &openAIBase, srv.URL)
	withEndpoint(t, &geminiBase, srv.URL)
	withEndpoint(t, &claudeBase, srv.URL)
	withEndpoint(t, &openRouterBase, srv.URL)

	cfg := config.Defaults()
	cfg.OpenAI.APIKey = "k"
	cfg.Gemini.APIKey = "k"
	cfg.Claude.APIKey = "k"
	cfg.Grok.BaseURL = srv.URL
	cfg.Grok.APIKey = "k"
	cfg.Ollama.BaseURL = srv.URL

	tests := []struct {
		provider, kind string
		wantFirst      string
		wantLen        int
		wantDesc       string
	}{
		{OpenAI, KindChat, "gpt-4o", 5, "Most capable - Recommended"},
		{OpenAI, KindEmbedding, "text-embedding-3-large", 3, "Best quality - Recommended"},
		{Gemini, KindChat, "gemini-2.5-flash-lite", 6, "Fastest - Free tier"},
		{Gemini, KindEmbedding, "text-embedding-004", 2, ""},
		{OpenRouter, KindChat, "google/gemini-2.5-flash", 5, ""},
		{Ollama, KindChat, "llama4", 4, ""},
		{Grok, KindChat, "grok-2-latest", 3, ""},
		{Claude, KindChat, "claude-sonnet-4-20250514", 5, "Balanced - Best value"},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.kind, func(t *testing.T) {
			models, err := ListModels(context.Background(), cfg, tt.provider, tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			if len(models) != tt.wantLen {
				t.Fatalf("got %d models, want %d", len(models), tt.wantLen)
			}
			if models[0].ID != tt.wantFirst || models[0].Description != tt.wantDesc {
				t.Errorf("first = %+v, want id %q desc %q", models[0], tt.wantFirst, tt.wantDesc)
			}
		})
	}
}

func TestListModels_FallbackNotShared(t *testing.T) {
	cfg := config.Defaults()
	first, _ := ListModels(context.Background(), cfg, Claude, KindChat)
	first[0].ID = "mutated"
	second, _ := ListModels(context.Background(), cfg, Claude, KindChat)
	if second[0].ID == "mutated" {
		t.Error("fallback list shared between calls")
	}
}

func TestListModels_UnknownProvider(t *testing.T) {
	if _, err := ListModels(context.Background(), config.Defaults(), "cohere", KindChat); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestListModels_GeminiFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[
			{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro","supportedGenerationMethods":["generateContent"]},
			{"name":"models/aqa","supportedGenerationMethods":["generateAnswer","generateContent"]},
			{"name":"models/text-embedding-004","displayName":"Text Embedding 004","supportedGenerationMethods":["embedContent"]}
		]}`)
	}))
	defer srv.Close()
	withEndpoint(t, &geminiBase, srv.URL)

	cfg := config.Defaults()
	cfg.Gemini.APIKey = "k"

	chat, _ := ListModels(context.Background(), cfg, Gemini, KindChat)
	if len(chat) != 1 || chat[0].ID != "gemini-2.5-pro" || chat[0].Description != "Most capable - Slower" {
		t.Errorf("chat = %+v", chat)
	}
	emb, _ := ListModels(context.Background(), cfg, Gemini, KindEmbedding)
	if len(emb) != 1 || emb[0].ID != "text-embedding-004" || emb[0].Name != "Text Embedding 004" {
		t.Errorf("embedding = %+v", emb)
	}
}

func TestListModels_OpenRouterOrdering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"small/model","name":"Small","context_length":8000},
			{"id":"big/model","name":"Big","context_length":200000,"top_provider":{"is_moderated":false}},
			{"id":"free/model:free","context_length":1000000}
		]}`)
	}))
	defer srv.Close()
	withEndpoint(t, &openRouterBase, srv.URL)

	models, _ := ListModels(context.Background(), config.Defaults(), OpenRouter, KindChat)
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2: %+v", len(models), models)
	}
	if models[0].ID != "big/model" || models[0].Description != "200k ctx" {
		t.Errorf("first = %+v", models[0])
	}
}

func TestAllModels_OnlyConfiguredProviders(t *testing.T) {
	srv := failingServer(t)
	withEndpoint(t, &geminiBase, srv.URL)

	cfg := config.Defaults()
	cfg.Gemini.APIKey = "k"
	cfg.Ollama.BaseURL = srv.URL

	all := AllModels(context.Background(), cfg)
	for _, key := range []string{Gemini, Gemini + "_embed", Ollama} {
		if len(all[key]) == 0 {
			t.Errorf("missing %s in %v", key, all)
		}
	}
	for _, key := range []string{OpenAI, Claude, Grok, OpenRouter} {
		if _, ok := all[key]; ok {
			t.Errorf("unconfigured provider %s listed", key)
		}
	}
}
