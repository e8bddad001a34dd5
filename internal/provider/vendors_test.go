package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drleelm/drleelm/internal/ollama"
	"github.com/drleelm/drleelm/internal/proxy"
)

func TestGemini_Generate(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotReq  geminiGenerateRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Photosynthesis "},{"text":"makes sugar."}]}}]}`)
	}))
	defer srv.Close()

	llm, err := NewGeminiLLM("g-key", "gemini-2.5-flash")
	if err != nil {
		t.Fatal(err)
	}
	text, err := llm.withBaseURL(srv.URL).Generate(context.Background(), "Explain photosynthesis", GenerateOptions{Temperature: 0, MaxTokens: 800})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if text != "Photosynthesis makes sugar." {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "g-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	gc := gotReq.GenerationConfig
	if gc == nil || gc.Temperature == nil || *gc.Temperature != 0 || gc.MaxOutputTokens != 800 {
		t.Errorf("generationConfig = %+v", gc)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "Explain photosynthesis" {
		t.Errorf("contents = %+v", gotReq.Contents)
	}
}

func TestGemini_VendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	llm, _ := NewGeminiLLM("bad", "gemini-2.5-flash")
	_, err := llm.withBaseURL(srv.URL).Generate(context.Background(), "hi", GenerateOptions{})

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if pe.Provider != Gemini || pe.Status != http.StatusBadRequest || pe.Message != "API key not valid." {
		t.Errorf("err = %+v", pe)
	}
}

func TestGemini_Embed(t *testing.T) {
	var gotReq geminiEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/text-embedding-004:embedContent" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"embedding":{"values":[0.5,0.25]}}`)
	}))
	defer srv.Close()

	vec, err := NewGeminiEmbeddings("g", "text-embedding-004").withBaseURL(srv.URL).Embed(context.Background(), "cell")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
	if gotReq.Model != "models/text-embedding-004" {
		t.Errorf("model = %q", gotReq.Model)
	}
}

func TestClaude_Generate(t *testing.T) {
	var (
		gotHeaders http.Header
		gotReq     claudeRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"Newton's first law"},{"type":"tool_use"}]}`)
	}))
	defer srv.Close()

	llm, err := NewClaudeLLM("ant-key", "claude-3-5-sonnet-latest")
	if err != nil {
		t.Fatal(err)
	}
	text, err := llm.withBaseURL(srv.URL).Generate(context.Background(), "inertia?", GenerateOptions{Temperature: 1.5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if text != "Newton's first law" {
		t.Errorf("text = %q", text)
	}
	if gotHeaders.Get("x-api-key") != "ant-key" || gotHeaders.Get("anthropic-version") != anthropicVersion {
		t.Errorf("headers = %v", gotHeaders)
	}
	if gotReq.MaxTokens != claudeDefaultMaxTokens {
		t.Errorf("max_tokens = %d, want default %d", gotReq.MaxTokens, claudeDefaultMaxTokens)
	}
	if gotReq.Temperature != 1 {
		t.Errorf("temperature = %v, want clamped to 1", gotReq.Temperature)
	}
}

func TestClaude_VendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	llm, _ := NewClaudeLLM("k", "m")
	_, err := llm.withBaseURL(srv.URL).Generate(context.Background(), "x", GenerateOptions{})
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != 529 || pe.Message != "Overloaded" {
		t.Errorf("err = %v", err)
	}
}

func TestCompatLLM_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer srv.Close()

	llm := &CompatLLM{name: Grok, model: "grok-2-latest", client: proxy.NewClient("x", srv.URL)}
	_, err := llm.Generate(context.Background(), "hi", GenerateOptions{})

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if pe.Provider != Grok || pe.Status != http.StatusUnauthorized || pe.Message != "Incorrect API key provided" {
		t.Errorf("err = %+v", pe)
	}
	var se *proxy.StatusError
	if !errors.As(err, &se) {
		t.Error("underlying *proxy.StatusError not reachable via errors.As")
	}
}

func TestCompatLLM_Generate(t *testing.T) {
	var got proxy.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"42"}}]}`)
	}))
	defer srv.Close()

	llm := &CompatLLM{name: OpenAI, model: "gpt-4o-mini", client: proxy.NewClient("k", srv.URL)}
	text, err := llm.Generate(context.Background(), "answer?", GenerateOptions{Temperature: 0.7, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "42" {
		t.Errorf("text = %q", text)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "answer?" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOllamaLLM_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"message": ollama.Message{Role: "assistant", Content: "hello from ollama"},
		})
	}))
	defer srv.Close()

	text, err := NewOllamaLLM(srv.URL, "llama4").Generate(context.Background(), "hi", GenerateOptions{Temperature: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello from ollama" {
		t.Errorf("text = %q", text)
	}
}

func TestOllamaEmbeddings_RequireModel(t *testing.T) {
	if _, err := NewOllamaEmbeddings("http://localhost:11434", ""); err == nil {
		t.Error("expected error without embedding model")
	}
}

func TestOllama_UnreachableIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewOllamaLLM(srv.URL, "llama4").Generate(context.Background(), "hi", GenerateOptions{})
	var pe *Error
	if !errors.As(err, &pe) || pe.Provider != Ollama || pe.Status != 0 {
		t.Errorf("err = %v, want ollama *Error without status", err)
	}
}
