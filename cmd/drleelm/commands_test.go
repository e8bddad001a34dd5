package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drleelm/drleelm/internal/client"
	"github.com/drleelm/drleelm/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusAccepted)
			}
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

// execute runs the root command against the test server and returns stdout.
func execute(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	if ts != nil {
		args = append(args, "--server", ts.server.URL)
	}
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func fastWaiters(t *testing.T) {
	t.Helper()
	old := newWaiter
	newWaiter = func(c *client.Client) *client.Waiter {
		w := client.NewWaiter(c)
		w.InitialDelay = time.Millisecond
		w.PollInterval = 5 * time.Millisecond
		w.Timeout = 2 * time.Second
		w.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		return w
	}
	t.Cleanup(func() { newWaiter = old })
}

func (ts *testServer) find(method, prefix string) (recordedRequest, bool) {
	for _, r := range ts.requests {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			return r, true
		}
	}
	return recordedRequest{}, false
}

func TestAskCommand(t *testing.T) {
	fastWaiters(t)
	ts := newTestServer(t, map[string]string{
		"POST /submit":   `{"jobId":"j1","subscribe":"/ws/answer?id=j1"}`,
		"GET /status/j1": `{"id":"j1","status":"done","result":{"answer":"Cells are alive."}}`,
	})

	out, err := execute(t, ts, "ask", "--ns", "bio", "What", "are", "cells?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "Cells are alive." {
		t.Errorf("output = %q", out)
	}

	r, ok := ts.find(http.MethodPost, "/submit")
	if !ok {
		t.Fatal("no submit request")
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["question"] != "What are cells?" || body["namespace"] != "bio" {
		t.Errorf("body = %v", body)
	}
}

func TestAskCommand_CompanionFile(t *testing.T) {
	fastWaiters(t)
	ts := newTestServer(t, map[string]string{
		"POST /api/companion/submit": `{"jobId":"j2","subscribe":"/ws/companion?id=j2"}`,
		"GET /status/j2":             `{"id":"j2","status":"done","result":{"answer":"Short summary."}}`,
	})

	out, err := execute(t, ts, "ask", "--file", "notes/cells.md", "Summarize")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Short summary.") {
		t.Errorf("output = %q", out)
	}
	// Flags persist on the shared command tree between runs.
	askCmd.Flags().Set("file", "")
}

func TestAskCommand_JobError(t *testing.T) {
	fastWaiters(t)
	ts := newTestServer(t, map[string]string{
		"POST /submit":   `{"jobId":"j3","subscribe":"/ws/answer?id=j3"}`,
		"GET /status/j3": `{"id":"j3","status":"error","error":"gemini: HTTP 429: quota"}`,
	})

	_, err := execute(t, ts, "ask", "anything")
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("err = %v, want quota error", err)
	}
}

func TestAskCommand_ValidationError(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := execute(t, ts, "ask", "anything")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestNotesCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, nil, "notes")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("err = %v, want it to mention 'required'", err)
	}
}

func TestNotesCommand(t *testing.T) {
	fastWaiters(t)
	ts := newTestServer(t, map[string]string{
		"POST /smartnotes": `{"jobId":"n1","noteId":"n1","subscribe":"/ws/smartnotes?id=n1"}`,
		"GET /status/n1":   `{"id":"n1","status":"done","result":{"file":"http://localhost:5000/storage/smartnotes/photo-n1.md"}}`,
	})

	out, err := execute(t, ts, "notes", "--topic", "Photosynthesis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "http://localhost:5000/storage/smartnotes/photo-n1.md" {
		t.Errorf("output = %q", out)
	}
	notesCmd.Flags().Set("topic", "")
}

func TestSearchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/search": `[{"text":"Mitochondria produce ATP.","meta":{"source":"ch2"}}]`,
	})

	out, err := execute(t, ts, "search", "--k", "3", "energy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Mitochondria produce ATP.") || !strings.Contains(out, "ch2") {
		t.Errorf("output = %q", out)
	}
	r, _ := ts.find(http.MethodGet, "/api/search")
	if !strings.Contains(r.Path, "q=energy") || !strings.Contains(r.Path, "k=3") {
		t.Errorf("path = %q", r.Path)
	}
}

func TestSearchCommand_NoResults(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/search": `[{"text":""}]`,
	})
	out, err := execute(t, ts, "search", "nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No results found.") {
		t.Errorf("output = %q", out)
	}
}

func TestChatsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/chats": `[{"id":"c1","title":"Biology review","updatedAt":"2025-01-01T00:00:00Z"}]`,
	})
	out, err := execute(t, ts, "chats", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "c1") || !strings.Contains(out, "Biology review") {
		t.Errorf("output = %q", out)
	}
}

func TestChatsShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/chats/c1": `{"chat":{"id":"c1","title":"Bio"},"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`,
	})
	out, err := execute(t, ts, "chats", "show", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "[assistant]") || !strings.Contains(out, "hello") {
		t.Errorf("output = %q", out)
	}
}

func TestModelsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/models": `{"openai":[{"id":"gpt-4o-mini"}],"gemini":[{"id":"gemini-2.5-flash-lite"}]}`,
	})
	out, err := execute(t, ts, "models")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Index(out, "gemini") > strings.Index(out, "openai") {
		t.Errorf("providers should be sorted: %q", out)
	}
}

func TestConfigSetShowUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	old := loadSettings
	loadSettings = func() (*config.Settings, error) {
		return config.NewSettings(config.OpenFileOverlay(path)), nil
	}
	t.Cleanup(func() { loadSettings = old })
	for _, k := range []string{"gemini", "GOOGLE_API_KEY", "OPENAI_API_KEY", "OPENAI_EMBED_API_KEY",
		"ANTHROPIC_API_KEY", "XAI_API_KEY", "OPENROUTER_API_KEY", "QDRANT_API_KEY"} {
		t.Setenv(k, "")
	}

	if _, err := execute(t, nil, "config", "set", "OPENAI_API_KEY", "sk-secret"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := execute(t, nil, "config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.Contains(out, "sk-secret") {
		t.Error("secret printed in clear")
	}
	if !strings.Contains(out, config.MaskedValue) {
		t.Errorf("output = %q, want masked key", out)
	}

	if _, err := execute(t, nil, "config", "unset", "OPENAI_API_KEY"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	out, _ = execute(t, nil, "config", "show")
	if strings.Contains(out, config.MaskedValue) {
		t.Errorf("key still set after unset: %q", out)
	}
}

func TestConfigSetUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	old := loadSettings
	loadSettings = func() (*config.Settings, error) {
		return config.NewSettings(config.OpenFileOverlay(path)), nil
	}
	t.Cleanup(func() { loadSettings = old })

	if _, err := execute(t, nil, "config", "set", "NOT_A_KEY", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, nil, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "drleelm version") {
		t.Errorf("output = %q", out)
	}
}

func TestStatusCommand_ServerStopped(t *testing.T) {
	t.Setenv("STORAGE_DIR", t.TempDir())
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rootCmd.SetArgs([]string{"status", "--server", url})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("status should not fail when the server is down: %v", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServerURL(t *testing.T) {
	cfg := config.Defaults()
	if got := serverURL(cfg); got != "http://localhost:5000" {
		t.Errorf("serverURL = %q", got)
	}
	cfg.Server.BaseURL = ""
	cfg.Server.Port = 8080
	if got := serverURL(cfg); got != "http://localhost:8080" {
		t.Errorf("serverURL = %q", got)
	}
}
