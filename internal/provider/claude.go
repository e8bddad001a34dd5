package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drleelm/drleelm/internal/proxy"
)

const (
	claudeBaseURL    = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	// The messages API requires max_tokens.
	claudeDefaultMaxTokens = 4096
)

// ErrNoEmbeddings is returned for providers without an embeddings API.
var ErrNoEmbeddings = errors.New("provider has no embeddings API")

// ClaudeLLM talks to the Anthropic messages API.
type ClaudeLLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClaudeLLM returns a Claude chat model.
func NewClaudeLLM(apiKey, model string) (*ClaudeLLM, error) {
	if apiKey == "" {
		return nil, missingKey(Claude, "ANTHROPIC_API_KEY")
	}
	return newClaudeLLM(apiKey, model), nil
}

func newClaudeLLM(apiKey, model string) *ClaudeLLM {
	return &ClaudeLLM{
		apiKey:     apiKey,
		model:      model,
		baseURL:    claudeBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *ClaudeLLM) withBaseURL(u string) *ClaudeLLM {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *ClaudeLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}
	// Anthropic accepts temperatures in [0, 1].
	temp := min(max(opts.Temperature, 0), 1)

	var resp claudeResponse
	err := c.do(ctx, http.MethodPost, "/messages", claudeRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temp,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	}, &resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

type claudeModel struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

func (c *ClaudeLLM) listModels(ctx context.Context) ([]claudeModel, error) {
	var resp struct {
		Data []claudeModel `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *ClaudeLLM) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return wrapErr(Claude, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapErr(Claude, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Provider: Claude, Status: resp.StatusCode, Message: proxy.VendorMessage(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapErr(Claude, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
