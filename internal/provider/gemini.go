package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drleelm/drleelm/internal/proxy"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient talks to the Google Generative Language REST API.
type GeminiClient struct {
	apiKey     string
	model      string
	embedModel string
	baseURL    string
	httpClient *http.Client
}

func newGeminiClient(apiKey, model, embedModel string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		baseURL:    geminiBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// NewGeminiLLM returns a Gemini chat model. The API key is required.
func NewGeminiLLM(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, missingKey(Gemini, "gemini or GOOGLE_API_KEY")
	}
	return newGeminiClient(apiKey, model, ""), nil
}

// NewGeminiEmbeddings never fails; a missing key is reported by Embed.
func NewGeminiEmbeddings(apiKey, embedModel string) *GeminiClient {
	return newGeminiClient(apiKey, "", embedModel)
}

func (c *GeminiClient) withBaseURL(u string) *GeminiClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	temp := opts.Temperature
	req.GenerationConfig = &geminiGenerationConfig{Temperature: &temp, MaxOutputTokens: opts.MaxTokens}

	var resp geminiGenerateResponse
	if err := c.post(ctx, "/models/"+c.model+":generateContent", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", &Error{Provider: Gemini, Message: "prompt blocked: " + resp.PromptFeedback.BlockReason}
		}
		return "", nil
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := geminiEmbedRequest{
		Model:   "models/" + c.embedModel,
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	}
	var resp geminiEmbedResponse
	if err := c.post(ctx, "/models/"+c.embedModel+":embedContent", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, &Error{Provider: Gemini, Message: "empty embedding"}
	}
	return resp.Embedding.Values, nil
}

type geminiModel struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

func (c *GeminiClient) listModels(ctx context.Context) ([]geminiModel, error) {
	var resp struct {
		Models []geminiModel `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/models?pageSize=1000", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

func (c *GeminiClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *GeminiClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.apiKey == "" {
		return missingKey(Gemini, "gemini or GOOGLE_API_KEY")
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return wrapErr(Gemini, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapErr(Gemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Provider: Gemini, Status: resp.StatusCode, Message: proxy.VendorMessage(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapErr(Gemini, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
