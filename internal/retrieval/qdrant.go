package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCollectionNotFound is returned when a namespace has no Qdrant collection.
var ErrCollectionNotFound = errors.New("collection not found")

// QdrantClient is a minimal REST client to Qdrant using cosine distance.
type QdrantClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewQdrantClient(baseURL, apiKey string) *QdrantClient {
	return &QdrantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Recreate drops the collection if present and creates it empty.
func (q *QdrantClient) Recreate(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	err := q.do(ctx, http.MethodDelete, "/collections/"+url.PathEscape(collection), nil, nil)
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection), body, nil)
}

// Upsert writes one point per document. Point ids are derived from the
// collection name and position so a rewrite replaces the same points.
func (q *QdrantClient) Upsert(ctx context.Context, collection string, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return errors.New("documents and vectors length mismatch")
	}
	points := make([]map[string]any, 0, len(docs))
	for i, d := range docs {
		if len(vectors[i]) == 0 {
			continue
		}
		points = append(points, map[string]any{
			"id":     pointID(collection, i).String(),
			"vector": vectors[i],
			"payload": map[string]any{
				"text": d.PageContent,
				"meta": d.Metadata,
			},
		})
	}
	if len(points) == 0 {
		return nil
	}
	path := "/collections/" + url.PathEscape(collection) + "/points?wait=true"
	return q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
}

// Search returns the limit nearest points as passages, best first.
func (q *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Passage, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				Text string         `json:"text"`
				Meta map[string]any `json:"meta"`
			} `json:"payload"`
		} `json:"result"`
	}
	path := "/collections/" + url.PathEscape(collection) + "/points/search"
	if err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	out := make([]Passage, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, Passage{Text: r.Payload.Text, Meta: r.Payload.Meta})
	}
	return out, nil
}

func pointID(collection string, i int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("drleelm:"+collection+":"+strconv.Itoa(i)))
}

func (q *QdrantClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling qdrant request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, path, ErrCollectionNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
