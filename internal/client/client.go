// Package client talks to a running drleelm server and reconciles the
// WebSocket push with status polling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Status for unknown or expired jobs.
var ErrNotFound = errors.New("job not found")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client is a thin JSON client for the drleelm HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submission is the 202 body of the submit routes.
type Submission struct {
	JobID     string `json:"jobId"`
	NoteID    string `json:"noteId,omitempty"`
	Subscribe string `json:"subscribe"`
}

// Job mirrors the /status/{id} body.
type Job struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	return j.Status == "done" || j.Status == "error"
}

// Submit posts body to path and returns the created job.
func (c *Client) Submit(ctx context.Context, path string, body any) (Submission, error) {
	var sub Submission
	if err := c.Do(ctx, http.MethodPost, path, body, &sub); err != nil {
		return Submission{}, err
	}
	if sub.JobID == "" {
		return Submission{}, errors.New("server returned no job id")
	}
	return sub, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, id string) (Job, error) {
	var job Job
	err := c.Do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, &job)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return Job{}, ErrNotFound
	}
	return job, err
}

// Do sends a JSON request and decodes the response into out when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is drleelm running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wsURL maps the HTTP base to the WebSocket endpoint for (topic, id).
func (c *Client) wsURL(topic, id string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/" + topic + "?id=" + url.QueryEscape(id)
}
