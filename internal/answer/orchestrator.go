// Package answer turns a question, optional grounding material and prior
// turns into one model completion.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drleelm/drleelm/internal/config"
	"github.com/drleelm/drleelm/internal/provider"
	"github.com/drleelm/drleelm/internal/retrieval"
	"golang.org/x/sync/semaphore"
)

// ErrEmptyQuestion is returned before any model call when the question is blank.
var ErrEmptyQuestion = errors.New("question required")

// Request is one answer to produce.
type Request struct {
	Question     string
	Context      string
	History      []Turn
	SystemPrompt string
	// Label names the grounding document in the context addendum.
	Label string
	Topic string
	// Namespace, when set and Context is empty, fills Context from retrieval.
	Namespace string
	// Timeout overrides the configured generation timeout.
	Timeout time.Duration
}

// Retriever is the subset of retrieval.Store the orchestrator needs.
type Retriever interface {
	GetPassages(ctx context.Context, ns, query string, k int) ([]retrieval.Passage, error)
}

// Options wires an Orchestrator.
type Options struct {
	// Config is read on every call so settings changes apply immediately.
	Config func() config.Config
	// LLM builds the chat model for a configuration. Defaults to provider.Select.
	LLM       func(config.Config) provider.LLM
	Retriever Retriever
	// Concurrency bounds simultaneous generations; 0 means unbounded.
	Concurrency int
	Composer    *Composer
	Logger      *slog.Logger
}

type Orchestrator struct {
	cfg       func() config.Config
	llm       func(config.Config) provider.LLM
	retriever Retriever
	composer  *Composer
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       opts.Config,
		llm:       opts.LLM,
		retriever: opts.Retriever,
		composer:  opts.Composer,
		logger:    opts.Logger,
	}
	if o.cfg == nil {
		o.cfg = config.Defaults
	}
	if o.llm == nil {
		o.llm = func(cfg config.Config) provider.LLM { return provider.Select(cfg).LLM }
	}
	if o.composer == nil {
		o.composer = NewComposer(0)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if opts.Concurrency > 0 {
		o.sem = semaphore.NewWeighted(int64(opts.Concurrency))
	}
	return o
}

// Answer produces the full completion for req. Vendor failures come back
// as *provider.Error; nothing is retried.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", ErrEmptyQuestion
	}
	cfg := o.cfg()

	if strings.TrimSpace(req.Context) == "" && req.Namespace != "" && o.retriever != nil {
		req.Context = o.retrieve(ctx, req.Namespace, req.Question)
	}

	prompt := o.composer.Build(req)

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("waiting for a generation slot: %w", err)
		}
		defer o.sem.Release(1)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = cfg.LLM.Timeout()
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := o.llm(cfg).Generate(genCtx, prompt, provider.GenerateOptions{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("generation timed out after %s: %w", timeout, err)
		}
		return "", err
	}

	o.logger.Debug("answer generated",
		"provider", provider.ChatProviderName(cfg),
		"prompt_tokens", EstimateTokens(prompt),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(text), nil
}

// retrieve joins the non-empty passages for question. Failures are logged
// and yield no context.
func (o *Orchestrator) retrieve(ctx context.Context, ns, question string) string {
	passages, err := o.retriever.GetPassages(ctx, ns, question, retrieval.DefaultK)
	if err != nil {
		o.logger.Warn("retrieval failed, answering without context", "namespace", ns, "error", err)
		return ""
	}
	var parts []string
	for _, p := range passages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
