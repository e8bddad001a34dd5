// Package jobs tracks the lifecycle of background answer and notes jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	Pending Status = "pending"
	Running Status = "running"
	Done    Status = "done"
	Error   Status = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == Done || s == Error
}

const (
	DefaultTTL           = 10 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

var (
	ErrNotFound = errors.New("job not found")
	ErrTerminal = errors.New("job already finished")
)

// Job is a snapshot of one tracked job. Result holds the marshalled
// payload so every read returns the same bytes.
type Job struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"-"`
	UpdatedAt time.Time       `json:"-"`
}

// Tracker is a concurrency-safe in-memory job table.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTTL overrides the retention period measured from the last update.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		jobs: make(map[string]*Job),
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Create inserts a Pending job, replacing any job with the same id.
func (t *Tracker) Create(id string) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	j := &Job{ID: id, Status: Pending, CreatedAt: now, UpdatedAt: now}
	t.jobs[id] = j
	return *j
}

// SetRunning moves a Pending job to Running.
func (t *Tracker) SetRunning(id string) error {
	return t.transition(id, Running, func(*Job) {})
}

// SetDone records result, marshalled to JSON, and finishes the job.
func (t *Tracker) SetDone(id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return t.transition(id, Done, func(j *Job) { j.Result = raw })
}

// SetError finishes the job with msg.
func (t *Tracker) SetError(id, msg string) error {
	return t.transition(id, Error, func(j *Job) { j.Error = msg })
}

func (t *Tracker) transition(id string, to Status, apply func(*Job)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, j.Status)
	}
	if to == Running && j.Status == Running {
		return nil
	}
	j.Status = to
	apply(j)
	j.UpdatedAt = t.now()
	return nil
}

// Get returns a snapshot of the job.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok || t.expired(j) {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (t *Tracker) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// Len returns the number of tracked jobs, expired ones included until the
// next sweep.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Sweep removes jobs not updated within the TTL and returns how many.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, j := range t.jobs {
		if t.expired(j) {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}

// must be called with t.mu held.
func (t *Tracker) expired(j *Job) bool {
	return t.now().Sub(j.UpdatedAt) > t.ttl
}

// Run sweeps every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				slog.Debug("swept expired jobs", "count", n)
			}
		}
	}
}
