package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultInitialDelay   = 500 * time.Millisecond
	DefaultConnectedDelay = 2 * time.Second
	DefaultTimeout        = 45 * time.Second
	DefaultMaxPollErrors  = 3
)

var (
	ErrTimeout    = errors.New("timed out waiting for the answer")
	ErrPollFailed = errors.New("status polling failed repeatedly")
)

// JobError is a job that ended in the error state.
type JobError struct {
	ID      string
	Message string
}

func (e *JobError) Error() string {
	return e.Message
}

// Outcome is the first terminal result seen for a job.
type Outcome struct {
	ID     string
	Answer string
	File   string
	// Via is "ws" or "poll".
	Via string
}

// Waiter waits for a job result over the WebSocket and by polling at the
// same time. Whichever reports a terminal state first wins.
type Waiter struct {
	client         *Client
	dialer         *websocket.Dialer
	PollInterval   time.Duration
	InitialDelay   time.Duration
	ConnectedDelay time.Duration
	Timeout        time.Duration
	MaxPollErrors  int
	Logger         *slog.Logger
}

func NewWaiter(c *Client) *Waiter {
	return &Waiter{
		client:         c,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		PollInterval:   DefaultPollInterval,
		InitialDelay:   DefaultInitialDelay,
		ConnectedDelay: DefaultConnectedDelay,
		Timeout:        DefaultTimeout,
		MaxPollErrors:  DefaultMaxPollErrors,
		Logger:         slog.Default(),
	}
}

type result struct {
	outcome Outcome
	err     error
}

// Wait blocks until the job on topic finishes, the timeout passes, or
// polling fails MaxPollErrors times in a row while no socket is open.
func (w *Waiter) Wait(ctx context.Context, topic, id string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	results := make(chan result, 2)
	pollFailed := make(chan struct{})
	var connected atomic.Bool
	wsDone := make(chan struct{})

	go func() {
		defer close(wsDone)
		w.listen(ctx, topic, id, &connected, results)
	}()
	go w.poll(ctx, id, &connected, results, pollFailed)

	for {
		select {
		case r := <-results:
			return r.outcome, r.err
		case <-pollFailed:
			if !connected.Load() {
				return Outcome{}, ErrPollFailed
			}
			pollFailed = nil
		case <-wsDone:
			select {
			case r := <-results:
				return r.outcome, r.err
			default:
			}
			// Socket is gone; polling carries on alone.
			connected.Store(false)
			wsDone = nil
			if pollFailed == nil {
				return Outcome{}, ErrPollFailed
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Outcome{}, ErrTimeout
			}
			return Outcome{}, ctx.Err()
		}
	}
}

type frame struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Answer *string `json:"answer"`
	File   string  `json:"file"`
	Error  string  `json:"error"`
}

func (w *Waiter) listen(ctx context.Context, topic, id string, connected *atomic.Bool, out chan<- result) {
	conn, _, err := w.dialer.DialContext(ctx, w.client.wsURL(topic, id), nil)
	if err != nil {
		w.Logger.Debug("websocket unavailable, polling only", "error", err)
		return
	}
	connected.Store(true)
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				w.Logger.Debug("websocket closed", "error", err)
			}
			return
		}
		if f.ID != "" && f.ID != id {
			continue
		}
		var r result
		switch f.Type {
		case "answer":
			r.outcome = Outcome{ID: id, Via: "ws"}
			if f.Answer != nil {
				r.outcome.Answer = *f.Answer
			}
		case "done":
			r.outcome = Outcome{ID: id, File: f.File, Via: "ws"}
		case "error":
			r.err = &JobError{ID: id, Message: f.Error}
		default:
			continue
		}
		out <- r
		return
	}
}

func (w *Waiter) poll(ctx context.Context, id string, connected *atomic.Bool, out chan<- result, failed chan<- struct{}) {
	if !sleep(ctx, w.InitialDelay) {
		return
	}
	if connected.Load() && w.ConnectedDelay > w.InitialDelay {
		if !sleep(ctx, w.ConnectedDelay-w.InitialDelay) {
			return
		}
	}

	errCount := 0
	for {
		job, err := w.client.Status(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			errCount++
			w.Logger.Debug("status poll failed", "job_id", id, "attempt", errCount, "error", err)
			if errCount >= w.MaxPollErrors {
				close(failed)
				return
			}
		case job.Terminal():
			out <- jobResult(id, job)
			return
		default:
			errCount = 0
		}
		if !sleep(ctx, w.PollInterval) {
			return
		}
	}
}

func jobResult(id string, job Job) result {
	if job.Status == "error" {
		return result{err: &JobError{ID: id, Message: job.Error}}
	}
	var payload struct {
		Answer string `json:"answer"`
		File   string `json:"file"`
	}
	if len(job.Result) > 0 {
		if err := json.Unmarshal(job.Result, &payload); err != nil {
			return result{err: err}
		}
	}
	return result{outcome: Outcome{ID: id, Answer: payload.Answer, File: payload.File, Via: "poll"}}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
