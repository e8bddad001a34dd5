package realtime

import "time"

// Message types pushed to subscribers.
const (
	TypeReady    = "ready"
	TypeThinking = "thinking"
	TypeAnswer   = "answer"
	TypeDone     = "done"
	TypeError    = "error"
	TypePing     = "ping"
)

// Message is one JSON frame sent to a subscriber.
type Message struct {
	Type   string  `json:"type"`
	ID     string  `json:"id,omitempty"`
	Answer *string `json:"answer,omitempty"`
	File   string  `json:"file,omitempty"`
	Error  string  `json:"error,omitempty"`
	T      int64   `json:"t,omitempty"`
}

func Ready(id string) Message    { return Message{Type: TypeReady, ID: id} }
func Thinking(id string) Message { return Message{Type: TypeThinking, ID: id} }

// Answer is the terminal frame for answer and companion jobs.
func Answer(id, answer string) Message {
	return Message{Type: TypeAnswer, ID: id, Answer: &answer}
}

// NoteDone is the terminal frame for smartnotes jobs.
func NoteDone(id, file string) Message {
	return Message{Type: TypeDone, ID: id, File: file}
}

func Failed(id, msg string) Message {
	return Message{Type: TypeError, ID: id, Error: msg}
}

func ping(now time.Time) Message {
	return Message{Type: TypePing, T: now.UnixMilli()}
}
