package answer

import (
	"fmt"
	"strings"
)

// BaseSystemPrompt is the default instruction set for every answer.
const BaseSystemPrompt = `You are DrLeeLM, a patient study assistant.
Explain concepts clearly and accurately, building from fundamentals when the learner seems unsure.
Prefer short paragraphs, worked examples and bullet points over long prose.
Use Markdown for structure and LaTeX ($...$) for mathematics.
If you do not know something, say so instead of inventing facts.`

const defaultHistoryTokens = 2000

// Turn is one prior exchange in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextFocus is appended to the system prompt when the answer must be
// grounded in supplied material. label names the document, if known.
func ContextFocus(label string) string {
	focus := " for this document"
	if label != "" {
		focus = fmt.Sprintf(" for the document %q", label)
	}
	return "CONTEXT FOCUS\n" +
		"You are an AI companion" + focus + ". Use ONLY the supplied context to respond.\n" +
		"If the context is insufficient, say so clearly rather than guessing.\n" +
		"Favor concise, actionable study guidance grounded in the provided material."
}

// Composer assembles the single prompt sent to the model.
type Composer struct {
	MaxHistoryTokens int
}

// NewComposer creates a Composer with the given token budget for history.
// If maxHistoryTokens <= 0, the default (2000) is used.
func NewComposer(maxHistoryTokens int) *Composer {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = defaultHistoryTokens
	}
	return &Composer{MaxHistoryTokens: maxHistoryTokens}
}

// Build lays out system instructions, the context addendum and context,
// trimmed history and finally the question.
func (c *Composer) Build(req Request) string {
	var sb strings.Builder

	system := strings.TrimSpace(req.SystemPrompt)
	if system == "" {
		system = BaseSystemPrompt
	}
	sb.WriteString(system)

	if ctxText := strings.TrimSpace(req.Context); ctxText != "" {
		if !strings.Contains(system, "CONTEXT FOCUS") {
			sb.WriteString("\n\n")
			sb.WriteString(ContextFocus(req.Label))
		}
		sb.WriteString("\n\n[Context]\n")
		sb.WriteString(ctxText)
	}

	if req.Topic != "" {
		sb.WriteString("\n\n[Topic]\n")
		sb.WriteString(req.Topic)
	}

	if turns := c.trimHistory(req.History); len(turns) > 0 {
		sb.WriteString("\n\n[Conversation]\n")
		for _, t := range turns {
			sb.WriteString(formatTurn(t))
		}
	}

	sb.WriteString("\n\n[Question]\n")
	sb.WriteString(strings.TrimSpace(req.Question))
	return sb.String()
}

// trimHistory keeps the newest turns that fit the budget, dropping the
// oldest first. Empty turns are skipped.
func (c *Composer) trimHistory(history []Turn) []Turn {
	remaining := c.MaxHistoryTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		if strings.TrimSpace(history[i].Content) == "" {
			continue
		}
		tokens := EstimateTokens(formatTurn(history[i]))
		if tokens > remaining {
			break
		}
		remaining -= tokens
		start = i
	}

	var out []Turn
	for _, t := range history[start:] {
		if strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	return out
}

func formatTurn(t Turn) string {
	role := strings.ToLower(strings.TrimSpace(t.Role))
	switch role {
	case "assistant", "ai", "bot", "model":
		role = "assistant"
	default:
		role = "user"
	}
	return role + ": " + strings.TrimSpace(t.Content) + "\n"
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
