package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/drleelm/drleelm/internal/answer"
	"github.com/drleelm/drleelm/internal/retrieval"
	"github.com/drleelm/drleelm/internal/storage"
)

// FlashcardLister is the read side of the flashcard store.
type FlashcardLister interface {
	ListFlashcards(tag string, limit int) ([]storage.Flashcard, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	RAG        RAG
	Answerer   Answerer
	Flashcards FlashcardLister // optional; the flashcards resource is skipped when nil
	Version    string
}

// NewMCPServer creates an MCP server exposing search and question answering
// over the study collections.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"drleelm",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("drleelm: study assistant with document search and grounded answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("rag_search",
			mcp.WithDescription("Search a study collection and return the most relevant passages."),
			mcp.WithString("q", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("ns", mcp.Description("Collection namespace (default drleelm)")),
			mcp.WithNumber("k", mcp.Description("Number of passages, 1-20 (default 6)")),
		),
		mcpRAGSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the study assistant a question, optionally grounded on a collection."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("namespace", mcp.Description("Collection to retrieve context from")),
			mcp.WithString("context", mcp.Description("Material to answer from instead of retrieval")),
		),
		mcpAsk(deps),
	)

	if deps.Flashcards != nil {
		s.AddResource(
			mcp.NewResource(
				"drleelm://flashcards",
				"Recent Flashcards",
				mcp.WithResourceDescription("Last 20 saved flashcards"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceFlashcards(deps),
		)
	}

	return s
}

func mcpRAGSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := req.RequireString("q")
		if err != nil {
			return mcpError("q is required"), nil
		}
		ns := req.GetString("ns", "")
		if _, err := retrieval.NormalizeNamespace(ns, retrieval.DefaultNamespace); err != nil {
			return mcpError(err.Error()), nil
		}
		k := req.GetInt("k", retrieval.DefaultK)

		passages := deps.RAG.Search(ctx, q, ns, k)
		b, err := json.Marshal(passages)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		text, err := deps.Answerer.Answer(ctx, answer.Request{
			Question:  question,
			Namespace: req.GetString("namespace", ""),
			Context:   req.GetString("context", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpResourceFlashcards(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cards, err := deps.Flashcards.ListFlashcards("", 20)
		if err != nil {
			return nil, fmt.Errorf("failed to list flashcards: %w", err)
		}

		type cardSummary struct {
			ID        string `json:"id"`
			Question  string `json:"question"`
			Tag       string `json:"tag,omitempty"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]cardSummary, len(cards))
		for i, c := range cards {
			q := c.Question
			if utf8.RuneCountInString(q) > 200 {
				q = string([]rune(q)[:200]) + "..."
			}
			summaries[i] = cardSummary{
				ID:        c.ID,
				Question:  q,
				Tag:       c.Tag,
				CreatedAt: c.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal flashcards: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
