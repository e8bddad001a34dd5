// Package notes generates Markdown study notes and stores them under the
// storage directory so they can be served as static files.
package notes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/drleelm/drleelm/internal/answer"
	"github.com/drleelm/drleelm/internal/document"
)

// Timeout bounds a single notes generation.
const Timeout = 120 * time.Second

// ErrNoInput is returned when none of topic, notes or file is given.
var ErrNoInput = errors.New("provide topic, notes, or filePath")

const systemPrompt = `You are DrLeeLM's note writer.
Produce well organised study notes in Markdown.
Start with a level-one heading naming the subject, then use sections with short bullet points,
key definitions in bold, a worked example where it helps, and finish with a "Key takeaways" list.
Do not wrap the output in code fences.`

// Input is a notes request.
type Input struct {
	Topic    string `json:"topic"`
	Notes    string `json:"notes"`
	FilePath string `json:"filePath"`
}

// Answerer produces the notes text.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (string, error)
}

// Generator writes notes files into Dir and links them under BaseURL.
type Generator struct {
	answerer Answerer
	resolver *document.Resolver
	dir      string
	baseURL  func() string
}

// NewGenerator creates a Generator. dir is usually <storage>/smartnotes and
// baseURL is read per call so settings changes apply.
func NewGenerator(a Answerer, resolver *document.Resolver, dir string, baseURL func() string) *Generator {
	return &Generator{answerer: a, resolver: resolver, dir: dir, baseURL: baseURL}
}

// Request is a validated Input with any referenced document already read.
type Request struct {
	Input
	Document *document.Document
}

// Prepare validates in and loads the referenced document so request errors
// surface before a job is created.
func (g *Generator) Prepare(in Input) (Request, error) {
	in.Topic = strings.TrimSpace(in.Topic)
	in.FilePath = strings.TrimSpace(in.FilePath)
	if in.Topic == "" && strings.TrimSpace(in.Notes) == "" && in.FilePath == "" {
		return Request{}, ErrNoInput
	}
	req := Request{Input: in}
	if in.FilePath != "" {
		doc, err := g.resolver.Load(in.FilePath)
		if err != nil {
			return Request{}, err
		}
		req.Document = &doc
	}
	return req, nil
}

// Result locates a generated notes file.
type Result struct {
	File string `json:"file"`
	Path string `json:"-"`
}

// Generate runs the model and writes <dir>/<slug>-<id>.md.
func (g *Generator) Generate(ctx context.Context, id string, req Request) (Result, error) {
	var material []string
	label := ""
	if req.Document != nil {
		material = append(material, req.Document.Text)
		label = req.Document.Name
	}
	if n := strings.TrimSpace(req.Notes); n != "" {
		material = append(material, n)
	}

	subject := req.Topic
	if subject == "" {
		subject = label
	}
	question := "Write study notes"
	if subject != "" {
		question += " on " + subject
	}
	if len(material) > 0 {
		question += " using the supplied material"
	}

	text, err := g.answerer.Answer(ctx, answer.Request{
		Question:     question + ".",
		Context:      strings.Join(material, "\n\n"),
		SystemPrompt: systemPrompt,
		Label:        label,
		Timeout:      Timeout,
	})
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating notes dir: %w", err)
	}
	name := fileName(subject, id)
	path := filepath.Join(g.dir, name)
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing notes: %w", err)
	}

	return Result{
		File: strings.TrimRight(g.baseURL(), "/") + "/storage/" + filepath.Base(g.dir) + "/" + name,
		Path: path,
	}, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func fileName(subject, id string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(subject), "-"), "-")
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	if slug == "" {
		return "notes-" + short + ".md"
	}
	return slug + "-" + short + ".md"
}
