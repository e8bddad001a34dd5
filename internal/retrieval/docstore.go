package retrieval

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Document is one entry of a namespace collection as stored on disk.
type Document struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata"`
}

// Passage is a retrieved snippet.
type Passage struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// DocStore keeps each namespace as <dir>/<ns>.json.
type DocStore struct {
	dir string
}

func NewDocStore(dir string) *DocStore {
	return &DocStore{dir: dir}
}

func (d *DocStore) Dir() string {
	return d.dir
}

func (d *DocStore) path(ns string) string {
	return filepath.Join(d.dir, ns+".json")
}

// Load reads a namespace. A missing or unparsable file yields no documents.
func (d *DocStore) Load(ns string) ([]Document, error) {
	data, err := os.ReadFile(d.path(ns))
	if os.IsNotExist(err) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading namespace %s: %w", ns, err)
	}

	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		slog.Warn("ignoring unparsable namespace file", "namespace", ns, "error", err)
		return []Document{}, nil
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
	}
	return docs, nil
}

// Save replaces a namespace's documents. The file is written to a temp
// name and renamed so readers never see a partial collection.
func (d *DocStore) Save(ns string, docs []Document) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("creating json dir: %w", err)
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ns+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing namespace %s: %w", ns, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), d.path(ns)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing namespace %s: %w", ns, err)
	}
	return nil
}
