package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// FileOverlay stores settings as a flat JSON object on disk.
type FileOverlay struct {
	mu   sync.RWMutex
	path string
	data map[string]any
}

var _ Overlay = (*FileOverlay)(nil)

// OpenFileOverlay loads the overlay at path. A missing or unreadable file
// yields an empty overlay; the file is created on the first write.
func OpenFileOverlay(path string) *FileOverlay {
	o := &FileOverlay{path: path, data: make(map[string]any)}
	o.load()
	return o
}

// Path returns the backing file location.
func (o *FileOverlay) Path() string {
	return o.path
}

func (o *FileOverlay) load() {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read settings file %s: %v. Using defaults.\n", o.path, err)
		}
		return
	}
	if err := json.Unmarshal(data, &o.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse settings file %s: %v. Using defaults.\n", o.path, err)
		o.data = make(map[string]any)
	}
}

// save must be called with o.mu held for writing.
func (o *FileOverlay) save() error {
	if err := os.MkdirAll(filepath.Dir(o.path), 0o700); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	data, err := json.MarshalIndent(o.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(o.path, data, 0o600)
}

func (o *FileOverlay) Get(key string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.data[key]
	return v, ok
}

func (o *FileOverlay) Snapshot() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.data)
}

func (o *FileOverlay) Apply(set map[string]any, unset []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, v := range set {
		o.data[k] = v
	}
	for _, k := range unset {
		delete(o.data, k)
	}
	return o.save()
}
