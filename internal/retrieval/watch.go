package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates a namespace whenever its JSON file in dir is created,
// rewritten, removed or renamed. It returns once the watcher is running and
// stops when ctx is done.
func (s *Store) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating watch dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				ns, ok := namespaceFromPath(event.Name)
				if !ok {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.Invalidate(ns)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("namespace watcher error", "error", err)
			}
		}
	}()
	return nil
}

func namespaceFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".json" {
		return "", false
	}
	ns := strings.TrimSuffix(base, ".json")
	if !namespacePattern.MatchString(ns) {
		return "", false
	}
	return ns, true
}
