// Package document resolves user-supplied document references to files
// under the allowed roots and extracts their text.
package document

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// MaxBytes is the largest file the reader accepts.
const MaxBytes = 1536 * 1024

var (
	ErrNotFound = errors.New("document not found or not accessible")
	ErrTooLarge = errors.New("document too large for companion (limit 1.5MB)")
	ErrEmpty    = errors.New("document is empty")
)

// Resolver maps a path or URL to a regular file inside one of its roots.
type Resolver struct {
	roots []string
}

// NewResolver confines lookups to roots, which are made absolute.
func NewResolver(roots ...string) (*Resolver, error) {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", r, err)
		}
		abs = append(abs, a)
	}
	return &Resolver{roots: abs}, nil
}

// normalize strips a URL down to its path and converts backslashes.
func normalize(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		s = u.Path
	}
	return strings.ReplaceAll(s, `\`, "/")
}

// Resolve returns the absolute path of the referenced file or ErrNotFound.
func (r *Resolver) Resolve(input string) (string, error) {
	norm := normalize(input)
	if norm == "" {
		return "", ErrNotFound
	}

	var candidates []string
	if filepath.IsAbs(norm) {
		candidates = append(candidates, filepath.Clean(norm))
	}
	rel := strings.TrimLeft(norm, "/")
	for _, root := range r.roots {
		candidates = append(candidates, filepath.Join(root, rel))
		// "/storage/x.md" names a file inside the storage root itself.
		if after, ok := strings.CutPrefix(rel, filepath.Base(root)+"/"); ok {
			candidates = append(candidates, filepath.Join(root, after))
		}
	}

	for _, c := range candidates {
		if !r.contains(c) {
			continue
		}
		resolved, err := filepath.EvalSymlinks(c)
		if err != nil || !r.contains(resolved) {
			continue
		}
		info, err := os.Stat(resolved)
		if err == nil && info.Mode().IsRegular() {
			return resolved, nil
		}
	}
	return "", ErrNotFound
}

func (r *Resolver) contains(p string) bool {
	for _, root := range r.roots {
		rootReal := root
		if rr, err := filepath.EvalSymlinks(root); err == nil {
			rootReal = rr
		}
		for _, base := range []string{root, rootReal} {
			rel, err := filepath.Rel(base, p)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, "../") && !filepath.IsAbs(rel) {
				return true
			}
		}
	}
	return false
}
