package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Retrieval backends.
const (
	ModeJSON   = "json"
	ModeQdrant = "qdrant"
)

const (
	DefaultNamespace = "drleelm"
	DefaultK         = 6
	MaxK             = 20
)

var ErrInvalidNamespace = errors.New("invalid namespace")

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ClampK maps non-positive k to DefaultK and caps it at MaxK.
func ClampK(k int) int {
	switch {
	case k <= 0:
		return DefaultK
	case k > MaxK:
		return MaxK
	}
	return k
}

// NormalizeNamespace trims ns, substitutes the default for an empty value
// and rejects names that are not safe as file or collection names.
func NormalizeNamespace(ns, fallback string) (string, error) {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		ns = fallback
	}
	if ns == "" {
		ns = DefaultNamespace
	}
	if !namespacePattern.MatchString(ns) || ns == "." || ns == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return ns, nil
}

// EmbedderFunc returns the embedder for the current settings.
type EmbedderFunc func() *Embedder

type retriever interface {
	retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

type cachedRetriever struct {
	model string
	r     retriever
}

// Options configures a Store.
type Options struct {
	Mode             string
	Docs             *DocStore
	Qdrant           *QdrantClient
	DefaultNamespace string
	Logger           *slog.Logger
}

// Store answers passage lookups against per-namespace collections.
// Retrievers are built lazily, cached per namespace and dropped on write.
type Store struct {
	mode     string
	docs     *DocStore
	qdrant   *QdrantClient
	defNS    string
	embedder EmbedderFunc
	logger   *slog.Logger

	mu         sync.Mutex
	retrievers map[string]cachedRetriever
	gens       map[string]uint64
	builds     singleflight.Group
}

func NewStore(opts Options, embedder EmbedderFunc) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := opts.Mode
	if mode != ModeQdrant {
		mode = ModeJSON
	}
	return &Store{
		mode:       mode,
		docs:       opts.Docs,
		qdrant:     opts.Qdrant,
		defNS:      opts.DefaultNamespace,
		embedder:   embedder,
		logger:     logger,
		retrievers: make(map[string]cachedRetriever),
		gens:       make(map[string]uint64),
	}
}

func (s *Store) Mode() string {
	return s.mode
}

// GetPassages returns up to k passages from ns most similar to query.
// An empty query returns a single empty passage without touching the index.
func (s *Store) GetPassages(ctx context.Context, ns, query string, k int) ([]Passage, error) {
	k = ClampK(k)
	ns, err := NormalizeNamespace(ns, s.defNS)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Passage{{Text: ""}}, nil
	}

	r, err := s.retriever(ctx, ns)
	if err != nil {
		return nil, err
	}
	return r.retrieve(ctx, query, k)
}

// Search is GetPassages for tool callers: any failure or empty result
// becomes a single empty passage.
func (s *Store) Search(ctx context.Context, query, ns string, k int) []Passage {
	out, err := s.GetPassages(ctx, ns, query, k)
	if err != nil {
		s.logger.Warn("rag search failed", "namespace", ns, "error", err)
		return []Passage{{Text: ""}}
	}
	if len(out) == 0 {
		return []Passage{{Text: ""}}
	}
	return out
}

// Documents returns the stored collection for ns.
func (s *Store) Documents(ns string) ([]Document, error) {
	ns, err := NormalizeNamespace(ns, s.defNS)
	if err != nil {
		return nil, err
	}
	return s.docs.Load(ns)
}

// SaveDocuments replaces the collection for ns and drops its cached retriever.
func (s *Store) SaveDocuments(ctx context.Context, ns string, docs []Document) error {
	ns, err := NormalizeNamespace(ns, s.defNS)
	if err != nil {
		return err
	}
	defer s.Invalidate(ns)

	if s.mode == ModeJSON {
		return s.docs.Save(ns, docs)
	}

	if s.qdrant == nil {
		return errors.New("qdrant mode without a qdrant client")
	}
	e := s.embedder()
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	dim := 0
	for _, v := range vecs {
		if len(v) > 0 {
			dim = len(v)
			break
		}
	}
	if dim == 0 {
		return errors.New("no embeddable documents")
	}
	if err := s.qdrant.Recreate(ctx, ns, dim); err != nil {
		return err
	}
	return s.qdrant.Upsert(ctx, ns, docs, vecs)
}

// Invalidate drops the cached retriever for ns. Builds already in flight
// finish but their result is not cached.
func (s *Store) Invalidate(ns string) {
	s.mu.Lock()
	delete(s.retrievers, ns)
	s.gens[ns]++
	s.mu.Unlock()
	s.logger.Debug("retriever cache invalidated", "namespace", ns)
}

// Cached reports whether ns currently has a cached retriever.
func (s *Store) Cached(ns string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.retrievers[ns]
	return ok
}

func (s *Store) retriever(ctx context.Context, ns string) (retriever, error) {
	e := s.embedder()

	s.mu.Lock()
	if c, ok := s.retrievers[ns]; ok && c.model == e.Model() {
		s.mu.Unlock()
		return c.r, nil
	}
	gen := s.gens[ns]
	s.mu.Unlock()

	key := fmt.Sprintf("%s\x00%s\x00%d", ns, e.Model(), gen)
	v, err, _ := s.builds.Do(key, func() (any, error) {
		r, err := s.build(context.WithoutCancel(ctx), ns, e)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.gens[ns] == gen {
			s.retrievers[ns] = cachedRetriever{model: e.Model(), r: r}
		}
		s.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(retriever), nil
}

func (s *Store) build(ctx context.Context, ns string, e *Embedder) (retriever, error) {
	if s.mode == ModeQdrant {
		if s.qdrant == nil {
			return nil, errors.New("qdrant mode without a qdrant client")
		}
		return &qdrantRetriever{client: s.qdrant, collection: ns, embedder: e}, nil
	}

	docs, err := s.docs.Load(ns)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		s.logger.Warn("namespace has no documents", "namespace", ns)
	}
	ix, err := buildIndex(ctx, docs, e)
	if err != nil {
		return nil, fmt.Errorf("building index for %s: %w", ns, err)
	}
	s.logger.Debug("index built", "namespace", ns, "documents", len(docs))
	return ix, nil
}

type qdrantRetriever struct {
	client     *QdrantClient
	collection string
	embedder   *Embedder
}

func (q *qdrantRetriever) retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	out, err := q.client.Search(ctx, q.collection, vec, k)
	if errors.Is(err, ErrCollectionNotFound) {
		return []Passage{}, nil
	}
	return out, err
}
