package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestStore(t *testing.T, embedFn func(context.Context, string) ([]float32, error)) (*Store, *DocStore) {
	t.Helper()
	docs := NewDocStore(t.TempDir())
	e := NewEmbedder(&mockEmbeddings{embedFn: embedFn}, "m", nil)
	s := NewStore(Options{Mode: ModeJSON, Docs: docs}, func() *Embedder { return e })
	return s, docs
}

func TestClampK(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 6}, {-3, 6}, {1, 1}, {6, 6}, {20, 20}, {21, 20}, {1000, 20},
	}
	for _, tt := range tests {
		if got := ClampK(tt.in); got != tt.want {
			t.Errorf("ClampK(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeNamespace(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"", "drleelm", false},
		{"  ", "drleelm", false},
		{"notes_1.v2-x", "notes_1.v2-x", false},
		{"../etc", "", true},
		{"a/b", "", true},
		{"..", "", true},
		{"with space", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeNamespace(tt.in, "")
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeNamespace(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidNamespace) {
			t.Errorf("expected ErrInvalidNamespace, got %v", err)
		}
		if got != tt.want {
			t.Errorf("NormalizeNamespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got, _ := NormalizeNamespace("", "course"); got != "course" {
		t.Errorf("fallback not used: %q", got)
	}
}

func TestGetPassages_EmptyQuery(t *testing.T) {
	s, _ := newTestStore(t, func(context.Context, string) ([]float32, error) {
		t.Error("embed must not be called for an empty query")
		return nil, nil
	})

	out, err := s.GetPassages(context.Background(), "", "   ", 4)
	if err != nil {
		t.Fatalf("GetPassages: %v", err)
	}
	if len(out) != 1 || out[0].Text != "" {
		t.Errorf("got %+v, want single empty passage", out)
	}
}

func TestGetPassages_JSONMode(t *testing.T) {
	s, docs := newTestStore(t, wordVector)
	if err := docs.Save("bio", testDocs()); err != nil {
		t.Fatal(err)
	}

	out, err := s.GetPassages(context.Background(), "bio", "cell", 1)
	if err != nil {
		t.Fatalf("GetPassages: %v", err)
	}
	if len(out) != 1 || out[0].Meta["src"] == "chem" {
		t.Errorf("unexpected passages %+v", out)
	}
	if !s.Cached("bio") {
		t.Error("retriever should be cached after first query")
	}
}

func TestGetPassages_EmbeddingFailurePropagates(t *testing.T) {
	s, docs := newTestStore(t, func(context.Context, string) ([]float32, error) {
		return nil, errors.New("missing key")
	})
	docs.Save("bio", testDocs())

	if _, err := s.GetPassages(context.Background(), "bio", "cell", 4); err == nil {
		t.Error("expected embedding error")
	}
	if s.Cached("bio") {
		t.Error("failed build must not be cached")
	}
}

func TestSearch_Degrades(t *testing.T) {
	s, docs := newTestStore(t, func(context.Context, string) ([]float32, error) {
		return nil, errors.New("missing key")
	})
	docs.Save("bio", testDocs())

	out := s.Search(context.Background(), "cell", "bio", 4)
	if len(out) != 1 || out[0].Text != "" {
		t.Errorf("got %+v, want single empty passage", out)
	}

	out = s.Search(context.Background(), "cell", "../bad", 4)
	if len(out) != 1 || out[0].Text != "" {
		t.Errorf("invalid namespace: got %+v", out)
	}
}

func TestSearch_EmptyNamespaceDegrades(t *testing.T) {
	s, _ := newTestStore(t, wordVector)
	out := s.Search(context.Background(), "cell", "nothing-here", 4)
	if len(out) != 1 || out[0].Text != "" {
		t.Errorf("got %+v, want single empty passage", out)
	}
}

func TestSaveDocuments_Invalidates(t *testing.T) {
	s, _ := newTestStore(t, wordVector)
	ctx := context.Background()

	if err := s.SaveDocuments(ctx, "ns", []Document{{PageContent: "An atom."}}); err != nil {
		t.Fatalf("SaveDocuments: %v", err)
	}
	out, err := s.GetPassages(ctx, "ns", "atom", 4)
	if err != nil || len(out) != 1 {
		t.Fatalf("got %v, %v", out, err)
	}

	if err := s.SaveDocuments(ctx, "ns", []Document{{PageContent: "A river."}, {PageContent: "A planet."}}); err != nil {
		t.Fatal(err)
	}
	if s.Cached("ns") {
		t.Error("cache should be dropped on write")
	}
	out, err = s.GetPassages(ctx, "ns", "river", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Text != "A river." {
		t.Errorf("stale results after rewrite: %+v", out)
	}

	stored, err := s.Documents("ns")
	if err != nil || len(stored) != 2 {
		t.Errorf("Documents: %v, %v", stored, err)
	}
}

func TestGetPassages_ConcurrentBuildsShared(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	s, docs := newTestStore(t, func(ctx context.Context, text string) ([]float32, error) {
		if text == "A river." {
			calls.Add(1)
			<-gate
		}
		return wordVector(ctx, text)
	})
	docs.Save("ns", []Document{{PageContent: "A river."}})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetPassages(context.Background(), "ns", "river", 2)
			errs <- err
		}()
	}
	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("GetPassages: %v", err)
		}
	}
	// Goroutines that arrive after the first build finished hit the cache.
	if got := calls.Load(); got != 1 {
		t.Errorf("document embedded %d times, want 1", got)
	}
}

func TestRetriever_RebuiltWhenModelChanges(t *testing.T) {
	docs := NewDocStore(t.TempDir())
	docs.Save("ns", []Document{{PageContent: "A cell."}})
	model := "a"
	s := NewStore(Options{Docs: docs}, func() *Embedder {
		return NewEmbedder(&mockEmbeddings{embedFn: wordVector}, model, nil)
	})

	ctx := context.Background()
	s.GetPassages(ctx, "ns", "cell", 1)
	r1, _ := s.retriever(ctx, "ns")
	model = "b"
	r2, _ := s.retriever(ctx, "ns")
	if r1 == r2 {
		t.Error("expected a new retriever after the embedding model changed")
	}
}

func TestInvalidate_DiscardsInFlightBuild(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	s, docs := newTestStore(t, func(ctx context.Context, text string) ([]float32, error) {
		if text == "A cell." {
			select {
			case started <- struct{}{}:
			default:
			}
			<-gate
		}
		return wordVector(ctx, text)
	})
	docs.Save("ns", []Document{{PageContent: "A cell."}})

	done := make(chan struct{})
	go func() {
		s.GetPassages(context.Background(), "ns", "cell", 1)
		close(done)
	}()
	<-started
	s.Invalidate("ns")
	close(gate)
	<-done

	if s.Cached("ns") {
		t.Error("build started before invalidation must not be cached")
	}
}
