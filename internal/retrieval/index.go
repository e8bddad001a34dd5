package retrieval

import (
	"container/heap"
	"context"
	"math"
)

// memIndex is an in-process cosine index over one namespace's documents.
type memIndex struct {
	docs     []Document
	vecs     [][]float32
	embedder *Embedder
}

// buildIndex embeds every document. Documents with empty content stay in
// the index but never match.
func buildIndex(ctx context.Context, docs []Document, e *Embedder) (*memIndex, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return &memIndex{docs: docs, vecs: vecs, embedder: e}, nil
}

func (ix *memIndex) retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if len(ix.docs) == 0 {
		return []Passage{}, nil
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.search(vec, k), nil
}

// search returns the k most similar documents, best first.
func (ix *memIndex) search(vector []float32, k int) []Passage {
	queryNorm := norm(vector)
	if queryNorm == 0 || k <= 0 {
		return []Passage{}
	}

	h := &scoredHeap{}
	heap.Init(h)
	for i, v := range ix.vecs {
		if len(v) == 0 {
			continue
		}
		score := dotProduct(vector, v, queryNorm)
		if h.Len() < k {
			heap.Push(h, scored{idx: i, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = scored{idx: i, score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]Passage, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(h).(scored)
		d := ix.docs[item.idx]
		out[i] = Passage{Text: d.PageContent, Meta: d.Metadata}
	}
	return out
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

type scored struct {
	idx   int
	score float32
}

// scoredHeap is a min-heap ordered by score, used to keep the top-K.
type scoredHeap []scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
