package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Flat is an exact in-memory index. Vectors are L2-normalised at
// construction, so the dot product equals cosine similarity.
type Flat struct {
	meta    Meta
	chunks  []Chunk
	vectors [][]float32
}

// NewFlat builds a Flat index. chunks and vectors must be parallel and every
// vector must have the same non-zero length.
func NewFlat(meta Meta, chunks []Chunk, vectors [][]float32) (*Flat, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("rag: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	dim := 0
	norm := make([][]float32, len(vectors))
	for i, v := range vectors {
		if i == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("rag: vector %d has dimension %d, want %d", i, len(v), dim)
		}
		norm[i] = Normalize(v)
	}
	meta.Dimension = dim
	meta.Count = len(chunks)
	cs := make([]Chunk, len(chunks))
	copy(cs, chunks)
	return &Flat{meta: meta, chunks: cs, vectors: norm}, nil
}

// Search scores every chunk against query.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ErrInvalidTopK
	}
	if len(f.chunks) == 0 {
		return nil, nil
	}
	if len(query) != f.meta.Dimension {
		return nil, fmt.Errorf("rag: query dimension %d does not match index dimension %d", len(query), f.meta.Dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := Normalize(query)
	hits := make([]Hit, len(f.chunks))
	for i, v := range f.vectors {
		hits[i] = Hit{Chunk: f.chunks[i], Score: dot(q, v)}
	}
	SortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of indexed chunks.
func (f *Flat) Len() int { return len(f.chunks) }

// Meta describes the index.
func (f *Flat) Meta() Meta { return f.meta }

// Close is a no-op.
func (f *Flat) Close() error { return nil }

// SortHits orders hits by descending score, then ascending Seq.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})
}

// Normalize returns v scaled to unit length. A zero vector is returned as a
// zero-valued copy; a vector already of unit length is copied unchanged so
// repeated normalisation is stable.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	if math.Abs(sum-1) < 1e-6 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}
