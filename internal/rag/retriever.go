package rag

import (
	"context"
	"fmt"
)

// IndexSource returns the current index, or nil when none is ready.
type IndexSource func() Index

// Retriever embeds a query and searches the current index. It holds no
// mutable state and is safe for concurrent use.
type Retriever struct {
	embedder Embedder
	index    IndexSource
}

// NewRetriever constructs a Retriever. index is consulted on every call, so
// a rebuilt index is picked up without reconstructing the retriever.
func NewRetriever(embedder Embedder, index IndexSource) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index source must not be nil")
	}
	return &Retriever{embedder: embedder, index: index}, nil
}

// Retrieve returns the content of the k most relevant chunks, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Chunk, error) {
	hits, err := r.RetrieveWithScores(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	return chunks, nil
}

// RetrieveWithScores returns at most k hits with non-increasing scores.
func (r *Retriever) RetrieveWithScores(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}
	idx := r.index()
	if idx == nil {
		return nil, ErrIndexNotInitialized
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrRetrievalFailure, err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one query", ErrRetrievalFailure, len(embeddings))
	}

	hits, err := idx.Search(ctx, embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %w", ErrRetrievalFailure, err)
	}
	return hits, nil
}
