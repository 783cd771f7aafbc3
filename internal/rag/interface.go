// Package rag holds the retrieval half of the answering pipeline: chunk and
// hit types, the vector index abstraction with its flat, SQLite snapshot and
// Qdrant implementations, the build/load policy, and the query retriever.
package rag

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyCorpus is returned by [Build] when there is nothing to index.
	ErrEmptyCorpus = errors.New("rag: corpus produced no chunks")

	// ErrIndexNotFound is returned by a [Store] when no persisted index exists.
	ErrIndexNotFound = errors.New("rag: index not found")

	// ErrIndexCorrupt is returned when a persisted index cannot be used:
	// unreadable, unknown format, inconsistent dimensions, or built with a
	// different embedding model.
	ErrIndexCorrupt = errors.New("rag: index corrupt")

	// ErrIndexNotInitialized is returned by the [Retriever] when no index
	// has been built or loaded yet.
	ErrIndexNotInitialized = errors.New("rag: index not initialized")

	// ErrRetrievalFailure wraps embedding or search failures at query time.
	ErrRetrievalFailure = errors.New("rag: retrieval failed")

	// ErrInvalidTopK is returned when k is not positive.
	ErrInvalidTopK = errors.New("rag: k must be positive")
)

// Chunk is a bounded window of corpus text with its provenance.
type Chunk struct {
	// ID is a stable identifier derived from source, position and content.
	ID string
	// Source is the document the chunk was cut from.
	Source string
	// Position is the chunk's ordinal within its source document.
	Position int
	// Offset is the byte offset of Content within the source document text.
	Offset int
	// Content is the chunk text.
	Content string
	// Seq is the global insertion order, used to break score ties.
	Seq int
}

// Hit is one retrieval result.
type Hit struct {
	Chunk
	// Score is the cosine similarity between query and chunk, in [-1, 1].
	Score float32
}

// Meta describes a built index.
type Meta struct {
	// Model is the embedding model the vectors came from.
	Model string
	// Dimension is the vector length.
	Dimension int
	// Fingerprint identifies the chunk set the index was built from.
	Fingerprint string
	// Count is the number of indexed chunks.
	Count int
	// BuiltAt is when the index was built.
	BuiltAt time.Time
}

// Embedder converts texts into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index answers nearest-neighbour queries. Implementations are immutable
// after construction and safe for concurrent readers.
type Index interface {
	// Search returns at most k hits, best first. Equal scores are ordered by
	// ascending Seq.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Len returns the number of indexed chunks.
	Len() int
	// Meta describes how the index was built.
	Meta() Meta
	// Close releases resources held by the index.
	Close() error
}

// Store persists an index and restores it.
type Store interface {
	// Save persists chunks with their normalised vectors and returns a
	// ready-to-query index over them.
	Save(ctx context.Context, meta Meta, chunks []Chunk, vectors [][]float32) (Index, error)
	// Open restores a previously saved index. It returns an error wrapping
	// [ErrIndexNotFound] or [ErrIndexCorrupt] when it cannot.
	Open(ctx context.Context) (Index, error)
	// Describe names the store for logs.
	Describe() string
}
