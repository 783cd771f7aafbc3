package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// defaultBatchSize is used when BuildConfig.BatchSize is unset.
const defaultBatchSize = 32

// BuildConfig controls index construction.
type BuildConfig struct {
	// Embedder produces chunk vectors.
	Embedder Embedder
	// Store persists the built index.
	Store Store
	// Model names the embedding model; it is recorded in the index and a
	// mismatch on load forces a rebuild.
	Model string
	// BatchSize is the number of chunks per Embed call.
	BatchSize int
	// Log receives progress records. Nil discards them.
	Log *slog.Logger
}

// ChunkSource produces the chunk set to index and its fingerprint. It is
// only called when a build is actually needed.
type ChunkSource func(ctx context.Context) (chunks []Chunk, fingerprint string, err error)

// Build embeds every chunk in batches, persists the result and returns a
// ready index. It returns [ErrEmptyCorpus] when chunks is empty.
func Build(ctx context.Context, cfg BuildConfig, chunks []Chunk, fingerprint string) (Index, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}
	log := cfg.logger()
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	started := time.Now()
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := cfg.Embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("rag: embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("rag: embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}
		for _, v := range vecs {
			vectors = append(vectors, Normalize(v))
		}
		log.Debug("rag: embedded batch",
			slog.Int("from", start),
			slog.Int("to", end),
			slog.Int("total", len(chunks)),
		)
	}

	meta := Meta{
		Model:       cfg.Model,
		Fingerprint: fingerprint,
		BuiltAt:     time.Now().UTC(),
	}
	idx, err := cfg.Store.Save(ctx, meta, chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("rag: persist index to %s: %w", cfg.Store.Describe(), err)
	}

	log.Info("rag: index built",
		slog.String("store", cfg.Store.Describe()),
		slog.Int("chunks", idx.Len()),
		slog.Int("dimension", idx.Meta().Dimension),
		slog.Duration("elapsed", time.Since(started)),
	)
	return idx, nil
}

// Load restores a persisted index. An index built with a different
// embedding model is reported as [ErrIndexCorrupt].
func Load(ctx context.Context, store Store, model string) (Index, error) {
	idx, err := store.Open(ctx)
	if err != nil {
		return nil, err
	}
	if got := idx.Meta().Model; model != "" && got != model {
		_ = idx.Close()
		return nil, fmt.Errorf("%w: built with embedding model %q, configured %q", ErrIndexCorrupt, got, model)
	}
	return idx, nil
}

// OpenOptions controls [Open].
type OpenOptions struct {
	// ForceRebuild skips loading.
	ForceRebuild bool
	// Fingerprint, when set, is compared with the loaded index's fingerprint.
	// A mismatch is logged; the stale index is still served.
	Fingerprint string
}

// Open loads the persisted index, building it from source when loading
// fails or a rebuild is forced.
func Open(ctx context.Context, cfg BuildConfig, source ChunkSource, opts OpenOptions) (Index, error) {
	log := cfg.logger()

	if !opts.ForceRebuild {
		idx, err := Load(ctx, cfg.Store, cfg.Model)
		if err == nil {
			if opts.Fingerprint != "" && idx.Meta().Fingerprint != opts.Fingerprint {
				log.Warn("rag: loaded index was built from a different corpus; serving it anyway",
					slog.String("store", cfg.Store.Describe()),
					slog.String("index_fingerprint", idx.Meta().Fingerprint),
					slog.String("corpus_fingerprint", opts.Fingerprint),
				)
			}
			log.Info("rag: index loaded",
				slog.String("store", cfg.Store.Describe()),
				slog.Int("chunks", idx.Len()),
			)
			return idx, nil
		}
		if errors.Is(err, ErrIndexNotFound) {
			log.Info("rag: no persisted index, building", slog.String("store", cfg.Store.Describe()))
		} else {
			log.Warn("rag: persisted index unusable, rebuilding",
				slog.String("store", cfg.Store.Describe()),
				slog.String("error", err.Error()),
			)
		}
	}

	chunks, fp, err := source(ctx)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, chunks, fp)
}

func (cfg BuildConfig) logger() *slog.Logger {
	if cfg.Log != nil {
		return cfg.Log
	}
	return slog.New(slog.DiscardHandler)
}
