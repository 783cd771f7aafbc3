// Package pipeline is the single owner of the corpus index and the vector
// index, and answers queries against them.
//
// Both indexes are built lazily, at most one build at a time, and published
// through atomic pointers so queries read them without locking. A failed
// build leaves the pipeline not ready; the next call retries. Every
// per-query failure is turned into a user-readable [answer.Answer].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/54b3r/bpqa-go/internal/answer"
	"github.com/54b3r/bpqa-go/internal/catalog"
	"github.com/54b3r/bpqa-go/internal/ingestion"
	"github.com/54b3r/bpqa-go/internal/loader"
	"github.com/54b3r/bpqa-go/internal/logging"
	"github.com/54b3r/bpqa-go/internal/prompt"
	"github.com/54b3r/bpqa-go/internal/rag"
	"github.com/54b3r/bpqa-go/internal/sections"
	"github.com/54b3r/bpqa-go/internal/store"
)

const defaultBuildTimeout = 10 * time.Minute

var (
	// ErrConfiguration reports a missing credential or other setup problem
	// that prevents answering.
	ErrConfiguration = errors.New("pipeline: configuration error")

	// ErrCorpusUnavailable reports that no source document could be loaded.
	ErrCorpusUnavailable = errors.New("pipeline: corpus unavailable")
)

// Generator produces one completion for one prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options wires a Pipeline.
type Options struct {
	// CorpusDir is the directory holding the source documents.
	CorpusDir string
	// SectionLabel is the header label that opens a section.
	SectionLabel string
	// Chunking controls how documents are split for embedding.
	Chunking ingestion.Config
	// TopK is the number of chunks retrieved for general questions.
	TopK int
	// ContextTokens caps the estimated size of retrieved context.
	ContextTokens int

	// Embedder embeds chunks and queries. Required.
	Embedder rag.Embedder
	// EmbeddingModel is recorded in the index; a mismatch forces a rebuild.
	EmbeddingModel string
	// Store persists the vector index. Required.
	Store rag.Store
	// BatchSize is the number of chunks per embedding request.
	BatchSize int
	// ForceRebuild skips loading the persisted index on the first build.
	ForceRebuild bool
	// BuildTimeout bounds one corpus load or index build. Zero means
	// ten minutes.
	BuildTimeout time.Duration

	// Generator writes answers. Nil means the model is not configured and
	// generating queries get a configuration message.
	Generator Generator
	// Catalog lists the images the model may reference.
	Catalog *catalog.Catalog
	// DropUnknownImages removes filenames missing from the catalog.
	DropUnknownImages bool

	// History records answered queries when set.
	History store.HistoryStore
	// Log receives build and query records. Nil discards them.
	Log *slog.Logger
}

// indexBox lets an interface value live behind an atomic.Pointer.
type indexBox struct {
	idx rag.Index
}

// Pipeline answers queries. It is safe for concurrent use.
type Pipeline struct {
	opts      Options
	log       *slog.Logger
	scheme    *sections.Scheme
	ingest    *ingestion.Pipeline
	selector  *prompt.Selector
	parser    *answer.Parser
	retriever *rag.Retriever

	corpus atomic.Pointer[sections.Index]
	index  atomic.Pointer[indexBox]

	// mu serialises corpus and index builds.
	mu sync.Mutex
	// building is set while a build holds mu.
	building atomic.Bool
	// pending holds the chunks of the loaded corpus until the vector index
	// has been built from them.
	pending []rag.Chunk
	// fingerprint identifies the loaded corpus.
	fingerprint string
	// forced records that the configured forced rebuild has happened.
	forced bool
}

// New validates opts and returns a Pipeline. No document is read until the
// first Ensure or Handle call.
func New(opts Options) (*Pipeline, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder must not be nil", ErrConfiguration)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: index store must not be nil", ErrConfiguration)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, rag.ErrInvalidTopK)
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaultBuildTimeout
	}
	ing, err := ingestion.NewPipeline(opts.Chunking, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	p := &Pipeline{
		opts:     opts,
		log:      log,
		scheme:   sections.NewScheme(opts.SectionLabel),
		ingest:   ing,
		selector: prompt.NewSelector(opts.SectionLabel),
		parser:   answer.NewParser(opts.Catalog, opts.DropUnknownImages),
	}
	p.retriever, err = rag.NewRetriever(opts.Embedder, p.currentIndex)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Corpus returns the loaded corpus index, or nil before EnsureCorpus
// succeeds.
func (p *Pipeline) Corpus() *sections.Index {
	return p.corpus.Load()
}

// Index returns the loaded vector index, or nil before EnsureIndex
// succeeds.
func (p *Pipeline) Index() rag.Index {
	return p.currentIndex()
}

func (p *Pipeline) currentIndex() rag.Index {
	if b := p.index.Load(); b != nil {
		return b.idx
	}
	return nil
}

// Ready reports whether both indexes are loaded.
func (p *Pipeline) Ready() bool {
	return p.corpus.Load() != nil && p.currentIndex() != nil
}

// Building reports whether a corpus load or index build is in progress.
func (p *Pipeline) Building() bool {
	return p.building.Load()
}

// GeneratorConfigured reports whether a generator is wired.
func (p *Pipeline) GeneratorConfigured() bool {
	return p.opts.Generator != nil
}

// Retriever returns the retriever bound to the current index.
func (p *Pipeline) Retriever() *rag.Retriever {
	return p.retriever
}

// EnsureReady loads the corpus and the vector index if they are not loaded.
func (p *Pipeline) EnsureReady(ctx context.Context) error {
	if err := p.EnsureCorpus(ctx); err != nil {
		return err
	}
	return p.EnsureIndex(ctx)
}

// EnsureCorpus loads and indexes the source documents once. Concurrent
// callers wait for the build in progress. Load failures wrap
// [ErrCorpusUnavailable].
func (p *Pipeline) EnsureCorpus(ctx context.Context) error {
	if p.corpus.Load() != nil {
		return nil
	}
	return p.locked(ctx, func(bctx context.Context) error {
		if p.corpus.Load() != nil {
			return nil
		}
		idx, chunks, fp, err := p.loadCorpus(bctx)
		if err != nil {
			return err
		}
		p.pending, p.fingerprint = chunks, fp
		p.corpus.Store(idx)
		return nil
	})
}

// EnsureIndex loads or builds the vector index once. Concurrent callers wait
// for the build in progress.
func (p *Pipeline) EnsureIndex(ctx context.Context) error {
	if p.currentIndex() != nil {
		return nil
	}
	return p.locked(ctx, func(bctx context.Context) error {
		if p.currentIndex() != nil {
			return nil
		}
		force := p.opts.ForceRebuild && !p.forced
		idx, err := rag.Open(bctx, p.buildConfig(), p.chunkSource(), rag.OpenOptions{
			ForceRebuild: force,
			Fingerprint:  p.fingerprint,
		})
		if err != nil {
			return fmt.Errorf("pipeline: index: %w", err)
		}
		p.forced = true
		p.pending = nil
		p.index.Store(&indexBox{idx: idx})
		return nil
	})
}

// Rebuild re-reads the corpus and rebuilds the vector index from scratch.
// The current indexes keep serving until the new ones are ready; on failure
// they stay in place.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	return p.locked(ctx, p.rebuild)
}

func (p *Pipeline) rebuild(ctx context.Context) error {
	corpus, chunks, fp, err := p.loadCorpus(ctx)
	if err != nil {
		return err
	}
	idx, err := rag.Build(ctx, p.buildConfig(), chunks, fp)
	if err != nil {
		return fmt.Errorf("pipeline: rebuild: %w", err)
	}

	old := p.index.Swap(&indexBox{idx: idx})
	p.corpus.Store(corpus)
	p.fingerprint = fp
	p.pending = nil
	p.forced = true
	if old != nil && old.idx != nil {
		if err := old.idx.Close(); err != nil {
			p.log.Warn("pipeline: closing replaced index", slog.String("error", err.Error()))
		}
	}
	p.log.Info("pipeline: rebuilt",
		slog.Int("sections", corpus.Len()),
		slog.Int("chunks", idx.Len()),
	)
	return nil
}

// locked runs build while holding mu, under a context detached from the
// caller's cancellation and bounded by BuildTimeout. The build runs to
// completion for every waiter even if ctx is cancelled; the caller only stops
// waiting.
func (p *Pipeline) locked(ctx context.Context, build func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.BuildTimeout)
		defer cancel()
		p.mu.Lock()
		defer p.mu.Unlock()
		p.building.Store(true)
		defer p.building.Store(false)
		done <- build(bctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("pipeline: stopped waiting for build: %w", ctx.Err())
	}
}

// Close releases the vector index and the history store.
func (p *Pipeline) Close() error {
	var errs []error
	if b := p.index.Load(); b != nil && b.idx != nil {
		errs = append(errs, b.idx.Close())
	}
	if p.opts.History != nil {
		errs = append(errs, p.opts.History.Close())
	}
	return errors.Join(errs...)
}

// loadCorpus reads the documents and derives the section index and the
// chunk set. Callers hold mu.
func (p *Pipeline) loadCorpus(ctx context.Context) (*sections.Index, []rag.Chunk, string, error) {
	docs, err := loader.Load(ctx, p.opts.CorpusDir, p.log)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %w", ErrCorpusUnavailable, err)
	}
	idx := sections.Build(docs, p.scheme)
	chunks, fp, err := p.ingest.Chunks(ctx, docs)
	if err != nil {
		return nil, nil, "", fmt.Errorf("pipeline: chunk corpus: %w", err)
	}
	p.log.Info("pipeline: corpus loaded",
		slog.String("dir", p.opts.CorpusDir),
		slog.Int("documents", len(docs)),
		slog.Int("sections", idx.Len()),
		slog.Int("chunks", len(chunks)),
	)
	return idx, chunks, fp, nil
}

// chunkSource returns the pending chunks when the corpus is already loaded,
// and reads the corpus otherwise. Callers hold mu.
func (p *Pipeline) chunkSource() rag.ChunkSource {
	return func(ctx context.Context) ([]rag.Chunk, string, error) {
		if p.pending != nil {
			return p.pending, p.fingerprint, nil
		}
		idx, chunks, fp, err := p.loadCorpus(ctx)
		if err != nil {
			return nil, "", err
		}
		if p.corpus.Load() == nil {
			p.corpus.Store(idx)
		}
		p.fingerprint = fp
		return chunks, fp, nil
	}
}

func (p *Pipeline) buildConfig() rag.BuildConfig {
	return rag.BuildConfig{
		Embedder:  p.opts.Embedder,
		Store:     p.opts.Store,
		Model:     p.opts.EmbeddingModel,
		BatchSize: p.opts.BatchSize,
		Log:       p.log,
	}
}
