package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/bpqa-go/internal/catalog"
	"github.com/54b3r/bpqa-go/internal/config"
	"github.com/54b3r/bpqa-go/internal/embedder"
	"github.com/54b3r/bpqa-go/internal/ingestion"
	"github.com/54b3r/bpqa-go/internal/pipeline"
	"github.com/54b3r/bpqa-go/internal/provider"
	"github.com/54b3r/bpqa-go/internal/rag"
	"github.com/54b3r/bpqa-go/internal/store"
)

// app bundles the wired pipeline and the resources behind it.
type app struct {
	// settings is the resolved runtime configuration.
	settings *config.Settings
	// pipeline answers queries.
	pipeline *pipeline.Pipeline
	// history is the query history store, nil when disabled.
	history *store.SQLiteStore
	// indexStore persists the vector index.
	indexStore rag.Store
	// qdrant is set when the index lives in Qdrant.
	qdrant *rag.QdrantStore
	// embedBackend is the embedding backend name.
	embedBackend string
}

// appOptions tunes buildApp per command.
type appOptions struct {
	// withHistory opens the query history store.
	withHistory bool
	// forceRebuild skips loading the persisted index.
	forceRebuild bool
}

// buildApp resolves settings and wires the pipeline. A missing model
// credential is not fatal: the pipeline still lists and looks up sections
// and answers generating queries with a configuration message.
func buildApp(ctx context.Context, log *slog.Logger, opts appOptions) (*app, error) {
	settings, err := config.Resolve()
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	a := &app{settings: settings, embedBackend: embedder.Backend()}

	var indexStore rag.Store
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:       host,
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: os.Getenv("QDRANT_COLLECTION"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", host, err)
		}
		a.qdrant = qs
		indexStore = qs
	} else {
		indexStore = rag.NewSQLiteSnapshot(settings.IndexPath)
	}
	a.indexStore = indexStore
	log.Info("index store selected", slog.String("store", indexStore.Describe()))

	gen, err := provider.NewFromEnv(ctx, settings.GenerationTimeout)
	switch {
	case errors.Is(err, provider.ErrMissingCredential):
		log.Warn("language model not configured, only section listing and lookup will work",
			slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")),
			slog.String("error", err.Error()),
		)
	case err != nil:
		a.close(log)
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	default:
		log.Info("provider initialised", slog.String("model", gen.Name()))
	}

	cat, err := catalog.Load(settings.ImagesDir, settings.ImageCatalog)
	if err != nil {
		log.Warn("image catalog unreadable, continuing without images", slog.Any("error", err))
		cat = catalog.Empty()
	}
	log.Info("image catalog loaded", slog.Int("images", cat.Len()), slog.String("dir", settings.ImagesDir))

	popts := pipeline.Options{
		CorpusDir:         settings.CorpusDir,
		SectionLabel:      settings.SectionLabel,
		Chunking:          ingestion.Config{ChunkSize: settings.ChunkSize, ChunkOverlap: settings.ChunkOverlap},
		TopK:              settings.TopK,
		ContextTokens:     settings.ContextTokens,
		Embedder:          emb,
		EmbeddingModel:    emb.Model(),
		Store:             indexStore,
		BatchSize:         settings.EmbedBatchSize,
		BuildTimeout:      settings.BuildTimeout,
		ForceRebuild:      settings.ForceRebuild || opts.forceRebuild,
		Catalog:           cat,
		DropUnknownImages: settings.DropUnknownImages,
		Log:               log,
	}
	if gen != nil {
		popts.Generator = gen
	}

	if opts.withHistory && settings.HistoryDB != "" {
		hs, err := store.Open(settings.HistoryDB)
		if err != nil {
			log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		} else {
			a.history = hs
			popts.History = hs
			log.Info("history: store opened", slog.String("path", settings.HistoryDB))
		}
	}

	a.pipeline, err = pipeline.New(popts)
	if err != nil {
		a.close(log)
		return nil, err
	}
	return a, nil
}

// close releases everything buildApp opened.
func (a *app) close(log *slog.Logger) {
	if a.pipeline != nil {
		// Closes the history store too.
		if err := a.pipeline.Close(); err != nil {
			log.Warn("pipeline close", slog.Any("error", err))
		}
	} else if a.history != nil {
		_ = a.history.Close()
	}
	if a.qdrant != nil {
		_ = a.qdrant.Close()
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
