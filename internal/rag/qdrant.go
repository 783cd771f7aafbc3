package rag

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// upsertBatch is the number of points sent per Upsert call.
const upsertBatch = 256

// tieSlack is how many extra candidates Search asks Qdrant for, so that hits
// tied at the k-th score can still be ordered by Seq. Ties wider than this
// are cut in Qdrant's order.
const tieSlack = 16

// dropTimeout bounds the cleanup of a replaced collection.
const dropTimeout = 30 * time.Second

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the alias that queries go through. Each build lands in
	// its own collection named <Collection>_<unix nanos>.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore persists the index as a Qdrant collection behind an alias.
// Searches run inside Qdrant; nothing but the query vector crosses the wire.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore connects to Qdrant. Nothing is touched until Save or Open.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "best_practices"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

// Describe names the store for logs.
func (s *QdrantStore) Describe() string { return "qdrant:" + s.collection }

// Client returns the underlying gRPC client, for health checks.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Save builds a new collection, then points the alias at it in one
// UpdateAliases call. A failed build drops its own collection and leaves the
// alias, and whatever index is serving from it, as they were.
func (s *QdrantStore) Save(ctx context.Context, meta Meta, chunks []Chunk, vectors [][]float32) (Index, error) {
	if len(chunks) != len(vectors) || len(vectors) == 0 {
		return nil, fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	meta.Dimension = len(vectors[0])
	meta.Count = len(chunks)

	name := buildCollectionName(s.collection, time.Now())
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(meta.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	if err := s.upsert(ctx, name, meta, chunks, vectors); err != nil {
		s.drop(ctx, name)
		return nil, err
	}
	previous, err := s.swapAlias(ctx, name)
	if err != nil {
		s.drop(ctx, name)
		return nil, err
	}

	// The previous collection belongs to the index still serving; its Close
	// drops it. Older leftovers have no reader.
	if all, err := s.client.ListCollections(ctx); err == nil {
		for _, c := range staleCollections(s.collection, all, name, previous) {
			s.drop(ctx, c)
		}
	}

	return &qdrantIndex{store: s, collection: name, meta: meta}, nil
}

func (s *QdrantStore) upsert(ctx context.Context, collection string, meta Meta, chunks []Chunk, vectors [][]float32) error {
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			c := chunks[i]
			payload, err := qdrant.TryValueMap(map[string]any{
				"content":     c.Content,
				"source":      c.Source,
				"position":    c.Position,
				"offset":      c.Offset,
				"seq":         c.Seq,
				"model":       meta.Model,
				"fingerprint": meta.Fingerprint,
				"built_at":    meta.BuiltAt.Unix(),
			})
			if err != nil {
				return fmt.Errorf("qdrant: payload for chunk %s: %w", c.ID, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(c.ID),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: payload,
			})
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert into %q failed: %w", collection, err)
		}
	}
	return nil
}

// swapAlias points the alias at collection and returns the collection it
// pointed at before, if any.
func (s *QdrantStore) swapAlias(ctx context.Context, collection string) (string, error) {
	previous, err := s.target(ctx)
	if err != nil {
		return "", err
	}
	if previous == "" {
		// A plain collection under the alias name predates aliasing and
		// blocks the alias.
		legacy, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			return "", fmt.Errorf("qdrant: failed to check collection existence: %w", err)
		}
		if legacy {
			if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
				return "", fmt.Errorf("qdrant: failed to drop legacy collection %q: %w", s.collection, err)
			}
		}
		if err := s.client.CreateAlias(ctx, s.collection, collection); err != nil {
			return "", fmt.Errorf("qdrant: failed to create alias %q: %w", s.collection, err)
		}
		return "", nil
	}
	err = s.client.UpdateAliases(ctx, []*qdrant.AliasOperations{
		qdrant.NewAliasDelete(s.collection),
		qdrant.NewAliasCreate(s.collection, collection),
	})
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to move alias %q to %q: %w", s.collection, collection, err)
	}
	return previous, nil
}

// target returns the collection the alias points at, or "" when the alias
// does not exist.
func (s *QdrantStore) target(ctx context.Context) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == s.collection {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

// drop deletes a collection, best effort. It runs even when ctx is done.
func (s *QdrantStore) drop(ctx context.Context, collection string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropTimeout)
	defer cancel()
	_ = s.client.DeleteCollection(dctx, collection)
}

// Open attaches to the non-empty collection behind the alias. A plain
// collection under the alias name is opened as is.
func (s *QdrantStore) Open(ctx context.Context) (Index, error) {
	name, err := s.target(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			return nil, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: qdrant collection %q", ErrIndexNotFound, s.collection)
		}
		name = s.collection
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: count failed: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: qdrant collection %q is empty", ErrIndexNotFound, name)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("qdrant: collection info failed: %w", err)
	}
	dim := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if dim == 0 {
		return nil, fmt.Errorf("%w: qdrant collection %q has no single dense vector config", ErrIndexCorrupt, name)
	}

	sample, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: qdrant collection %q is empty", ErrIndexNotFound, name)
	}
	p := sample[0].GetPayload()
	model := p["model"].GetStringValue()
	if model == "" {
		return nil, fmt.Errorf("%w: qdrant collection %q has no model payload", ErrIndexCorrupt, name)
	}

	return &qdrantIndex{store: s, collection: name, meta: Meta{
		Model:       model,
		Dimension:   int(dim),
		Fingerprint: p["fingerprint"].GetStringValue(),
		Count:       int(count),
		BuiltAt:     time.Unix(p["built_at"].GetIntegerValue(), 0),
	}}, nil
}

// buildCollectionName names the collection a build writes into.
func buildCollectionName(alias string, at time.Time) string {
	return alias + "_" + strconv.FormatInt(at.UnixNano(), 10)
}

// isBuildCollection reports whether name was produced by buildCollectionName
// for alias.
func isBuildCollection(alias, name string) bool {
	suffix, ok := strings.CutPrefix(name, alias+"_")
	if !ok || suffix == "" {
		return false
	}
	_, err := strconv.ParseUint(suffix, 10, 64)
	return err == nil
}

// staleCollections returns the build collections of alias in names, except
// those listed in keep.
func staleCollections(alias string, names []string, keep ...string) []string {
	var stale []string
	for _, n := range names {
		if isBuildCollection(alias, n) && !slices.Contains(keep, n) {
			stale = append(stale, n)
		}
	}
	return stale
}

// qdrantIndex searches one build collection.
type qdrantIndex struct {
	store      *QdrantStore
	collection string
	meta       Meta
}

func (x *qdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ErrInvalidTopK
	}
	if len(query) != x.meta.Dimension {
		return nil, fmt.Errorf("rag: query dimension %d does not match index dimension %d", len(query), x.meta.Dimension)
	}
	limit := uint64(k + tieSlack)
	results, err := x.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		hits = append(hits, Hit{
			Chunk: Chunk{
				ID:       r.GetId().GetUuid(),
				Source:   p["source"].GetStringValue(),
				Position: int(p["position"].GetIntegerValue()),
				Offset:   int(p["offset"].GetIntegerValue()),
				Content:  p["content"].GetStringValue(),
				Seq:      int(p["seq"].GetIntegerValue()),
			},
			Score: r.GetScore(),
		})
	}
	return topHits(hits, k), nil
}

// topHits orders hits and keeps the best k.
func topHits(hits []Hit, k int) []Hit {
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (x *qdrantIndex) Len() int   { return x.meta.Count }
func (x *qdrantIndex) Meta() Meta { return x.meta }

// Close drops the collection once the alias no longer points at it. The
// collection the alias serves is left alone.
func (x *qdrantIndex) Close() error {
	if !isBuildCollection(x.store.collection, x.collection) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), dropTimeout)
	defer cancel()
	current, err := x.store.target(ctx)
	if err != nil {
		return err
	}
	if current == "" || current == x.collection {
		return nil
	}
	if err := x.store.client.DeleteCollection(ctx, x.collection); err != nil {
		return fmt.Errorf("qdrant: failed to drop replaced collection %q: %w", x.collection, err)
	}
	return nil
}
