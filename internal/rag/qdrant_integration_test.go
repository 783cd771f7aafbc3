//go:build integration

package rag

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestQdrantStore_RebuildKeepsServing runs against a live Qdrant:
//
//	docker run -p 6334:6334 qdrant/qdrant
//	go test -tags=integration -run TestQdrantStore ./internal/rag/
//
// Set QDRANT_HOST and QDRANT_PORT when Qdrant is elsewhere.
func TestQdrantStore_RebuildKeepsServing(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))
	alias := "bpqa_it_" + strconv.FormatInt(time.Now().UnixNano(), 36)

	s, err := NewQdrantStore(&QdrantConfig{Host: host, Port: port, Collection: alias})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	t.Cleanup(func() {
		names, _ := s.client.ListCollections(context.Background())
		for _, n := range names {
			if isBuildCollection(alias, n) {
				_ = s.client.DeleteCollection(context.Background(), n)
			}
		}
		_ = s.Close()
	})

	chunks := func(texts ...string) []Chunk {
		out := testChunks(texts...)
		for i := range out {
			out[i].ID = uuid.NewString()
		}
		return out
	}
	meta := Meta{Model: "it-model", Fingerprint: "fp", BuiltAt: time.Now()}

	first, err := s.Save(ctx, meta, chunks("alpha", "beta"), [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A failed build must not touch the alias.
	if _, err := s.Save(ctx, meta, chunks("x", "y"), [][]float32{{1, 0, 0}, {1}}); err == nil {
		t.Fatal("ragged save succeeded")
	}
	if hits, err := first.Search(ctx, []float32{1, 0}, 1); err != nil || len(hits) != 1 || hits[0].Content != "alpha" {
		t.Fatalf("after failed save: hits=%v err=%v", hits, err)
	}

	second, err := s.Save(ctx, meta, chunks("gamma", "delta", "epsilon"), [][]float32{{1, 0}, {0, 1}, {1, 1}})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if hits, err := first.Search(ctx, []float32{1, 0}, 1); err != nil || hits[0].Content != "alpha" {
		t.Errorf("replaced index stopped serving before Close: hits=%v err=%v", hits, err)
	}

	opened, err := s.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.Len() != 3 {
		t.Errorf("alias serves %d points, want 3", opened.Len())
	}

	if err := first.Close(); err != nil {
		t.Fatalf("close replaced index: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("close serving index: %v", err)
	}
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var builds []string
	for _, n := range names {
		if isBuildCollection(alias, n) {
			builds = append(builds, n)
		}
	}
	if len(builds) != 1 || !slices.Contains(builds, second.(*qdrantIndex).collection) {
		t.Errorf("build collections = %v, want only the serving one", builds)
	}
	if _, err := first.Search(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("search on a dropped collection succeeded")
	}
	if _, err := s.Open(ctx); errors.Is(err, ErrIndexNotFound) {
		t.Error("closing the serving index dropped it")
	}
}
