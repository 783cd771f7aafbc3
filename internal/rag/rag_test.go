package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// wordEmbedder hashes each lowercase word into one of dim buckets, so texts
// sharing words have high cosine similarity.
type wordEmbedder struct {
	dim   int
	calls atomic.Int32
	fail  error
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(w, ".,?!:")))
			v[h.Sum32()%uint32(e.dim)]++
		}
		out[i] = v
	}
	return out, nil
}

func testChunks(texts ...string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{ID: fmt.Sprintf("c%d", i), Source: "doc.txt", Position: i, Content: t, Seq: i}
	}
	return out
}

var corpus = []string{
	"use version control for every project",
	"write unit tests before refactoring",
	"log errors with enough context",
	"review code in small pull requests",
	"document public interfaces",
	"automate deployments with pipelines",
}

func TestFlat_SearchOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &wordEmbedder{dim: 256}
	chunks := testChunks(corpus...)
	vecs, _ := emb.Embed(ctx, corpus)

	idx, err := NewFlat(Meta{Model: "m"}, chunks, vecs)
	if err != nil {
		t.Fatal(err)
	}
	q, _ := emb.Embed(ctx, []string{"how should I log errors"})

	for _, k := range []int{1, 3, 6, 20} {
		hits, err := idx.Search(ctx, q[0], k)
		if err != nil {
			t.Fatalf("Search k=%d: %v", k, err)
		}
		if len(hits) > k || len(hits) > len(chunks) {
			t.Errorf("k=%d: got %d hits", k, len(hits))
		}
		for i := 1; i < len(hits); i++ {
			if hits[i].Score > hits[i-1].Score {
				t.Errorf("k=%d: scores increase at %d", k, i)
			}
		}
		if hits[0].Content != corpus[2] {
			t.Errorf("k=%d: best hit = %q, want %q", k, hits[0].Content, corpus[2])
		}
	}
}

func TestFlat_TiesBrokenBySeq(t *testing.T) {
	t.Parallel()
	chunks := testChunks("a", "b", "c")
	chunks[0].Seq, chunks[1].Seq, chunks[2].Seq = 2, 0, 1
	vecs := [][]float32{{1, 0}, {1, 0}, {1, 0}}
	idx, err := NewFlat(Meta{}, chunks, vecs)
	if err != nil {
		t.Fatal(err)
	}
	hits, _ := idx.Search(context.Background(), []float32{1, 0}, 3)
	got := []string{hits[0].Content, hits[1].Content, hits[2].Content}
	if strings.Join(got, "") != "bca" {
		t.Errorf("tie order = %v, want [b c a]", got)
	}
}

func TestFlat_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewFlat(Meta{}, testChunks("a"), nil); err == nil {
		t.Error("expected error for chunk/vector count mismatch")
	}
	if _, err := NewFlat(Meta{}, testChunks("a", "b"), [][]float32{{1, 0}, {1}}); err == nil {
		t.Error("expected error for ragged vectors")
	}
	idx, _ := NewFlat(Meta{}, testChunks("a"), [][]float32{{1, 0}})
	if _, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1); err == nil {
		t.Error("expected error for query dimension mismatch")
	}
	if _, err := idx.Search(context.Background(), []float32{1, 0}, 0); !errors.Is(err, ErrInvalidTopK) {
		t.Errorf("k=0 err = %v, want ErrInvalidTopK", err)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	v := Normalize([]float32{3, 4})
	if v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("Normalize(3,4) = %v", v)
	}
	z := Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("Normalize(0,0) = %v", z)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &wordEmbedder{dim: 32}
	store := NewSQLiteSnapshot(filepath.Join(t.TempDir(), "nested", "index.db"))
	cfg := BuildConfig{Embedder: emb, Store: store, Model: "word-hash", BatchSize: 4}

	built, err := Build(ctx, cfg, testChunks(corpus...), "fp-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	loaded, err := Load(ctx, store, "word-hash")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Len() != built.Len() {
		t.Fatalf("Len: loaded %d, built %d", loaded.Len(), built.Len())
	}
	m := loaded.Meta()
	if m.Model != "word-hash" || m.Fingerprint != "fp-1" || m.Dimension != 32 || m.Count != len(corpus) {
		t.Errorf("meta = %+v", m)
	}

	for _, q := range []string{"unit tests", "deployments pipelines", "code review"} {
		qv, _ := emb.Embed(ctx, []string{q})
		a, _ := built.Search(ctx, qv[0], 4)
		b, _ := loaded.Search(ctx, qv[0], 4)
		for i := range a {
			if a[i].ID != b[i].ID || a[i].Content != b[i].Content {
				t.Errorf("query %q rank %d: built %q, loaded %q", q, i, a[i].Content, b[i].Content)
			}
		}
	}

	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary snapshot file left behind")
	}
}

func TestSnapshot_LoadTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &wordEmbedder{dim: 32}
	store := NewSQLiteSnapshot(filepath.Join(t.TempDir(), "index.db"))
	if _, err := Build(ctx, BuildConfig{Embedder: emb, Store: store, Model: "word-hash"}, testChunks(corpus...), "fp-2"); err != nil {
		t.Fatalf("Build: %v", err)
	}

	first, err := Load(ctx, store, "word-hash")
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	second, err := Load(ctx, store, "word-hash")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	m1, m2 := first.Meta(), second.Meta()
	if m1.Model != m2.Model || m1.Dimension != m2.Dimension || m1.Fingerprint != m2.Fingerprint ||
		m1.Count != m2.Count || !m1.BuiltAt.Equal(m2.BuiltAt) {
		t.Errorf("meta differs: %+v vs %+v", m1, m2)
	}
	if first.Len() != second.Len() {
		t.Fatalf("Len: %d vs %d", first.Len(), second.Len())
	}

	for _, q := range []string{"log errors", "version control", "pull requests review", "interfaces"} {
		qv, _ := emb.Embed(ctx, []string{q})
		a, _ := first.Search(ctx, qv[0], len(corpus))
		b, _ := second.Search(ctx, qv[0], len(corpus))
		if len(a) != len(b) {
			t.Fatalf("query %q: %d vs %d hits", q, len(a), len(b))
		}
		for i := range a {
			if a[i].ID != b[i].ID || a[i].Score != b[i].Score {
				t.Errorf("query %q rank %d: %s/%v vs %s/%v", q, i, a[i].ID, a[i].Score, b[i].ID, b[i].Score)
			}
		}
	}
}

func TestSnapshot_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	_, err := NewSQLiteSnapshot(filepath.Join(dir, "missing.db")).Open(ctx)
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing: err = %v, want ErrIndexNotFound", err)
	}

	garbage := filepath.Join(dir, "garbage.db")
	if err := os.WriteFile(garbage, []byte("this is not a database file at all, really"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = NewSQLiteSnapshot(garbage).Open(ctx)
	if !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("garbage: err = %v, want ErrIndexCorrupt", err)
	}

	store := NewSQLiteSnapshot(filepath.Join(dir, "model.db"))
	if _, err := Build(ctx, BuildConfig{Embedder: &wordEmbedder{dim: 8}, Store: store, Model: "old"}, testChunks("x"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(ctx, store, "new"); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("model mismatch: err = %v, want ErrIndexCorrupt", err)
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	t.Parallel()
	emb := &wordEmbedder{dim: 8}
	_, err := Build(context.Background(), BuildConfig{Embedder: emb, Store: NewSQLiteSnapshot(filepath.Join(t.TempDir(), "i.db"))}, nil, "")
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("err = %v, want ErrEmptyCorpus", err)
	}
	if emb.calls.Load() != 0 {
		t.Error("embedder should not be called for an empty corpus")
	}
}

func TestBuild_Batches(t *testing.T) {
	t.Parallel()
	emb := &wordEmbedder{dim: 8}
	cfg := BuildConfig{Embedder: emb, Store: NewSQLiteSnapshot(filepath.Join(t.TempDir(), "i.db")), BatchSize: 4}
	if _, err := Build(context.Background(), cfg, testChunks(corpus...), ""); err != nil {
		t.Fatal(err)
	}
	if got := emb.calls.Load(); got != 2 {
		t.Errorf("Embed called %d times, want 2 batches", got)
	}
}

func TestOpen_LoadsBeforeBuilding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &wordEmbedder{dim: 16}
	cfg := BuildConfig{Embedder: emb, Store: NewSQLiteSnapshot(filepath.Join(t.TempDir(), "i.db")), Model: "m"}

	var sourced atomic.Int32
	source := func(context.Context) ([]Chunk, string, error) {
		sourced.Add(1)
		return testChunks(corpus...), "fp", nil
	}

	first, err := Open(ctx, cfg, source, OpenOptions{})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	second, err := Open(ctx, cfg, source, OpenOptions{Fingerprint: "changed"})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if sourced.Load() != 1 {
		t.Errorf("source called %d times, want 1 (second open must load)", sourced.Load())
	}
	if first.Len() != second.Len() {
		t.Errorf("Len mismatch %d vs %d", first.Len(), second.Len())
	}

	if _, err := Open(ctx, cfg, source, OpenOptions{ForceRebuild: true}); err != nil {
		t.Fatalf("forced Open: %v", err)
	}
	if sourced.Load() != 2 {
		t.Errorf("forced rebuild did not rebuild")
	}
}

func TestOpen_SourceError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	cfg := BuildConfig{Embedder: &wordEmbedder{dim: 4}, Store: NewSQLiteSnapshot(filepath.Join(t.TempDir(), "i.db"))}
	_, err := Open(context.Background(), cfg, func(context.Context) ([]Chunk, string, error) { return nil, "", boom }, OpenOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want source error", err)
	}
}

func TestRetriever(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &wordEmbedder{dim: 256}
	vecs, _ := emb.Embed(ctx, corpus)
	idx, _ := NewFlat(Meta{}, testChunks(corpus...), vecs)

	var current atomic.Pointer[Flat]
	r, err := NewRetriever(emb, func() Index {
		if f := current.Load(); f != nil {
			return f
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Retrieve(ctx, "tests", 2); !errors.Is(err, ErrIndexNotInitialized) {
		t.Errorf("before init: err = %v, want ErrIndexNotInitialized", err)
	}
	current.Store(idx)

	if _, err := r.Retrieve(ctx, "tests", 0); !errors.Is(err, ErrInvalidTopK) {
		t.Errorf("k=0: err = %v, want ErrInvalidTopK", err)
	}

	chunks, err := r.Retrieve(ctx, "write unit tests", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Content != corpus[1] {
		t.Errorf("Retrieve = %+v", chunks)
	}

	failing, _ := NewRetriever(&wordEmbedder{dim: 256, fail: errors.New("down")}, func() Index { return idx })
	if _, err := failing.RetrieveWithScores(ctx, "x", 1); !errors.Is(err, ErrRetrievalFailure) {
		t.Errorf("embed failure: err = %v, want ErrRetrievalFailure", err)
	}
}
