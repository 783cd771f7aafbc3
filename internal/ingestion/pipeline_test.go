package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/bpqa-go/internal/chunker"
	"github.com/54b3r/bpqa-go/internal/loader"
)

func TestNewPipeline_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(Config{ChunkSize: 100, ChunkOverlap: 100}, nil)
	if !errors.Is(err, chunker.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(Config{ChunkSize: 60, ChunkOverlap: 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	docs := []loader.Document{
		{ID: "a.pdf", Units: []string{
			"Best Practice 1: Rotate keys.",
			"Keys older than ninety days must be replaced by the owning team.",
		}},
		{ID: "b.docx", Units: []string{"Short note."}},
	}

	chunks, fp, err := p.Chunks(context.Background(), docs)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	if fp == "" {
		t.Error("empty fingerprint")
	}

	seen := map[string]bool{}
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("chunk %d has Seq %d", i, c.Seq)
		}
		if seen[c.ID] {
			t.Errorf("duplicate ID %s", c.ID)
		}
		seen[c.ID] = true
		if strings.TrimSpace(c.Content) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
	last := chunks[len(chunks)-1]
	if last.Source != "b.docx" || last.Position != 0 || last.Content != "Short note." {
		t.Errorf("last chunk = %+v", last)
	}
	if chunks[0].Source != "a.pdf" || chunks[0].Offset != 0 {
		t.Errorf("first chunk = %+v", chunks[0])
	}
}

func TestChunks_Deterministic(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(Config{ChunkSize: 40, ChunkOverlap: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	docs := []loader.Document{{ID: "x.txt", Units: []string{"one two three four five six seven eight nine ten eleven"}}}

	a, fpA, _ := p.Chunks(context.Background(), docs)
	b, fpB, _ := p.Chunks(context.Background(), docs)
	if fpA != fpB {
		t.Error("fingerprint differs between runs")
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d ID differs between runs", i)
		}
	}

	docs[0].Units[0] += " twelve"
	_, fpC, _ := p.Chunks(context.Background(), docs)
	if fpC == fpA {
		t.Error("fingerprint unchanged after content change")
	}
}

func TestChunks_InvalidUTF8(t *testing.T) {
	t.Parallel()

	p, _ := NewPipeline(Config{ChunkSize: 100, ChunkOverlap: 0}, nil)
	chunks, _, err := p.Chunks(context.Background(), []loader.Document{{ID: "bad.txt", Units: []string{"ok \xff\xfe end"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || !strings.Contains(chunks[0].Content, "�") {
		t.Errorf("chunks = %+v", chunks)
	}
}
