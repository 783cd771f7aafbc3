// Package ingestion turns loaded documents into the chunk set that is
// embedded into the vector index. It is invoked by the `bpqa index` command
// and by the pipeline's lazy index build.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/bpqa-go/internal/chunker"
	"github.com/54b3r/bpqa-go/internal/loader"
	"github.com/54b3r/bpqa-go/internal/rag"
)

// unitSeparator joins the units of one document before splitting.
const unitSeparator = "\n\n"

// Config holds the configuration for the chunk preparation step.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int
}

// Pipeline converts documents into provenance-tagged chunks.
type Pipeline struct {
	// splitter cuts each document into windows.
	splitter *chunker.Splitter

	// log receives one record per document.
	log *slog.Logger
}

// NewPipeline constructs a Pipeline. An invalid size/overlap pair wraps
// chunker.ErrInvalidConfig.
func NewPipeline(cfg Config, log *slog.Logger) (*Pipeline, error) {
	sp, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{splitter: sp, log: log}, nil
}

// Chunks splits every document and returns the chunks in corpus order along
// with a fingerprint of their content. Seq numbers are assigned globally
// starting at zero; blank pieces are skipped.
func (p *Pipeline) Chunks(ctx context.Context, docs []loader.Document) ([]rag.Chunk, string, error) {
	var out []rag.Chunk
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		text := strings.ToValidUTF8(strings.Join(doc.Units, unitSeparator), "�")
		pieces := p.splitter.Split(text)
		position := 0
		for _, piece := range pieces {
			if strings.TrimSpace(piece.Text) == "" {
				continue
			}
			out = append(out, rag.Chunk{
				ID:       chunkID(doc.ID, position, piece.Text),
				Source:   doc.ID,
				Position: position,
				Offset:   piece.Offset,
				Content:  piece.Text,
				Seq:      len(out),
			})
			position++
		}
		p.log.Debug("ingestion: chunked document",
			slog.String("source", doc.ID),
			slog.Int("units", len(doc.Units)),
			slog.Int("chunks", position),
		)
	}
	return out, Fingerprint(out), nil
}

// Fingerprint returns a hex SHA-256 over the ordered chunk sources and
// contents. Two corpora with the same chunk set share a fingerprint.
func Fingerprint(chunks []rag.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.Source))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(c.Offset)))
		h.Write([]byte{0})
		h.Write([]byte(c.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// chunkID derives a stable UUIDv5 from the chunk's provenance and content so
// rebuilding an unchanged corpus reproduces the same point IDs.
func chunkID(source string, position int, content string) string {
	name := source + "|" + strconv.Itoa(position) + "|" + content
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
