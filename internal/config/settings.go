package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the typed runtime configuration resolved from the environment
// after [Load] has applied the YAML layer.
type Settings struct {
	// CorpusDir is the directory holding the source documents.
	CorpusDir string
	// SectionLabel is the header label that opens a section.
	SectionLabel string

	// IndexPath is the SQLite snapshot location.
	IndexPath string
	// ForceRebuild skips snapshot loading.
	ForceRebuild bool
	// EmbedBatchSize is the number of chunks per embedding request.
	EmbedBatchSize int
	// BuildTimeout bounds one corpus load or index build.
	BuildTimeout time.Duration

	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int
	// TopK is the number of chunks retrieved for general questions.
	TopK int
	// ContextTokens caps the estimated size of retrieved context.
	ContextTokens int

	// ImagesDir holds the image files offered to the model.
	ImagesDir string
	// ImageCatalog is the YAML metadata file for images.
	ImageCatalog string
	// DropUnknownImages removes filenames that have no catalog entry.
	DropUnknownImages bool

	// GenerationTimeout bounds a single generation call.
	GenerationTimeout time.Duration

	// HistoryDB is the query history database path, or "" when disabled.
	HistoryDB string
}

// Default values applied when neither YAML nor env sets a key.
const (
	DefaultCorpusDir     = "./data"
	DefaultSectionLabel  = "Best Practice"
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultTopK          = 4
	DefaultContextTokens = 3000
	DefaultBatchSize     = 32
	DefaultTimeout       = 60 * time.Second
	DefaultBuildTimeout  = 10 * time.Minute
)

// ErrInvalid is returned by [Resolve] when a setting is out of range.
var ErrInvalid = errors.New("config: invalid setting")

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments it reads ./.env.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Resolve reads the environment into a [Settings], applying defaults and
// validating ranges.
func Resolve() (*Settings, error) {
	corpus := getEnvOrDefault("CORPUS_DIR", DefaultCorpusDir)
	images := getEnvOrDefault("IMAGES_DIR", filepath.Join(corpus, "images"))

	s := &Settings{
		CorpusDir:         corpus,
		SectionLabel:      getEnvOrDefault("SECTION_LABEL", DefaultSectionLabel),
		IndexPath:         getEnvOrDefault("INDEX_PATH", filepath.Join(corpus, "index.db")),
		ForceRebuild:      getEnvBool("INDEX_FORCE_REBUILD"),
		EmbedBatchSize:    getEnvInt("INDEX_BATCH_SIZE", DefaultBatchSize),
		BuildTimeout:      time.Duration(getEnvInt("INDEX_BUILD_TIMEOUT_SECONDS", int(DefaultBuildTimeout/time.Second))) * time.Second,
		ChunkSize:         getEnvInt("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", DefaultChunkOverlap),
		TopK:              getEnvInt("RAG_TOP_K", DefaultTopK),
		ContextTokens:     getEnvInt("RAG_CONTEXT_TOKENS", DefaultContextTokens),
		ImagesDir:         images,
		ImageCatalog:      getEnvOrDefault("IMAGE_CATALOG", filepath.Join(images, "catalog.yaml")),
		DropUnknownImages: strings.EqualFold(os.Getenv("IMAGE_UNKNOWN_POLICY"), "drop"),
		GenerationTimeout: time.Duration(getEnvInt("MODEL_TIMEOUT_SECONDS", int(DefaultTimeout/time.Second))) * time.Second,
		HistoryDB:         historyPath(),
	}

	if s.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: CHUNK_SIZE must be positive, got %d", ErrInvalid, s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return nil, fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", ErrInvalid, s.ChunkOverlap)
	}
	if s.TopK <= 0 {
		return nil, fmt.Errorf("%w: RAG_TOP_K must be positive, got %d", ErrInvalid, s.TopK)
	}
	if s.EmbedBatchSize <= 0 {
		return nil, fmt.Errorf("%w: INDEX_BATCH_SIZE must be positive, got %d", ErrInvalid, s.EmbedBatchSize)
	}
	if s.BuildTimeout <= 0 {
		return nil, fmt.Errorf("%w: INDEX_BUILD_TIMEOUT_SECONDS must be positive", ErrInvalid)
	}
	if s.GenerationTimeout <= 0 {
		return nil, fmt.Errorf("%w: MODEL_TIMEOUT_SECONDS must be positive", ErrInvalid)
	}
	return s, nil
}

// historyPath returns the history DB path, "" when disabled, or the default
// ~/.bpqa/history.db.
func historyPath() string {
	v := os.Getenv("BPQA_HISTORY_DB")
	switch {
	case v == "disabled":
		return ""
	case v != "":
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bpqa", "history.db")
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

// getEnvBool reports whether the named variable holds a true value.
func getEnvBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}
