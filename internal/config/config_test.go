package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
corpus:
  dir: /srv/best-practices
retrieval:
  chunk_size: 800
  top_k: 6
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: my-docs
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"CORPUS_DIR", "CHUNK_SIZE", "RAG_TOP_K",
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"CORPUS_DIR":               "/srv/best-practices",
		"CHUNK_SIZE":               "800",
		"RAG_TOP_K":                "6",
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"QDRANT_COLLECTION":        "my-docs",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it must NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve_Defaults(t *testing.T) {
	for _, k := range []string{
		"CORPUS_DIR", "SECTION_LABEL", "INDEX_PATH", "INDEX_FORCE_REBUILD", "INDEX_BATCH_SIZE",
		"CHUNK_SIZE", "CHUNK_OVERLAP", "RAG_TOP_K", "RAG_CONTEXT_TOKENS",
		"IMAGES_DIR", "IMAGE_CATALOG", "IMAGE_UNKNOWN_POLICY", "MODEL_TIMEOUT_SECONDS",
		"INDEX_BUILD_TIMEOUT_SECONDS",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("BPQA_HISTORY_DB", "disabled")

	s, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.CorpusDir != DefaultCorpusDir {
		t.Errorf("CorpusDir = %q, want %q", s.CorpusDir, DefaultCorpusDir)
	}
	if s.IndexPath != filepath.Join(DefaultCorpusDir, "index.db") {
		t.Errorf("IndexPath = %q", s.IndexPath)
	}
	if s.ImageCatalog != filepath.Join(DefaultCorpusDir, "images", "catalog.yaml") {
		t.Errorf("ImageCatalog = %q", s.ImageCatalog)
	}
	if s.ChunkSize != 1000 || s.ChunkOverlap != 200 || s.TopK != 4 {
		t.Errorf("chunking = %d/%d/%d, want 1000/200/4", s.ChunkSize, s.ChunkOverlap, s.TopK)
	}
	if s.SectionLabel != "Best Practice" {
		t.Errorf("SectionLabel = %q", s.SectionLabel)
	}
	if s.HistoryDB != "" {
		t.Errorf("HistoryDB = %q, want disabled", s.HistoryDB)
	}
	if s.BuildTimeout != DefaultBuildTimeout {
		t.Errorf("BuildTimeout = %v, want %v", s.BuildTimeout, DefaultBuildTimeout)
	}
	if s.DropUnknownImages {
		t.Error("DropUnknownImages should default to false")
	}
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"overlap equals size", map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}},
		{"negative overlap", map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "-1"}},
		{"zero top k", map[string]string{"RAG_TOP_K": "0"}},
		{"zero size", map[string]string{"CHUNK_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "RAG_TOP_K"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Resolve()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("RAG_TOP_K=9\nSECTION_LABEL=Practice\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAG_TOP_K", "3")
	t.Setenv("SECTION_LABEL", "")
	os.Unsetenv("SECTION_LABEL")

	if err := LoadDotEnv(p, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RAG_TOP_K"); got != "3" {
		t.Errorf("RAG_TOP_K = %q, want existing value 3", got)
	}
	if got := os.Getenv("SECTION_LABEL"); got != "Practice" {
		t.Errorf("SECTION_LABEL = %q, want Practice", got)
	}
}
