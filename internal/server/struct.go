package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/bpqa-go/internal/answer"
	"github.com/54b3r/bpqa-go/internal/pipeline"
	"github.com/54b3r/bpqa-go/internal/prompt"
	"github.com/54b3r/bpqa-go/internal/sections"
	"github.com/54b3r/bpqa-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed QueryTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds one POST /api/query request end to end.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers are the dependency checks run by GET /api/ready, in order.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// GenerationRate is the sustained number of requests per second, per
	// client, that may call the language model or rebuild the index.
	// Defaults to 1.
	GenerationRate float64
	// GenerationBurst is how many such requests a client may send back to
	// back. Defaults to 5.
	GenerationBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// ImagesDir is served under /images/. Empty disables the route.
	ImagesDir string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Answerer is the query surface the server exposes. *pipeline.Pipeline
// satisfies it; tests inject a fake.
type Answerer interface {
	// Classify reports the mode query would be answered in, without
	// answering it.
	Classify(ctx context.Context, query string) prompt.Mode
	// HandleDetailed answers query and reports how it was handled.
	HandleDetailed(ctx context.Context, query string) (answer.Answer, pipeline.Outcome)
	// EnsureCorpus loads the section index if it is not loaded.
	EnsureCorpus(ctx context.Context) error
	// Corpus returns the loaded section index, or nil.
	Corpus() *sections.Index
	// Rebuild re-reads the corpus and rebuilds the vector index.
	Rebuild(ctx context.Context) error
}

// HistoryReader lists recently answered queries. *store.SQLiteStore
// satisfies it.
type HistoryReader interface {
	// Recent returns the most recent n records, newest first.
	Recent(ctx context.Context, n int) ([]store.Record, error)
}

// Server is the HTTP server in front of the answering pipeline.
type Server struct {
	// qa answers queries and owns the indexes.
	qa Answerer
	// history serves GET /api/history; nil disables the route.
	history HistoryReader
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers are the dependency checks behind GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// quota meters requests that call the model or the embedder.
	quota *generationQuota
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the user's question.
	Query string `json:"query"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Text is the answer text.
	Text string `json:"text"`
	// Images are the images referenced by the answer.
	Images []answer.Image `json:"images"`
	// Mode is the answering strategy that was used.
	Mode string `json:"mode"`
	// Section is the section the query named, if any.
	Section string `json:"section,omitempty"`
}

// sectionsResponse is the JSON response for GET /api/sections.
type sectionsResponse struct {
	// Sections are the section names in document order.
	Sections []string `json:"sections"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	// Records are the most recent queries, newest first.
	Records []store.Record `json:"records"`
}

// rebuildResponse is the JSON response for POST /api/index/rebuild.
type rebuildResponse struct {
	// Status is "rebuilt" on success.
	Status string `json:"status"`
	// Sections is the number of sections in the rebuilt corpus.
	Sections int `json:"sections"`
}

// errorResponse is the JSON body for failed API calls.
type errorResponse struct {
	// Error is a user-readable message.
	Error string `json:"error"`
}
