package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger checks the vector store with Qdrant's HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger returns a Pinger for client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

func (p *QdrantPinger) Name() string { return "qdrant" }

func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// HTTPPinger checks an HTTP dependency with a GET that must return 2xx.
type HTTPPinger struct {
	name   string
	url    string
	client *http.Client
}

// NewOllamaPinger checks the Ollama server at host through /api/tags, which
// loads no model.
func NewOllamaPinger(host string) *HTTPPinger {
	return &HTTPPinger{
		name:   "ollama",
		url:    strings.TrimRight(host, "/") + "/api/tags",
		client: http.DefaultClient,
	}
}

func (p *HTTPPinger) Name() string { return p.name }

func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}

// Readiness is implemented by *pipeline.Pipeline.
type Readiness interface {
	// Ready reports whether both indexes are loaded.
	Ready() bool
	// Building reports whether a corpus load or index build is running.
	Building() bool
	// GeneratorConfigured reports whether a language model is wired.
	GeneratorConfigured() bool
}

// PipelinePinger reports whether the corpus and vector indexes are loaded
// and a language model is configured.
type PipelinePinger struct {
	p Readiness
}

// NewPipelinePinger returns a Pinger for p.
func NewPipelinePinger(p Readiness) *PipelinePinger {
	return &PipelinePinger{p: p}
}

func (p *PipelinePinger) Name() string { return "pipeline" }

// Ping reports the current state without waiting. Indexes that are being
// built for the first time report [ErrInitializing]; a rebuild behind
// loaded indexes does not.
func (p *PipelinePinger) Ping(_ context.Context) error {
	if !p.p.Ready() {
		if p.p.Building() {
			return fmt.Errorf("%w: indexes are being built", ErrInitializing)
		}
		return errors.New("indexes not built")
	}
	if !p.p.GeneratorConfigured() {
		return errors.New("language model not configured")
	}
	return nil
}
