package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/bpqa-go/internal/logging"
)

// checkTimeout bounds each dependency check behind GET /api/ready.
const checkTimeout = 5 * time.Second

// initializingRetryAfter is the Retry-After hint, in seconds, sent while the
// indexes are still being built.
const initializingRetryAfter = "5"

// Readiness states reported in readyResponse.Status.
const (
	statusReady        = "ready"
	statusInitializing = "initializing"
	statusUnavailable  = "unavailable"
)

// ErrInitializing is returned by a Pinger whose dependency is starting and
// will become ready without intervention.
var ErrInitializing = errors.New("initializing")

// Pinger reports whether one dependency can serve. Implementations must be
// safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is usable, [ErrInitializing]
	// while it is still starting, or another error.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses.
	Name() string
}

type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// readyResponse is the body of GET /api/ready.
type readyResponse struct {
	// Status is "ready", "initializing" or "unavailable".
	Status string `json:"status"`
	// Ready is true only in the "ready" state.
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. It answers 200 when every check
// passes. While the indexes are being built and nothing else is failing it
// answers 503 with status "initializing" and a Retry-After hint; any other
// failure is "unavailable".
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Checks: make([]readyCheck, 0, len(s.pingers))}
	initializing, failed := false, false
	for _, p := range s.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := p.Ping(ctx)
		cancel()

		check := readyCheck{Name: p.Name(), OK: err == nil}
		switch {
		case err == nil:
		case errors.Is(err, ErrInitializing):
			initializing = true
			check.Error = err.Error()
		default:
			failed = true
			check.Error = err.Error()
			log.Warn("readiness check failed", slog.String("dependency", p.Name()), slog.Any("error", err))
		}
		resp.Checks = append(resp.Checks, check)
	}

	status := http.StatusServiceUnavailable
	switch {
	case failed:
		resp.Status = statusUnavailable
	case initializing:
		resp.Status = statusInitializing
		w.Header().Set("Retry-After", initializingRetryAfter)
	default:
		resp.Status, resp.Ready = statusReady, true
		status = http.StatusOK
	}
	writeJSON(w, status, resp, log)
}
