package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/54b3r/bpqa-go/internal/logging"
	"github.com/54b3r/bpqa-go/internal/pipeline"
	"github.com/54b3r/bpqa-go/internal/store"
)

const (
	// maxQueryBytes caps the POST /api/query body.
	maxQueryBytes = 64 << 10
	// defaultHistoryLimit is used when ?n is absent.
	defaultHistoryLimit = 20
	// maxHistoryLimit caps ?n.
	maxHistoryLimit = 200
)

// handleQuery handles POST /api/query. Every pipeline failure is already a
// readable answer, so a decoded request gets 200 unless the client is out of
// generation quota. Queries answered without the model are never charged.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, log)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	if s.qa.Classify(ctx, req.Query).Generates() && !s.charge(w, r, "query", log) {
		return
	}

	started := time.Now()
	ans, out := s.qa.HandleDetailed(ctx, req.Query)
	s.metrics.observeQuery(out, len(ans.Images), time.Since(started))

	writeJSON(w, http.StatusOK, queryResponse{
		Text:    ans.Text,
		Images:  ans.Images,
		Mode:    string(out.Mode),
		Section: out.Section,
	}, log)
}

// handleSections handles GET /api/sections.
func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if err := s.qa.EnsureCorpus(r.Context()); err != nil {
		log.Warn("sections: corpus unavailable", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: pipeline.MsgCorpusUnavailable}, log)
		return
	}
	names := s.qa.Corpus().Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, sectionsResponse{Sections: names}, log)
}

// handleHistory handles GET /api/history?n=20.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "query history is disabled"}, log)
		return
	}

	n := defaultHistoryLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "n must be a positive integer"}, log)
			return
		}
		n = min(v, maxHistoryLimit)
	}

	recs, err := s.history.Recent(r.Context(), n)
	if err != nil {
		log.Error("history: read failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not read history"}, log)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: recs}, log)
}

// handleRebuild handles POST /api/index/rebuild. It is charged against the
// generation quota since it embeds the whole corpus. The serving indexes stay
// in place when the rebuild fails.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if !s.charge(w, r, "rebuild", log) {
		return
	}
	if err := s.qa.Rebuild(r.Context()); err != nil {
		s.metrics.indexRebuildsTotal.WithLabelValues(outcomeError).Inc()
		log.Error("rebuild: failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "index rebuild failed: " + err.Error()}, log)
		return
	}
	s.metrics.indexRebuildsTotal.WithLabelValues(outcomeOK).Inc()

	resp := rebuildResponse{Status: "rebuilt"}
	if c := s.qa.Corpus(); c != nil {
		resp.Sections = c.Len()
	}
	log.Info("rebuild: done", slog.Int("sections", resp.Sections))
	writeJSON(w, http.StatusOK, resp, log)
}
