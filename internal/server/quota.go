package server

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultGenerationRate is the sustained number of model-backed requests
	// per second allowed per client.
	defaultGenerationRate = 1
	// defaultGenerationBurst is how many model-backed requests a client may
	// send back to back.
	defaultGenerationBurst = 5
	// quotaIdle is how long a client's bucket is kept after its last request.
	quotaIdle = 10 * time.Minute
)

// generationQuota meters requests that call the language model or the
// embedder, per client. Listing, lookups that miss and GET /api/sections
// never reach it.
type generationQuota struct {
	mu      sync.Mutex
	buckets map[string]*quotaBucket
	limit   rate.Limit
	burst   int
	// now is replaced in tests.
	now func() time.Time
}

type quotaBucket struct {
	lim  *rate.Limiter
	used time.Time
}

func newGenerationQuota(perSecond float64, burst int) *generationQuota {
	return &generationQuota{
		buckets: make(map[string]*quotaBucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

// take spends one token for client. When the bucket is empty it returns
// false and how long until a token is available.
func (q *generationQuota) take(client string) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	b, ok := q.buckets[client]
	if !ok {
		b = &quotaBucket{lim: rate.NewLimiter(q.limit, q.burst)}
		q.buckets[client] = b
	}
	b.used = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// sweep forgets clients idle for longer than quotaIdle.
func (q *generationQuota) sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-quotaIdle)
	for client, b := range q.buckets {
		if b.used.Before(cutoff) {
			delete(q.buckets, client)
		}
	}
}

// run sweeps once a minute until ctx is done.
func (q *generationQuota) run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.sweep()
		}
	}
}

// charge spends one generation token for the caller of r. On refusal it
// writes 429 with Retry-After and returns false.
func (s *Server) charge(w http.ResponseWriter, r *http.Request, endpoint string, log *slog.Logger) bool {
	client := clientKey(r)
	wait, ok := s.quota.take(client)
	if ok {
		return true
	}
	s.metrics.quotaRejectionsTotal.WithLabelValues(endpoint).Inc()
	log.Warn("generation quota exhausted",
		slog.String("client", client),
		slog.String("endpoint", endpoint),
		slog.Duration("retry_after", wait),
	)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many questions, please wait before asking again"}, log)
	return false
}

// clientKey identifies the caller by remote host. X-Forwarded-For is not
// trusted.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
