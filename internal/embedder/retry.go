package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/54b3r/bpqa-go/internal/rag"
)

// maxBackoff caps a single retry delay.
const maxBackoff = 30 * time.Second

// Retrying wraps an embedder and retries transient failures (network errors,
// 429 and 5xx responses) with exponential backoff.
type Retrying struct {
	// inner is the wrapped embedder.
	inner rag.Embedder
	// attempts is the total number of tries per call.
	attempts int
	// base is the delay before the first retry.
	base time.Duration
	// log receives a record per retry.
	log *slog.Logger
	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner. attempts below 1 means a single try.
func NewRetrying(inner rag.Embedder, attempts int, base time.Duration, log *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Retrying{inner: inner, attempts: attempts, base: base, log: log, sleep: sleepCtx}
}

// Model returns the wrapped embedder's model name when it exposes one.
func (r *Retrying) Model() string {
	if n, ok := r.inner.(interface{ Model() string }); ok {
		return n.Model()
	}
	return ""
}

// Embed calls the wrapped embedder, retrying transient failures.
func (r *Retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			d := CalculateBackoff(r.base, attempt)
			r.log.Warn("embedder: retrying after transient failure",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", d),
				slog.String("error", lastErr.Error()),
			)
			if err := r.sleep(ctx, d); err != nil {
				return nil, fmt.Errorf("embedder: %w (last error: %w)", err, lastErr)
			}
		}
		vecs, err := r.inner.Embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !Transient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embedder: giving up after %d attempts: %w", r.attempts, lastErr)
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return retryableStatus(se.Code)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// Transport-level failures carry no status.
	return true
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}

// CalculateBackoff returns exponential backoff with jitter.
// Base delay is doubled each attempt, capped at 30s, with ±25% jitter.
func CalculateBackoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	half := int64(backoff) / 2
	if half <= 0 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(half)) - backoff/4
	return backoff + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
