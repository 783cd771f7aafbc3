package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock is a settable time source for the quota.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestGenerationQuota_Take(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	q := newGenerationQuota(0.5, 2)
	q.now = clock.now

	for i := range 2 {
		if _, ok := q.take("a"); !ok {
			t.Fatalf("take %d within burst refused", i)
		}
	}
	wait, ok := q.take("a")
	if ok {
		t.Fatal("take beyond burst allowed")
	}
	if wait <= 0 || wait > 2*time.Second {
		t.Errorf("wait = %v, want within (0, 2s]", wait)
	}

	if _, ok := q.take("b"); !ok {
		t.Error("second client shares the first client's bucket")
	}

	clock.t = clock.t.Add(2 * time.Second)
	if _, ok := q.take("a"); !ok {
		t.Error("bucket did not refill after the advertised wait")
	}
}

func TestGenerationQuota_RefusalDoesNotSpend(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	q := newGenerationQuota(1, 1)
	q.now = clock.now

	q.take("a")
	for range 5 {
		q.take("a")
	}
	clock.t = clock.t.Add(time.Second)
	if _, ok := q.take("a"); !ok {
		t.Error("refused requests kept the bucket drained")
	}
}

func TestGenerationQuota_Sweep(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1000, 0)}
	q := newGenerationQuota(1, 1)
	q.now = clock.now

	q.take("old")
	clock.t = clock.t.Add(quotaIdle + time.Second)
	q.take("fresh")
	q.sweep()

	if _, ok := q.buckets["old"]; ok {
		t.Error("idle client not swept")
	}
	if _, ok := q.buckets["fresh"]; !ok {
		t.Error("active client swept")
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		if got := clientKey(req); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
