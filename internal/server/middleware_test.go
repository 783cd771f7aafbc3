package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/54b3r/bpqa-go/internal/logging"
)

func TestRequestLogger_RequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "minted", incoming: ""},
		{name: "caller id kept", incoming: "abc-123", keep: true},
		{name: "too long", incoming: strings.Repeat("x", maxRequestIDLen+1)},
		{name: "control characters", incoming: "abc\x01def"},
		{name: "spaces", incoming: "abc def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var seen string
			h := requestLogger(logging.Discard(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				seen = w.Header().Get(requestIDHeader)
				w.WriteHeader(http.StatusAccepted)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/sections", nil)
			if tt.incoming != "" {
				req.Header.Set(requestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got != seen {
				t.Errorf("handler saw %q, response carries %q", seen, got)
			}
			if tt.keep {
				if got != tt.incoming {
					t.Errorf("request id = %q, want caller's %q", got, tt.incoming)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("request id %q is not a UUID: %v", got, err)
			}
			if w.Code != http.StatusAccepted {
				t.Errorf("status = %d", w.Code)
			}
		})
	}
}
