package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

func TestHintedBackOffPrefersHint(t *testing.T) {
	b := &hintedBackOff{BackOff: backoff.NewConstantBackOff(10 * time.Millisecond)}

	b.hint = 2 * time.Second
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Fatalf("expected hinted wait, got %s", got)
	}
	if got := b.NextBackOff(); got != 10*time.Millisecond {
		t.Fatalf("hint must apply once, got %s", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{" 1 ", time.Second, true},
		{"0", 0, false},
		{"-4", 0, false},
		{"soon", 0, false},
		{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat), 0, false},
	}
	for _, tc := range cases {
		got, ok := parseRetryAfter(tc.value)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseRetryAfter(%q) = %s, %v; want %s, %v", tc.value, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPosterHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timing := defaultTiming
	timing.backoffInitial = time.Millisecond
	timing.backoffMax = time.Millisecond
	timing.backoffMaxElapsed = 5 * time.Second
	poster := newHTTPPoster(zerolog.Nop(), "webhook", server.URL, "application/json", timing)

	start := time.Now()
	if err := poster.send(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected to wait for Retry-After, retried after %s", elapsed)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}
