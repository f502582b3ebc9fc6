package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/rs/zerolog"
)

func TestBuildSlackMessagesSingle(t *testing.T) {
	alerts := makeAlerts(2)

	messages := buildSlackMessages(alerts)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if !strings.Contains(msg.Text, "2 facility alert") {
		t.Fatalf("expected summary to include alert count, got %q", msg.Text)
	}
	if msg.Blocks == nil {
		t.Fatalf("expected blocks to be set")
	}
	if len(msg.Blocks.BlockSet) != slackReservedBlocks+2 {
		t.Fatalf("expected %d blocks, got %d", slackReservedBlocks+2, len(msg.Blocks.BlockSet))
	}
}

func TestBuildSlackMessagesChunking(t *testing.T) {
	total := slackMaxAlerts*2 + 3
	messages := buildSlackMessages(makeAlerts(total))
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	for i, msg := range messages {
		if msg.Blocks == nil {
			t.Fatalf("message %d missing blocks", i)
		}
		if len(msg.Blocks.BlockSet) > slackMaxBlocks {
			t.Fatalf("message %d exceeds block limit: %d", i, len(msg.Blocks.BlockSet))
		}
		if !strings.Contains(msg.Text, fmt.Sprintf("part %d/3", i+1)) {
			t.Fatalf("message %d missing part marker: %q", i, msg.Text)
		}
	}
}

func TestBuildAlertBlockText(t *testing.T) {
	cases := []struct {
		name  string
		alert Alert
		want  string
	}{
		{"closed", Alert{Event: EventClosed, FacilityID: "LPA0740", Name: "Cordeliers"}, "`OPEN` → `CLOSED`"},
		{"reopened", Alert{Event: EventReopened, FacilityID: "LPA0740", Name: "Cordeliers"}, "`CLOSED` → `OPEN`"},
		{"halted", HaltAlert(errors.New("boom")), "Poller halted"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := buildSlackMessage([]Alert{tc.alert}, 1, 1, 1).Blocks.MarshalJSON()
			if err != nil {
				t.Fatalf("marshal blocks: %v", err)
			}
			if !strings.Contains(string(payload), tc.want) {
				t.Fatalf("expected %q in %s", tc.want, payload)
			}
		})
	}
}

func TestSlackNotifierRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL,
		WithSlackTiming(time.Millisecond, 1, 5*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, makeAlerts(1)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSlackNotifierRetryAfterError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL,
		WithSlackTiming(time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)
	slackNotifier, ok := notifier.(*SlackNotifier)
	if !ok {
		t.Fatalf("expected SlackNotifier, got %T", notifier)
	}

	err := slackNotifier.attemptDelivery(context.Background(), []byte(`{}`))
	var delivery *deliveryError
	if !errors.As(err, &delivery) || !delivery.retryable {
		t.Fatalf("expected retryable delivery error, got %v", err)
	}
	if delivery.retryAfter != time.Second {
		t.Fatalf("expected 1s retry-after, got %s", delivery.retryAfter)
	}
}

func TestSlackNotifierRateLimitBlocks(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL,
		WithSlackTiming(500*time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)

	if err := notifier.Notify(context.Background(), makeAlerts(1)); err != nil {
		t.Fatalf("expected first notify to succeed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, makeAlerts(1)); err == nil {
		t.Fatalf("expected rate limit error, got nil")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected rate limit to block second call, got %d", got)
	}
}

func TestSlackNotifierClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL,
		WithSlackTiming(time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)

	err := notifier.Notify(context.Background(), makeAlerts(1))
	if err == nil {
		t.Fatalf("expected error for 400 response, got nil")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_payload") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call (no retries for 4xx), got %d", got)
	}
}

func TestSlackNotifierContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL,
		WithSlackTiming(time.Millisecond, 1, 100*time.Millisecond, 200*time.Millisecond, 1*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := notifier.Notify(ctx, makeAlerts(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled error, got %v", err)
	}
}

func TestNewSlackNotifierWithoutURLIsNoop(t *testing.T) {
	notifier := NewSlackNotifier(zerolog.Nop(), "")
	if _, ok := notifier.(*NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", notifier)
	}
	if err := notifier.Notify(context.Background(), makeAlerts(1)); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
}

func makeAlerts(count int) []Alert {
	alerts := make([]Alert, count)
	for i := 0; i < count; i++ {
		alerts[i] = Alert{
			Event:           EventClosed,
			FacilityID:      fmt.Sprintf("LPA%04d", i+1),
			Name:            fmt.Sprintf("Parking %d", i+1),
			AvailableSpaces: parking.Spaces(i),
			ObservedAt:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		}
	}
	return alerts
}
