package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/state"
	"github.com/RemiFigea/parkwatch/internal/transition"
	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	calls  int
	alerts []Alert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, alerts []Alert) error {
	n.calls++
	n.alerts = append(n.alerts, alerts...)
	return n.err
}

type mapNamer map[string]string

func (m mapNamer) Name(id string) string {
	if name, ok := m[id]; ok {
		return name
	}
	return id
}

func TestClosureAlerts(t *testing.T) {
	observed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	changes := []transition.Change{
		// first sighting, no alert
		{Record: parking.StatusRecord{FacilityID: "A", IsClosed: true, ObservedAt: observed}},
		// spaces only
		{
			Record:   parking.StatusRecord{FacilityID: "B", AvailableSpaces: parking.Spaces(3), ObservedAt: observed},
			Previous: &state.Entry{AvailableSpaces: parking.Spaces(4)},
		},
		{
			Record:   parking.StatusRecord{FacilityID: "C", IsClosed: true, ObservedAt: observed},
			Previous: &state.Entry{AvailableSpaces: parking.Spaces(12)},
		},
		{
			Record:   parking.StatusRecord{FacilityID: "D", AvailableSpaces: parking.Spaces(80), ObservedAt: observed},
			Previous: &state.Entry{IsClosed: true},
		},
	}

	alerts := ClosureAlerts(changes, mapNamer{"C": "Cordeliers"})
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].FacilityID != "C" || alerts[0].Event != EventClosed || alerts[0].Name != "Cordeliers" {
		t.Fatalf("unexpected closed alert: %+v", alerts[0])
	}
	if alerts[1].FacilityID != "D" || alerts[1].Event != EventReopened || alerts[1].Name != "D" {
		t.Fatalf("unexpected reopened alert: %+v", alerts[1])
	}
	if alerts[1].AvailableSpaces == nil || *alerts[1].AvailableSpaces != 80 {
		t.Fatalf("expected spaces on reopened alert: %+v", alerts[1])
	}
	if !alerts[0].ObservedAt.Equal(observed) {
		t.Fatalf("expected observed_at to be carried")
	}
}

func TestClosureAlertsNone(t *testing.T) {
	if alerts := ClosureAlerts(nil, nil); alerts != nil {
		t.Fatalf("expected no alerts, got %v", alerts)
	}
}

func TestHaltAlert(t *testing.T) {
	err := fmt.Errorf("tick 7: %w", &parking.Error{Kind: parking.KindStateCeilingExceeded, Op: "check state size", Err: errors.New("tracking 31 facilities")})
	alert := HaltAlert(err)
	if alert.Event != EventHalted {
		t.Fatalf("unexpected event: %s", alert.Event)
	}
	if alert.Name != string(parking.KindStateCeilingExceeded) {
		t.Fatalf("expected kind as name, got %q", alert.Name)
	}
	if alert.Detail != err.Error() {
		t.Fatalf("unexpected detail: %q", alert.Detail)
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("slack down")}
	ok := &recordingNotifier{}
	multi := NewMultiNotifier(failing, nil, ok)

	if multi.Len() != 2 {
		t.Fatalf("expected nil notifiers to be dropped, got %d", multi.Len())
	}

	err := multi.Notify(context.Background(), makeAlerts(2))
	if err == nil || err.Error() != "slack down" {
		t.Fatalf("expected first error, got %v", err)
	}
	if ok.calls != 1 || len(ok.alerts) != 2 {
		t.Fatalf("expected second notifier to still receive alerts")
	}

	if err := multi.Notify(context.Background(), nil); err != nil {
		t.Fatalf("empty alerts should be skipped: %v", err)
	}
	if ok.calls != 1 {
		t.Fatalf("expected no call for empty alerts")
	}
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &recordingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	if err := dryRun.Notify(context.Background(), append(makeAlerts(1), HaltAlert(errors.New("x")))); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
}
