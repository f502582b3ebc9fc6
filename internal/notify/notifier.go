package notify

import (
	"context"
	"errors"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/RemiFigea/parkwatch/internal/transition"
)

// Event names what happened to a facility.
type Event string

const (
	EventClosed   Event = "closed"
	EventReopened Event = "reopened"
	// EventHalted is emitted once when the poller stops on a fatal error.
	EventHalted Event = "halted"
)

// Alert is a single notification.
type Alert struct {
	Event           Event     `json:"event"`
	FacilityID      string    `json:"facility_id,omitempty"`
	Name            string    `json:"name,omitempty"`
	AvailableSpaces *int      `json:"available_spaces,omitempty"`
	ObservedAt      time.Time `json:"observed_at,omitempty"`
	Detail          string    `json:"detail,omitempty"`
}

// Notifier delivers alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// Namer resolves a facility id to a display name.
type Namer interface {
	Name(id string) string
}

// ClosureAlerts builds one alert per closure flip in changes. First sightings never alert.
// namer may be nil.
func ClosureAlerts(changes []transition.Change, namer Namer) []Alert {
	flips := transition.ClosureFlips(changes)
	if len(flips) == 0 {
		return nil
	}
	alerts := make([]Alert, 0, len(flips))
	for _, change := range flips {
		record := change.Record
		event := EventReopened
		if record.IsClosed {
			event = EventClosed
		}
		alert := Alert{
			Event:           event,
			FacilityID:      record.FacilityID,
			Name:            record.FacilityID,
			AvailableSpaces: parking.CopySpaces(record.AvailableSpaces),
			ObservedAt:      record.ObservedAt,
		}
		if namer != nil {
			alert.Name = namer.Name(record.FacilityID)
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

// HaltAlert describes a fatal error that stopped the poller.
func HaltAlert(err error) Alert {
	alert := Alert{Event: EventHalted, ObservedAt: time.Now().UTC()}
	if err != nil {
		alert.Detail = err.Error()
	}
	var perr *parking.Error
	if errors.As(err, &perr) {
		alert.Name = string(perr.Kind)
	}
	return alert
}
