package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs alerts without sending them.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, alerts []Alert) error {
	for _, alert := range alerts {
		event := n.logger.Info().
			Str("event", string(alert.Event)).
			Str("facility_id", alert.FacilityID).
			Str("name", alert.Name)
		if alert.AvailableSpaces != nil {
			event = event.Int("available_spaces", *alert.AvailableSpaces)
		}
		if alert.Detail != "" {
			event = event.Str("detail", alert.Detail)
		}
		event.Msg("[DRY-RUN] Would notify")
	}
	return nil
}
