package notify

import (
	"context"
)

// MultiNotifier fans out alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier == nil {
			continue
		}
		filtered = append(filtered, notifier)
	}
	return &MultiNotifier{notifiers: filtered}
}

// Len returns the number of wrapped notifiers.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}

// Notify implements Notifier. Every notifier is attempted; the first error is returned.
func (m *MultiNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if m == nil || len(alerts) == 0 {
		return nil
	}
	var firstErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, alerts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
