package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"source":"parkwatch","alerts":{{ toJson .Alerts }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Alerts      []Alert
	GeneratedAt time.Time
}

// WebhookNotifier sends alerts to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when webhookURL is empty.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 || n == nil {
		return nil
	}

	if err := n.poster.wait(ctx); err != nil {
		return err
	}

	payload := WebhookPayload{
		Alerts:      alerts,
		GeneratedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.send(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Int("alerts", len(alerts)).
		Msg("webhook notification sent")

	return nil
}
