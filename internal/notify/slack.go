package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxAlerts      = slackMaxBlocks - slackReservedBlocks
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack alerts disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if err := n.poster.wait(ctx); err != nil {
		return err
	}

	messages := buildSlackMessages(alerts)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.send(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Int("alerts", len(alerts)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) attemptDelivery(ctx context.Context, payload []byte) error {
	return n.poster.attempt(ctx, payload)
}

func buildSlackMessages(alerts []Alert) []slack.WebhookMessage {
	if len(alerts) == 0 {
		return nil
	}

	total := len(alerts)
	chunkTotal := (total + slackMaxAlerts - 1) / slackMaxAlerts
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxAlerts {
		end := min(i+slackMaxAlerts, total)
		partIndex := (i / slackMaxAlerts) + 1
		messages = append(messages, buildSlackMessage(alerts[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(alerts []Alert, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("Parking: %d facility alert(s)", total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Sent: %s", time.Now().UTC().Format(time.RFC3339)), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, alert := range alerts {
		blocks = append(blocks, buildAlertBlock(alert))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildAlertBlock(alert Alert) slack.Block {
	var title string
	switch alert.Event {
	case EventHalted:
		title = fmt.Sprintf("*Poller halted* (`%s`)", alert.Name)
	case EventClosed:
		title = fmt.Sprintf("*%s* (`%s`): `OPEN` → `CLOSED`", alert.Name, alert.FacilityID)
	default:
		title = fmt.Sprintf("*%s* (`%s`): `CLOSED` → `OPEN`", alert.Name, alert.FacilityID)
	}
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if alert.Event != EventHalted {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Spaces:*\n"+formatSpaces(alert.AvailableSpaces), false, false))
	}
	if !alert.ObservedAt.IsZero() {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Observed:*\n"+alert.ObservedAt.UTC().Format(time.RFC3339), false, false))
	}
	if alert.Detail != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Detail:*\n"+alert.Detail, false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatSpaces(spaces *int) string {
	if spaces == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *spaces)
}
