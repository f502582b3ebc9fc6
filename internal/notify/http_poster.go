package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const responseSnippetLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffMaxElapsed time.Duration
	backoffMax        time.Duration
	backoffInitial    time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      1 * time.Second,
	rateBurst:         1,
	backoffMaxElapsed: 30 * time.Second,
	backoffMax:        10 * time.Second,
	backoffInitial:    1 * time.Second,
}

// httpPoster delivers rendered alert payloads to one alert channel endpoint.
// Deliveries share a token bucket; 5xx and transport failures back off
// exponentially, and a 429 waits for the receiver's Retry-After hint.
type httpPoster struct {
	logger      zerolog.Logger
	channel     string
	endpoint    string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig
	limiter     *rate.Limiter
}

func newHTTPPoster(logger zerolog.Logger, channel, endpoint, contentType string, timing timingConfig) *httpPoster {
	client := retryablehttp.NewClient()
	// Retries are driven by send so the limiter and Retry-After hints apply to each attempt.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) { return false, nil }
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &httpPoster{
		logger:      logger.With().Str("channel", channel).Logger(),
		channel:     channel,
		endpoint:    endpoint,
		contentType: contentType,
		client:      client,
		timing:      timing,
		limiter:     rate.NewLimiter(rate.Every(timing.rateInterval), timing.rateBurst),
	}
}

// wait blocks until the channel's token bucket admits another alert batch.
func (p *httpPoster) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// send delivers payload, retrying until it is accepted, rejected for good, or the
// backoff budget runs out.
func (p *httpPoster) send(ctx context.Context, payload []byte) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.timing.backoffInitial
	expo.MaxInterval = p.timing.backoffMax
	expo.MaxElapsedTime = p.timing.backoffMaxElapsed
	policy := &hintedBackOff{BackOff: expo}

	attempts := 0
	operation := func() error {
		attempts++
		err := p.attempt(ctx, payload)
		if err == nil {
			return nil
		}
		var delivery *deliveryError
		if !errors.As(err, &delivery) || !delivery.retryable {
			return backoff.Permanent(err)
		}
		policy.hint = delivery.retryAfter
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("alert delivery failed, retrying")
	}
	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), onRetry)
}

// attempt performs one POST and classifies the response.
func (p *httpPoster) attempt(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s alert request: %w", p.channel, err)
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return &deliveryError{channel: p.channel, retryable: true, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippetLimit))
	return classifyResponse(p.channel, resp, strings.TrimSpace(string(snippet)))
}

func classifyResponse(channel string, resp *http.Response, snippet string) *deliveryError {
	derr := &deliveryError{channel: channel, status: resp.Status, body: snippet}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		derr.retryable = true
		derr.retryAfter, _ = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= http.StatusInternalServerError:
		derr.retryable = true
	}
	return derr
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if when, err := http.ParseTime(value); err == nil {
		wait = time.Until(when)
	}
	if wait <= 0 {
		return 0, false
	}
	return wait, true
}

// hintedBackOff prefers a receiver-provided wait over the exponential schedule.
// A hinted wait does not advance the exponential schedule.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		wait := b.hint
		b.hint = 0
		return wait
	}
	return b.BackOff.NextBackOff()
}

// deliveryError reports a failed alert delivery attempt.
type deliveryError struct {
	channel    string
	status     string
	body       string
	retryable  bool
	retryAfter time.Duration
	err        error
}

func (e *deliveryError) Error() string {
	switch {
	case e.err != nil:
		return fmt.Sprintf("%s alert delivery failed: %v", e.channel, e.err)
	case e.retryAfter > 0:
		return fmt.Sprintf("%s alert delivery throttled: %s; retry after %s", e.channel, e.status, e.retryAfter)
	case e.body != "":
		return fmt.Sprintf("%s alert delivery rejected: %s (%s)", e.channel, e.status, e.body)
	default:
		return fmt.Sprintf("%s alert delivery rejected: %s", e.channel, e.status)
	}
}

func (e *deliveryError) Unwrap() error {
	return e.err
}
