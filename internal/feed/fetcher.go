package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RemiFigea/parkwatch/internal/parking"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const defaultMaxBytes int64 = 5 << 20

// RawRecord is one snapshot entry keyed by upstream field names.
type RawRecord map[string]any

// Snapshot is the decoded payload of one fetch.
type Snapshot struct {
	Body      []byte
	Records   []RawRecord
	FetchedAt time.Time
}

// Empty reports whether the snapshot carries no records.
func (s Snapshot) Empty() bool {
	return len(s.Records) == 0
}

// Fetcher retrieves the current facility snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// StatusError reports a non-200 response from the feed.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// HTTPFetcher issues one GET per call against a fixed feed URL.
type HTTPFetcher struct {
	url      string
	client   *retryablehttp.Client
	maxBytes int64
	limiter  *rate.Limiter
}

// Option customizes an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithMinSpacing enforces a minimum delay between two requests to the feed.
func WithMinSpacing(spacing time.Duration) Option {
	return func(f *HTTPFetcher) {
		if spacing <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}
}

// NewHTTPFetcher constructs an HTTPFetcher with the given URL and request timeout.
func NewHTTPFetcher(url string, timeout time.Duration, maxBytes int64, opts ...Option) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("feed url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	// Retries belong to the poll loop; the client makes exactly one attempt.
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}

	f := &HTTPFetcher{
		url:      url,
		client:   client,
		maxBytes: maxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads and decodes the snapshot. Every failure is classified as upstream unavailable.
func (f *HTTPFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Snapshot{}, parking.Wrap(parking.KindUpstreamUnavailable, "wait for feed", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Snapshot{}, parking.Wrap(parking.KindUpstreamUnavailable, "create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, parking.Wrap(parking.KindUpstreamUnavailable, "fetch snapshot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, parking.Wrap(parking.KindUpstreamUnavailable, "fetch snapshot",
			&StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return Snapshot{}, parking.Wrap(parking.KindUpstreamUnavailable, "read snapshot", err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return Snapshot{}, parking.Wrap(parking.KindUpstreamUnavailable, "decode snapshot", err)
	}

	return Snapshot{
		Body:      body,
		Records:   records,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("snapshot body exceeds %d bytes", maxBytes)
	}
	return body, nil
}

// decodeRecords expects a JSON array of objects. An empty body or null yields no records.
func decodeRecords(body []byte) ([]RawRecord, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var records []RawRecord
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("expected a JSON array of records: %w", err)
	}
	return records, nil
}
