package geodata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/joeblew999/plat-atlas/internal/logging"
)

// StatusError reports a non-2xx response for a dataset key.
type StatusError struct {
	Key    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dataset %q: unexpected status %d", e.Key, e.Status)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}

// Resolver maps a dataset key (URL or logical layer name) to a fetchable
// URL. The identity resolver treats every key as a URL.
type Resolver func(key string) string

// HTTPFetcher fetches GeoJSON FeatureCollections over HTTP. A hard
// per-request timeout applies regardless of the caller's context.
type HTTPFetcher struct {
	Client  *http.Client
	Resolve Resolver
	Timeout time.Duration
}

// NewHTTPFetcher creates an HTTP fetcher with a 30s hard timeout.
func NewHTTPFetcher(resolve Resolver) *HTTPFetcher {
	if resolve == nil {
		resolve = func(key string) string { return key }
	}
	return &HTTPFetcher{
		Client:  &http.Client{},
		Resolve: resolve,
		Timeout: 30 * time.Second,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	url := f.Resolve(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", key, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Key: key, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: reading body: %w", key, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: parsing geojson: %w", key, err)
	}
	return fc, nil
}

// RetryFetcher wraps a fetcher with bounded exponential backoff for
// transient failures (408/425/429/5xx and transport errors). Retry policy
// lives here, outside the Cache, so coalesced waiters share one retry
// sequence.
type RetryFetcher struct {
	Next     Fetcher
	Attempts int
	BaseWait time.Duration

	log zerolog.Logger
}

// NewRetryFetcher wraps next with 3 attempts starting at 500ms backoff.
func NewRetryFetcher(next Fetcher) *RetryFetcher {
	return &RetryFetcher{
		Next:     next,
		Attempts: 3,
		BaseWait: 500 * time.Millisecond,
		log:      logging.With("geodata"),
	}
}

// Fetch implements Fetcher.
func (f *RetryFetcher) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	wait := f.BaseWait
	var lastErr error
	for attempt := 1; attempt <= f.Attempts; attempt++ {
		fc, err := f.Next.Fetch(ctx, key)
		if err == nil {
			return fc, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return nil, err
		}
		if attempt == f.Attempts {
			break
		}

		f.log.Warn().
			Str("key", key).Int("attempt", attempt).Err(err).
			Msg("dataset fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, lastErr
}

// BreakerFetcher guards a fetcher with a circuit breaker so a dead
// dataset host stops consuming retries for the rest of the session.
type BreakerFetcher struct {
	Next Fetcher
	cb   *gobreaker.CircuitBreaker[*geojson.FeatureCollection]
}

// NewBreakerFetcher wraps next with a breaker that opens after 5
// consecutive failures and probes again after 30s.
func NewBreakerFetcher(next Fetcher) *BreakerFetcher {
	settings := gobreaker.Settings{
		Name:    "geodata",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerFetcher{
		Next: next,
		cb:   gobreaker.NewCircuitBreaker[*geojson.FeatureCollection](settings),
	}
}

// Fetch implements Fetcher.
func (f *BreakerFetcher) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	return f.cb.Execute(func() (*geojson.FeatureCollection, error) {
		return f.Next.Fetch(ctx, key)
	})
}

// FallbackFetcher tries the primary fetcher and, when it fails, a local
// secondary source. The composed engine puts the DuckDB dataset store
// here so imported datasets keep layers working while the remote host
// (or its breaker) is down.
type FallbackFetcher struct {
	Primary Fetcher
	Local   Fetcher

	log zerolog.Logger
}

// NewFallbackFetcher wraps primary with a local fallback source.
func NewFallbackFetcher(primary, local Fetcher) *FallbackFetcher {
	return &FallbackFetcher{Primary: primary, Local: local, log: logging.With("geodata")}
}

// Fetch implements Fetcher.
func (f *FallbackFetcher) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	fc, err := f.Primary.Fetch(ctx, key)
	if err == nil {
		return fc, nil
	}
	f.log.Warn().Str("key", key).Err(err).Msg("remote fetch failed, trying local store")
	fc, lerr := f.Local.Fetch(ctx, key)
	if lerr != nil {
		return nil, err // the primary failure is the one worth reporting
	}
	return fc, nil
}

var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = (*RetryFetcher)(nil)
	_ Fetcher = (*BreakerFetcher)(nil)
	_ Fetcher = (*FallbackFetcher)(nil)
)
