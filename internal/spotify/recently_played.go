package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/justestif/go-listening-stats/internal/metrics"
	"github.com/justestif/go-listening-stats/internal/normalize"
)

const endpointRecentlyPlayed = "recently_played"

// RecentlyPlayed returns plays strictly after the given time, oldest first.
// It follows the next cursor for at most maxPages pages. Any non-2xx or
// undecodable page fails the whole fetch.
func (c *Client) RecentlyPlayed(ctx context.Context, after time.Time) ([]normalize.RawPlay, error) {
	params := url.Values{
		"limit": {strconv.Itoa(c.pageLimit)},
		"after": {strconv.FormatInt(after.UnixMilli(), 10)},
	}
	next := c.baseURL + "/me/player/recently-played?" + params.Encode()

	var plays []normalize.RawPlay
	seen := make(map[string]bool)
	for page := 0; page < c.maxPages && next != ""; page++ {
		body, err := c.get(ctx, endpointRecentlyPlayed, next)
		if err != nil {
			return nil, fmt.Errorf("fetching recently played: %w", err)
		}

		var resp recentlyPlayedPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: decoding recently played: %v", ErrMalformed, err)
		}
		if len(resp.Items) == 0 {
			break
		}

		for _, it := range resp.Items {
			if !it.PlayedAt.After(after) {
				continue
			}
			key := it.Track.ID + "@" + it.PlayedAt.UTC().Format(time.RFC3339Nano)
			if seen[key] {
				continue
			}
			seen[key] = true
			plays = append(plays, it.raw())
		}
		next = resp.Next
	}

	slices.SortStableFunc(plays, func(a, b normalize.RawPlay) int {
		return a.PlayedAt.Compare(b.PlayedAt)
	})
	return plays, nil
}

// get performs a GET request through the rate limiter and circuit breaker,
// retrying 429 and 5xx responses with the configured backoff.
func (c *Client) get(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelays[attempt-1]):
			}
		}

		body, err := run(c.breaker, func() ([]byte, error) {
			return c.doSingleRequest(ctx, reqURL)
		})
		if err == nil {
			metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
			return body, nil
		}
		metrics.UpstreamRequests.WithLabelValues(endpoint, outcome(err)).Inc()

		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func outcome(err error) string {
	var ue *UpstreamError
	switch {
	case errors.As(err, &ue):
		return strconv.Itoa(ue.Status)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
