// Package spotify reads play history and artist metadata from the Spotify Web API.
package spotify

import (
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Spotify Web API root.
	DefaultBaseURL = "https://api.spotify.com/v1"

	// maxArtistsPerRequest is the Spotify limit for GET /artists.
	maxArtistsPerRequest = 50

	userAgent = "listening-stats/1.0"
)

// Client calls the Spotify Web API through an already authorized HTTP client.
type Client struct {
	api          *spotify.Client
	httpClient   *http.Client
	baseURL      string
	breaker      *gobreaker.CircuitBreaker[any]
	limiter      *rate.Limiter
	fetchTimeout time.Duration
	pageLimit    int
	maxPages     int
	imageWidth   int
	retryDelays  []time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithFetchTimeout bounds every upstream request.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithPaging sets the page size and the maximum number of pages per fetch.
func WithPaging(limit, maxPages int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.pageLimit = min(limit, 50)
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithImageWidth selects which artist image size is stored.
func WithImageWidth(w int) Option {
	return func(c *Client) {
		if w > 0 {
			c.imageWidth = w
		}
	}
}

// WithRetryDelays sets the backoff schedule for rate-limited or 5xx responses.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) {
		c.retryDelays = delays
	}
}

// New creates a Client. httpClient must already add authorization.
func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient:   httpClient,
		baseURL:      DefaultBaseURL,
		limiter:      rate.NewLimiter(rate.Limit(5), 1),
		fetchTimeout: 10 * time.Second,
		pageLimit:    50,
		maxPages:     10,
		imageWidth:   160,
		retryDelays:  []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.api = spotify.New(httpClient, spotify.WithRetry(true), spotify.WithBaseURL(c.baseURL+"/"))
	c.breaker = newBreaker("spotify")
	return c
}
