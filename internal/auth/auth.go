// Package auth builds an authenticated Spotify HTTP client from a long-lived
// refresh token, refreshing access tokens on demand.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-listening-stats/internal/logging"
)

var (
	// ErrMissingCredentials is returned when the client id or secret is empty.
	ErrMissingCredentials = errors.New("missing Spotify client id or secret")

	// ErrNoRefreshToken is returned when neither the configuration nor the token
	// cache provides a refresh token.
	ErrNoRefreshToken = errors.New("no Spotify refresh token available")
)

// Authenticator exchanges a refresh token for access tokens.
type Authenticator struct {
	config       *oauth2.Config
	refreshToken string
	cache        *TokenCache
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithTokenCache persists refreshed tokens to cache and prefers a cached
// refresh token over the configured one.
func WithTokenCache(cache *TokenCache) Option {
	return func(a *Authenticator) {
		a.cache = cache
	}
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(url string) Option {
	return func(a *Authenticator) {
		a.config.Endpoint.TokenURL = url
	}
}

// New creates an Authenticator. refreshToken may be empty when a token cache
// already holds one.
func New(clientID, clientSecret, refreshToken string, opts ...Option) (*Authenticator, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	a := &Authenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  spotifyauth.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: []string{spotifyauth.ScopeUserReadRecentlyPlayed},
		},
		refreshToken: refreshToken,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Client returns an HTTP client that authorizes every request, refreshing the
// access token when it expires.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	seed, err := a.seedToken()
	if err != nil {
		return nil, err
	}

	var src oauth2.TokenSource = a.config.TokenSource(ctx, seed)
	if a.cache != nil {
		src = &cachingSource{base: src, cache: a.cache, last: seed.AccessToken}
	}
	return oauth2.NewClient(ctx, src), nil
}

func (a *Authenticator) seedToken() (*oauth2.Token, error) {
	if a.cache != nil {
		cached, err := a.cache.Load()
		if err != nil {
			return nil, fmt.Errorf("loading cached token: %w", err)
		}
		if cached != nil && cached.RefreshToken != "" {
			return cached, nil
		}
	}
	if a.refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	// An empty access token forces a refresh on first use.
	return &oauth2.Token{RefreshToken: a.refreshToken}, nil
}

// cachingSource saves every newly issued token.
type cachingSource struct {
	base  oauth2.TokenSource
	cache *TokenCache

	mu   sync.Mutex
	last string
}

func (s *cachingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.cache.Save(tok); err != nil {
			logging.Warn().Err(err).Str("path", s.cache.Path()).Msg("failed to cache refreshed token")
		}
	}
	return tok, nil
}
