package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-listening-stats/internal/metrics"
)

const endpointArtists = "artists"

// MaxArtistsPerRequest is the largest ids slice ArtistImages accepts.
const MaxArtistsPerRequest = maxArtistsPerRequest

// ArtistImages looks up artists by id and returns, for every requested id,
// the URL of the image whose width matches the configured width, or nil.
func (c *Client) ArtistImages(ctx context.Context, ids []string) (map[string]*string, error) {
	if len(ids) == 0 {
		return map[string]*string{}, nil
	}
	if len(ids) > maxArtistsPerRequest {
		return nil, fmt.Errorf("looking up %d artists: at most %d per request", len(ids), maxArtistsPerRequest)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	sids := make([]spotify.ID, len(ids))
	for i, id := range ids {
		sids[i] = spotify.ID(id)
	}

	artists, err := run(c.breaker, func() ([]*spotify.FullArtist, error) {
		return c.api.GetArtists(ctx, sids...)
	})
	if err != nil {
		err = upstreamFromAPI(err)
		metrics.UpstreamRequests.WithLabelValues(endpointArtists, outcome(err)).Inc()
		return nil, fmt.Errorf("fetching artists: %w", err)
	}
	metrics.UpstreamRequests.WithLabelValues(endpointArtists, "ok").Inc()

	out := make(map[string]*string, len(ids))
	for _, id := range ids {
		out[id] = nil
	}
	for _, a := range artists {
		if a == nil {
			continue
		}
		out[a.ID.String()] = pickImage(a.Images, c.imageWidth)
	}
	return out, nil
}

func pickImage(images []spotify.Image, width int) *string {
	for _, img := range images {
		if int(img.Width) == width && img.URL != "" {
			u := img.URL
			return &u
		}
	}
	return nil
}

// upstreamFromAPI converts zmb3/spotify errors into UpstreamError.
func upstreamFromAPI(err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.Status, Body: apiErr.Message}
	}
	return err
}
