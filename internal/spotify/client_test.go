package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithRetryDelays(), WithRateLimit(1000)}, opts...)
	return New(srv.Client(), opts...)
}

const pageTwo = `{
  "items": [
    {"played_at": "2024-03-01T10:00:00.000Z", "track": {
      "id": "t1", "name": "First", "duration_ms": 1000, "explicit": true,
      "external_ids": {"isrc": "usabc1"}, "external_urls": {"spotify": "https://open.spotify.com/track/t1"},
      "album": {"id": "al1", "name": "Album", "release_date": "2020",
        "images": [{"url": "https://img/al1-640", "width": 640}, {"url": "https://img/al1-300", "width": 300}],
        "artists": [{"id": "ar1", "name": "Artist"}]},
      "artists": [{"id": "ar1", "name": "Artist"}, {"id": "ar2", "name": "Guest"}]}}
  ],
  "next": null
}`

func TestRecentlyPlayed_FollowsNextAndSorts(t *testing.T) {
	var calls atomic.Int32
	var baseURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/me/player/recently-played" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, pageTwo)
			return
		}
		if got := r.URL.Query().Get("after"); got != "1709200000000" {
			t.Errorf("after = %q, want 1709200000000", got)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("limit = %q, want 2", got)
		}
		fmt.Fprintf(w, `{
		  "items": [
		    {"played_at": "2024-03-01T12:00:00Z", "track": {"id": "t2", "name": "Second", "album": {"id": "al1", "name": "Album"}, "artists": [{"id": "ar1", "name": "Artist"}]}},
		    {"played_at": "2024-02-01T12:00:00Z", "track": {"id": "old", "name": "Old", "album": {"id": "al1", "name": "Album"}, "artists": [{"id": "ar1", "name": "Artist"}]}}
		  ],
		  "next": "%s/me/player/recently-played?page=2"
		}`, baseURL)
	}, WithPaging(2, 5))
	baseURL = c.baseURL

	plays, err := c.RecentlyPlayed(context.Background(), time.UnixMilli(1709200000000))
	if err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if len(plays) != 2 {
		t.Fatalf("len(plays) = %d, want 2", len(plays))
	}
	if plays[0].Track.ID != "t1" || plays[1].Track.ID != "t2" {
		t.Errorf("order = [%s %s], want [t1 t2]", plays[0].Track.ID, plays[1].Track.ID)
	}

	first := plays[0].Track
	if first.ISRC != "usabc1" {
		t.Errorf("ISRC = %q, want usabc1", first.ISRC)
	}
	if !first.Explicit {
		t.Error("Explicit = false, want true")
	}
	if first.Album.ImageURL != "https://img/al1-640" {
		t.Errorf("Album.ImageURL = %q, want first image", first.Album.ImageURL)
	}
	if first.ReleaseDate != "2020" {
		t.Errorf("ReleaseDate = %q, want 2020", first.ReleaseDate)
	}
	if len(first.Artists) != 2 || first.Artists[1].ID != "ar2" {
		t.Errorf("Artists = %+v, want ar1, ar2", first.Artists)
	}
}

func TestRecentlyPlayed_MaxPages(t *testing.T) {
	var calls atomic.Int32
	var baseURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"items":[{"played_at":"2024-03-01T12:00:%02dZ","track":{"id":"t","name":"T","album":{"id":"a","name":"A"},"artists":[{"id":"x","name":"X"}]}}],"next":"%s/me/player/recently-played?n=%d"}`,
			n, baseURL, n)
	}, WithPaging(1, 3))
	baseURL = c.baseURL

	plays, err := c.RecentlyPlayed(context.Background(), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if len(plays) != 3 {
		t.Errorf("len(plays) = %d, want 3", len(plays))
	}
}

func TestRecentlyPlayed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, `{"error":{"status":502}}`, ErrUpstream},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"status":401,"message":"expired"}}`, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimited},
		{"malformed", http.StatusOK, `{"items": [`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			plays, err := c.RecentlyPlayed(context.Background(), time.Unix(0, 0))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RecentlyPlayed() error = %v, want %v", err, tt.wantErr)
			}
			if plays != nil {
				t.Errorf("plays = %v, want nil", plays)
			}
		})
	}
}

func TestRecentlyPlayed_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"items":[]}`)
	}, WithRetryDelays(time.Millisecond, time.Millisecond, time.Millisecond))

	if _, err := c.RecentlyPlayed(context.Background(), time.Unix(0, 0)); err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRecentlyPlayed_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, WithFetchTimeout(20*time.Millisecond))

	if _, err := c.RecentlyPlayed(context.Background(), time.Unix(0, 0)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RecentlyPlayed() error = %v, want deadline exceeded", err)
	}
}

func TestArtistImages(t *testing.T) {
	var gotIDs string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artists" {
			t.Errorf("path = %q, want /artists", r.URL.Path)
		}
		gotIDs = r.URL.Query().Get("ids")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"artists":[
		  {"id":"a1","name":"One","images":[{"url":"https://img/a1-640","width":640,"height":640},{"url":"https://img/a1-160","width":160,"height":160}]},
		  {"id":"a2","name":"Two","images":[{"url":"https://img/a2-320","width":320,"height":320}]},
		  null
		]}`)
	})

	images, err := c.ArtistImages(context.Background(), []string{"a1", "a2", "a3"})
	if err != nil {
		t.Fatalf("ArtistImages() error = %v", err)
	}
	if gotIDs != "a1,a2,a3" {
		t.Errorf("ids = %q, want a1,a2,a3", gotIDs)
	}
	if len(images) != 3 {
		t.Fatalf("len(images) = %d, want 3", len(images))
	}
	if images["a1"] == nil || *images["a1"] != "https://img/a1-160" {
		t.Errorf("a1 image = %v, want 160px image", images["a1"])
	}
	if images["a2"] != nil {
		t.Errorf("a2 image = %q, want nil", *images["a2"])
	}
	if v, ok := images["a3"]; !ok || v != nil {
		t.Errorf("a3 image = %v (present %v), want nil entry", v, ok)
	}
}

func TestArtistImages_TooMany(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	ids := strings.Split(strings.Repeat("x,", maxArtistsPerRequest+1), ",")[:maxArtistsPerRequest+1]
	if _, err := c.ArtistImages(context.Background(), ids); err == nil {
		t.Error("ArtistImages() error = nil, want error")
	}
}

func TestArtistImages_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"status":401,"message":"expired"}}`)
	})
	if _, err := c.ArtistImages(context.Background(), []string{"a1"}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("ArtistImages() error = %v, want ErrUnauthorized", err)
	}
}
