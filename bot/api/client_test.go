package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sptube-go/sptube/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		BaseURL:    srv.URL + "/",
		APIKey:     "secret",
		HTTPClient: srv.Client(),
		MaxRetries: retries,
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestGetTrack(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/track", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, "https://open.spotify.com/track/abc", r.URL.Query().Get("url"))
		_ = json.NewEncoder(w).Encode(bot.TrackInfo{
			Name: "Song", Artist: "Artist", TC: "abc", CdnURL: "https://cdn/x", Key: "00", Year: 2020,
		})
	}, 0)

	track, err := c.GetTrack(context.Background(), "  https://open.spotify.com/track/abc ")
	require.NoError(t, err)
	assert.Equal(t, "Song", track.Name)
	assert.Equal(t, "abc", track.TC)
	assert.Equal(t, "https://cdn/x", track.CdnURL)
	assert.Equal(t, 2020, track.Year)
}

func TestSearchSendsLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "lofi beats", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"results":[{"name":"a","url":"u1"},{"name":"b","url":"u2"}]}`))
	}, 0)

	res, err := c.Search(context.Background(), "lofi beats", 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "u2", res.Results[1].URL)

	_, err = c.Search(context.Background(), "   ", 5)
	assert.Error(t, err)
}

func TestGetURLRejectsUnsupportedLinks(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}, 0)

	_, err := c.GetURL(context.Background(), "https://example.com/track/1")
	assert.ErrorIs(t, err, ErrInvalidURL)
	assert.Zero(t, calls.Load())

	_, err = c.GetURL(context.Background(), "https://open.spotify.com/playlist/37i9dQZF1DX")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSnapExtractsLink(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://www.instagram.com/reel/Cxyz", r.URL.Query().Get("url"))
		_, _ = w.Write([]byte(`{"video":[{"video":"https://v/1.mp4"}],"image":["https://i/1.jpg"]}`))
	}, 0)

	snap, err := c.Snap(context.Background(), "look https://www.instagram.com/reel/Cxyz?igsh=1 wow")
	require.NoError(t, err)
	require.Len(t, snap.Video, 1)
	assert.Equal(t, "https://v/1.mp4", snap.Video[0].Video)
	assert.Equal(t, []string{"https://i/1.jpg"}, snap.Image)

	_, err = c.Snap(context.Background(), "no link here")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestStatusErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}, 2)

	_, err := c.GetTrack(context.Background(), "https://open.spotify.com/track/abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tc":"ok"}`))
	}, 2)

	track, err := c.GetTrack(context.Background(), "https://open.spotify.com/track/abc")
	require.NoError(t, err)
	assert.Equal(t, "ok", track.TC)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, 1)

	_, err := c.GetTrack(context.Background(), "https://open.spotify.com/track/abc")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}, 0)

	_, err := c.GetTrack(context.Background(), "https://open.spotify.com/track/abc")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
