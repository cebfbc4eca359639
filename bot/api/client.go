// Package api talks to the remote track-metadata service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"github.com/sptube-go/sptube/bot"
)

const (
	HeaderAPIKey       = "X-API-Key"
	DefaultSearchLimit = 10
)

var (
	ErrInvalidURL    = errors.New("url is not valid")
	ErrRequestFailed = errors.New("api request failed")
)

// StatusError is a non-2xx reply.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s: status %d", e.Endpoint, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     bot.Logger
}

// Client provides resilient API calls.
type Client struct {
	baseURL string
	apiKey  string
	retry   *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	logger  bot.Logger
}

// New creates a client with retry and circuit breaker.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	if opts.MinBackoff > 0 {
		client.RetryWaitMin = opts.MinBackoff
	}
	if opts.MaxBackoff > 0 {
		client.RetryWaitMax = opts.MaxBackoff
	}
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	settings := gobreaker.Settings{
		Name:        "track-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// a 4xx says nothing about the health of the service
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			return err == nil
		},
	}

	return &Client{
		baseURL: base,
		apiKey:  opts.APIKey,
		retry:   client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  opts.Logger,
	}, nil
}

// GetTrack fetches the full descriptor of one track.
func (c *Client) GetTrack(ctx context.Context, trackURL string) (bot.TrackInfo, error) {
	var track bot.TrackInfo
	q := url.Values{"url": {SanitizeQuery(trackURL)}}
	if err := c.getJSON(ctx, "/track", q, &track); err != nil {
		return bot.TrackInfo{}, err
	}
	return track, nil
}

// GetURL expands a platform link (track, album, playlist) into tracks.
func (c *Client) GetURL(ctx context.Context, link string) (bot.PlatformTracks, error) {
	link = SanitizeQuery(link)
	if !IsValidURL(link) {
		return bot.PlatformTracks{}, fmt.Errorf("%w: %s", ErrInvalidURL, link)
	}
	var tracks bot.PlatformTracks
	if err := c.getJSON(ctx, "/get_url", url.Values{"url": {link}}, &tracks); err != nil {
		return bot.PlatformTracks{}, err
	}
	return tracks, nil
}

// Search runs a free-text query. limit <= 0 uses DefaultSearchLimit.
func (c *Client) Search(ctx context.Context, query string, limit int) (bot.PlatformTracks, error) {
	query = SanitizeQuery(query)
	if query == "" {
		return bot.PlatformTracks{}, errors.New("empty search query")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := url.Values{"query": {query}, "limit": {strconv.Itoa(limit)}}
	var tracks bot.PlatformTracks
	if err := c.getJSON(ctx, "/search", q, &tracks); err != nil {
		return bot.PlatformTracks{}, err
	}
	return tracks, nil
}

// Snap extracts media from a social-media post.
func (c *Client) Snap(ctx context.Context, text string) (bot.SnapResponse, error) {
	link, ok := ExtractSnapURL(SanitizeQuery(text))
	if !ok {
		return bot.SnapResponse{}, ErrInvalidURL
	}
	var snap bot.SnapResponse
	if err := c.getJSON(ctx, "/snap", url.Values{"url": {link}}, &snap); err != nil {
		return bot.SnapResponse{}, err
	}
	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, endpoint, query, out)
	})
	if err != nil && c.logger != nil {
		c.logger.Debug("api call failed", "endpoint", endpoint, "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := c.baseURL + endpoint + "?" + query.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.retry.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("%w: %s: %v", ErrRequestFailed, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: invalid json: %v", ErrRequestFailed, endpoint, err)
	}
	return nil
}
