// Package httpclient owns the process-wide HTTP transport used for every
// CDN, cover and API request.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultConnectTimeout  = 30 * time.Second
	DefaultDownloadTimeout = 300 * time.Second
	DefaultMaxConnsPerHost = 5
	defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Options configures the shared transport.
type Options struct {
	ConnectTimeout  time.Duration
	DownloadTimeout time.Duration
	// MaxConnsPerHost bounds parallel transfers per host; extra requests
	// wait inside the transport.
	MaxConnsPerHost int
	UserAgent       string
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = DefaultDownloadTimeout
	}
	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// Client hands out a shared *http.Client. After Close the next HTTP call
// builds a fresh transport.
type Client struct {
	opts Options

	mu     sync.Mutex
	client *http.Client
}

// New creates a Client; the transport is built on first use.
func New(opts Options) *Client {
	return &Client{opts: opts.withDefaults()}
}

// HTTP returns the live *http.Client, creating it when needed.
func (c *Client) HTTP() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		c.client = c.build()
	}
	return c.client
}

// RoundTripper returns a transport that always forwards to the live client,
// so holders keep working across Close.
func (c *Client) RoundTripper() http.RoundTripper {
	return liveTransport{c: c}
}

type liveTransport struct {
	c *Client
}

func (t liveTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.c.HTTP().Transport.RoundTrip(req)
}

// Options returns the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// Close drops idle connections and forgets the current client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}

func (c *Client) build() *http.Client {
	dialer := &net.Dialer{
		Timeout:   c.opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       c.opts.MaxConnsPerHost,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   c.opts.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   c.opts.ConnectTimeout,
		ResponseHeaderTimeout: c.opts.DownloadTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: &userAgentTransport{base: transport, agent: c.opts.UserAgent},
		Timeout:   c.opts.DownloadTimeout,
	}
}

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

func (t *userAgentTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
