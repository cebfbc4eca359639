package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := New(Options{})
	opts := c.Options()
	assert.Equal(t, DefaultConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, DefaultDownloadTimeout, opts.DownloadTimeout)
	assert.Equal(t, DefaultMaxConnsPerHost, opts.MaxConnsPerHost)
}

func TestSharedUntilClosed(t *testing.T) {
	c := New(Options{})
	first := c.HTTP()
	assert.Same(t, first, c.HTTP())

	require.NoError(t, c.Close())
	second := c.HTTP()
	assert.NotSame(t, first, second)
}

func TestSetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := New(Options{UserAgent: "sptube-test"})
	resp, err := c.HTTP().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "sptube-test", got)
}

func TestMaxConnsPerHostQueuesRequests(t *testing.T) {
	var current, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		val := atomic.AddInt32(&current, 1)
		for {
			prev := atomic.LoadInt32(&peak)
			if val <= prev || atomic.CompareAndSwapInt32(&peak, prev, val) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}))
	defer srv.Close()

	c := New(Options{MaxConnsPerHost: 2})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.HTTP().Get(srv.URL)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRoundTripperFollowsClientAcrossClose(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "sptube-test", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c := New(Options{UserAgent: "sptube-test"})
	holder := &http.Client{Transport: c.RoundTripper()}

	resp, err := holder.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	first := c.HTTP()

	require.NoError(t, c.Close())
	resp, err = holder.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	c.mu.Lock()
	rebuilt := c.client
	c.mu.Unlock()
	require.NotNil(t, rebuilt)
	assert.NotSame(t, first, rebuilt)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
