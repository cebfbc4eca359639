package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/sptube-go/sptube/bot/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	client := httpclient.New(httpclient.Options{})
	t.Cleanup(func() { _ = client.Close() })
	return NewFetcher(client, FetcherOptions{Dir: dir}), dir
}

func TestStreamDownloadWritesFile(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/8) // 2 MiB
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	path, err := f.StreamDownload(context.Background(), srv.URL+"/audio.enc", "track.enc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "track.enc"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	assert.NoFileExists(t, path+".part")
}

func TestStreamDownloadExistingDestinationSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	dest := filepath.Join(dir, "cached.ogg")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	path, err := f.StreamDownload(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	assert.Zero(t, atomic.LoadInt32(&hits))

	got, _ := os.ReadFile(dest)
	assert.Equal(t, "old", string(got))
}

func TestStreamDownloadNon2xxFails(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("partial body that must not be kept"))
		}))

		f, dir := newTestFetcher(t)
		_, err := f.StreamDownload(context.Background(), srv.URL, "out.bin")
		srv.Close()

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFetchFailed)
		assert.Equal(t, status, StatusCode(err))

		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries, "status %d left files behind", status)
	}
}

func TestStreamDownloadTruncatedBodyRemovesPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write([]byte("short"))
		// returning early makes the server close the connection mid-body
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	_, err := f.StreamDownload(context.Background(), srv.URL, "broken.bin")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))

	assert.NoFileExists(t, filepath.Join(dir, "broken.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "broken.bin.part"))
}

func TestStreamDownloadUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, _ := newTestFetcher(t)
	_, err := f.StreamDownload(context.Background(), url, "x")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestStreamDownloadNamesFromContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Song: Live?.m4a"`)
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	path, err := f.StreamDownload(context.Background(), srv.URL+"/ignored.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Song Live .m4a"), path)
	assert.FileExists(t, path)
}

func TestStreamDownloadNamesFromURLPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("video"))
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	path, err := f.StreamDownload(context.Background(), srv.URL+"/media/clip.webm?sig=abc", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.webm"), path)
}

func TestStreamDownloadRandomNameWithFallbackExt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-sptube-unknown")
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	path, err := f.StreamDownload(context.Background(), srv.URL+"/stream", "")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, `^file-[0-9a-f-]{36}\.mp4$`, filepath.Base(path))
}

func TestFetchCover(t *testing.T) {
	cover := bytes.Repeat([]byte{0xFF}, 512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(cover)
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	path, err := f.FetchCover(context.Background(), srv.URL, "tc1_cover.jpg", 1024)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tc1_cover.jpg"), path)

	got, _ := os.ReadFile(path)
	assert.Equal(t, cover, got)
}

func TestFetchCoverTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no Content-Length so the cap is enforced while streaming
		w.Header().Set("Transfer-Encoding", "chunked")
		for i := 0; i < 4; i++ {
			_, _ = w.Write(bytes.Repeat([]byte{1}, 512))
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	f, dir := newTestFetcher(t)
	_, err := f.FetchCover(context.Background(), srv.URL, "big_cover.jpg", 1024)
	assert.True(t, errors.Is(err, ErrCoverTooLarge), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, "big_cover.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "big_cover.jpg.part"))
}

func TestFetchCoverDeclaredTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	_, err := f.FetchCover(context.Background(), srv.URL, "c.jpg", 1024)
	assert.ErrorIs(t, err, ErrCoverTooLarge)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Blinding Lights":       "Blinding Lights",
		"AC/DC: Back in Black":  "AC DC Back in Black",
		"  spaced__out  name ":  "spaced out name",
		"tab\tand\x00null":      "tabandnull",
		"Beyoncé - Halo (Live)": "Beyoncé - Halo Live",
		"..":                    "",
		"track.v2":              "track.v2",
		"what?*<>|":             "what",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestExtFromURL(t *testing.T) {
	cases := map[string]string{
		"https://media.example/a.MP3":             ".mp3",
		"https://media.example/clip.webm?sig=abc": ".webm",
		"https://rr1.example/videoplayback":       FallbackExt,
		"https://media.example/dir.v2/stream":     FallbackExt,
		"https://media.example/":                  FallbackExt,
		"https://media.example/odd.name with sp":  FallbackExt,
		"::not a url":                             FallbackExt,
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtFromURL(in), "input %q", in)
	}
}
