package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sptube-go/sptube/bot"
)

const (
	// ChunkSize bounds memory per transfer regardless of file size.
	ChunkSize = 1 << 20

	filePerm = 0o644
	dirPerm  = 0o755
)

// ProgressFunc receives bytes written so far and the expected total (or -1).
type ProgressFunc func(written, total int64)

// HTTPClientProvider hands out the current shared client.
type HTTPClientProvider interface {
	HTTP() *http.Client
}

// Fetcher streams remote files into the download directory.
type Fetcher struct {
	client   HTTPClientProvider
	dir      string
	logger   bot.Logger
	progress ProgressFunc
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Dir receives unnamed downloads and relative destinations.
	Dir      string
	Logger   bot.Logger
	Progress ProgressFunc
}

// NewFetcher creates a Fetcher backed by the shared client.
func NewFetcher(client HTTPClientProvider, opts FetcherOptions) *Fetcher {
	return &Fetcher{
		client:   client,
		dir:      opts.Dir,
		logger:   opts.Logger,
		progress: opts.Progress,
	}
}

// Dir returns the download root.
func (f *Fetcher) Dir() string {
	return f.dir
}

// StreamDownload fetches rawURL into dest and returns the final path. With an
// empty dest the name is derived from the response. An existing destination
// is returned without touching the network again.
func (f *Fetcher) StreamDownload(ctx context.Context, rawURL, dest string) (string, error) {
	if rawURL == "" {
		return "", &FetchError{URL: rawURL, StatusCode: http.StatusBadRequest, Err: errors.New("empty url")}
	}
	if dest != "" {
		dest = f.resolve(dest)
		if fileExists(dest) {
			return dest, nil
		}
	}

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if dest == "" {
		name := deriveFilename(rawURL, resp.Header.Get("Content-Disposition"), resp.Header.Get("Content-Type"))
		dest = filepath.Join(f.dir, name)
		if fileExists(dest) {
			return dest, nil
		}
	}

	start := time.Now()
	written, err := f.writeAtomically(dest, resp.Body, resp.ContentLength, -1)
	if err != nil {
		return "", newTransferError(rawURL, err)
	}

	if f.logger != nil {
		f.logger.Debug("download finished",
			"path", dest,
			"size", humanize.IBytes(uint64(written)),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	return dest, nil
}

// FetchCover downloads cover art to dest, refusing bodies over maxSize bytes.
// Callers treat every error as "no cover".
func (f *Fetcher) FetchCover(ctx context.Context, rawURL, dest string, maxSize int64) (string, error) {
	if rawURL == "" {
		return "", &FetchError{URL: rawURL, StatusCode: http.StatusBadRequest, Err: errors.New("empty cover url")}
	}
	dest = f.resolve(dest)
	if fileExists(dest) {
		return dest, nil
	}

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if maxSize > 0 && resp.ContentLength > maxSize {
		return "", fmt.Errorf("%w: %s > %s", ErrCoverTooLarge,
			humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(maxSize)))
	}

	if _, err := f.writeAtomically(dest, resp.Body, resp.ContentLength, maxSize); err != nil {
		if errors.Is(err, ErrCoverTooLarge) {
			return "", err
		}
		return "", newTransferError(rawURL, err)
	}
	return dest, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: http.StatusBadRequest, Err: err}
	}
	resp, err := f.client.HTTP().Do(req)
	if err != nil {
		return nil, newTransferError(rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, newStatusError(rawURL, resp.StatusCode)
	}
	return resp, nil
}

// writeAtomically streams src into dest+".part" and renames it into place.
// limit > 0 caps the body size. The .part file never survives a failure.
func (f *Fetcher) writeAtomically(dest string, src io.Reader, total, limit int64) (written int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	partPath := dest + ".part"
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(partPath)
		}
	}()

	reader := src
	if limit > 0 {
		reader = io.LimitReader(src, limit+1)
	}
	written, err = copyChunked(file, reader, total, f.progress)
	if err != nil {
		return written, err
	}
	if limit > 0 && written > limit {
		return written, fmt.Errorf("%w: more than %s", ErrCoverTooLarge, humanize.IBytes(uint64(limit)))
	}
	if err = file.Close(); err != nil {
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(partPath, dest); err != nil {
		return written, fmt.Errorf("rename temp file: %w", err)
	}
	if err = os.Chmod(dest, filePerm); err != nil {
		return written, fmt.Errorf("chmod: %w", err)
	}
	return written, nil
}

func (f *Fetcher) resolve(dest string) string {
	if filepath.IsAbs(dest) || f.dir == "" {
		return dest
	}
	return filepath.Join(f.dir, dest)
}

func copyChunked(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	lastUpdate := time.Now()

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if progress != nil && time.Since(lastUpdate) >= 2*time.Second {
				progress(written, total)
				lastUpdate = time.Now()
			}
		}
		if err != nil {
			if err == io.EOF {
				if progress != nil {
					progress(written, total)
				}
				return written, nil
			}
			return written, err
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
