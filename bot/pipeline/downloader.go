// Package pipeline turns API track descriptors into playable local files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sptube-go/sptube/bot"
	"github.com/sptube-go/sptube/bot/cdn"
	"github.com/sptube-go/sptube/bot/download"
	"github.com/sptube-go/sptube/bot/tags"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755

	DefaultMaxCoverSize = 10 * 1024 * 1024
	DefaultTimeout      = 10 * time.Minute
)

// Fetcher retrieves remote files.
type Fetcher interface {
	StreamDownload(ctx context.Context, rawURL, dest string) (string, error)
	FetchCover(ctx context.Context, rawURL, dest string, maxSize int64) (string, error)
}

// Remuxer rewrites a repaired stream into its final container.
type Remuxer interface {
	Remux(ctx context.Context, in, out, lyrics string) error
}

// Tagger writes metadata into a finished file.
type Tagger interface {
	EmbedOggTags(path string, tag tags.TagData, coverPath string) error
}

// Artifact is the result of processing one track. Exactly one of Path and
// Reference is set. The caller owns the files once they are returned.
type Artifact struct {
	Path      string
	CoverPath string
	// Reference is a t.me message link to re-send instead of uploading.
	Reference string
	CacheHit  bool
}

// Options configures a Downloader.
type Options struct {
	Dir          string
	MaxCoverSize int64
	// Timeout bounds one shared run of Process. Zero uses DefaultTimeout.
	Timeout time.Duration
	Logger  bot.Logger
	// Pool runs decryption off the request goroutine. Nil decrypts inline.
	Pool bot.WorkerPool
	// Tracks resolves playlist entries for DownloadPlaylistZip.
	Tracks              TrackResolver
	PlaylistConcurrency int
}

// Downloader is the per-track state machine. Distinct tracks proceed
// independently; concurrent calls for one track share a single run.
type Downloader struct {
	fetcher Fetcher
	remuxer Remuxer
	tagger  Tagger

	dir          string
	maxCoverSize int64
	timeout      time.Duration
	logger       bot.Logger
	pool         bot.WorkerPool

	tracks              TrackResolver
	playlistConcurrency int

	inflight singleflight.Group
}

// New creates a Downloader.
func New(fetcher Fetcher, remuxer Remuxer, tagger Tagger, opts Options) *Downloader {
	if opts.MaxCoverSize <= 0 {
		opts.MaxCoverSize = DefaultMaxCoverSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PlaylistConcurrency <= 0 {
		opts.PlaylistConcurrency = 4
	}
	return &Downloader{
		fetcher:             fetcher,
		remuxer:             remuxer,
		tagger:              tagger,
		dir:                 opts.Dir,
		maxCoverSize:        opts.MaxCoverSize,
		timeout:             opts.Timeout,
		logger:              opts.Logger,
		pool:                opts.Pool,
		tracks:              opts.Tracks,
		playlistConcurrency: opts.PlaylistConcurrency,
	}
}

// OutputPath is where the finished file for track lives.
func (d *Downloader) OutputPath(track bot.TrackInfo) string {
	return filepath.Join(d.dir, outputBase(track)+".ogg")
}

// CoverPath is where the cover art for track is cached.
func (d *Downloader) CoverPath(track bot.TrackInfo) string {
	key := track.TC
	if key == "" {
		key = outputBase(track)
	}
	return filepath.Join(d.dir, download.SanitizeFilename(key)+"_cover.jpg")
}

// DirectPath is where a directly downloadable track is stored. The extension
// comes from the CDN URL, falling back to download.FallbackExt.
func (d *Downloader) DirectPath(track bot.TrackInfo) string {
	return filepath.Join(d.dir, outputBase(track)+download.ExtFromURL(track.CdnURL))
}

func outputBase(track bot.TrackInfo) string {
	if name := download.SanitizeFilename(track.Name); name != "" {
		return name
	}
	if tc := download.SanitizeFilename(track.TC); tc != "" {
		return tc
	}
	return "track"
}

// Process produces a local file (or message reference) for track.
// Re-running it for a finished track returns the existing file untouched.
//
// Concurrent calls for one track share a single run. The run is detached from
// any caller's context and bounded by the configured timeout, so a caller that
// gives up only stops waiting.
func (d *Downloader) Process(ctx context.Context, track bot.TrackInfo) (Artifact, error) {
	if track.CdnURL == "" {
		return Artifact{}, stageError(StageValidate, track.TC, ErrMissingCDNURL)
	}

	key := track.TC
	if key == "" {
		key = track.CdnURL
	}
	ch := d.inflight.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return d.process(runCtx, track)
	})

	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			d.debug("joined in-flight download", "track", track.TC)
		}
		if res.Err != nil {
			return Artifact{}, res.Err
		}
		return res.Val.(Artifact), nil
	}
}

func (d *Downloader) process(ctx context.Context, track bot.TrackInfo) (Artifact, error) {
	kind := Classify(track.Platform)
	if kind == DirectSource && IsTelegramMessageLink(track.CdnURL) {
		return Artifact{Reference: track.CdnURL, CoverPath: d.saveCover(ctx, track)}, nil
	}

	output := d.OutputPath(track)
	if kind == DirectSource {
		output = d.DirectPath(track)
	}
	if fileExists(output) {
		d.debug("using cached file", "track", track.TC, "path", output)
		art := Artifact{Path: output, CacheHit: true}
		if cover := d.CoverPath(track); fileExists(cover) {
			art.CoverPath = cover
		}
		return art, nil
	}

	if err := os.MkdirAll(d.dir, dirPerm); err != nil {
		return Artifact{}, stageError(StageFetch, track.TC, fmt.Errorf("create download dir: %w", err))
	}

	d.debug("processing track", "track", track.TC, "source", kind.String())
	if kind == DirectSource {
		return d.processDirect(ctx, track, output)
	}
	return d.processEncrypted(ctx, track, output)
}

func (d *Downloader) processDirect(ctx context.Context, track bot.TrackInfo, output string) (Artifact, error) {
	path, err := d.fetcher.StreamDownload(ctx, track.CdnURL, output)
	if err != nil {
		return Artifact{}, stageError(StageFetch, track.TC, err)
	}
	return Artifact{Path: path, CoverPath: d.saveCover(ctx, track)}, nil
}

func (d *Downloader) processEncrypted(ctx context.Context, track bot.TrackInfo, output string) (art Artifact, err error) {
	start := time.Now()
	if track.Key == "" {
		return Artifact{}, stageError(StageValidate, track.TC, ErrMissingKey)
	}
	if err := cdn.ValidateKey(track.Key); err != nil {
		return Artifact{}, stageError(StageDecrypt, track.TC, err)
	}

	id := uuid.NewString()
	encPath := filepath.Join(d.dir, id+".enc")
	tmpPath := filepath.Join(d.dir, id+".tmp")
	// ffmpeg picks the muxer from the extension
	remuxPath := filepath.Join(d.dir, id+".ogg")
	defer func() {
		_ = os.Remove(encPath)
		_ = os.Remove(tmpPath)
		_ = os.Remove(remuxPath)
		if d.logger != nil {
			d.logger.Info("processed track", "track", track.TC, "elapsed", time.Since(start).Round(time.Millisecond), "ok", err == nil)
		}
	}()

	if _, err := d.fetcher.StreamDownload(ctx, track.CdnURL, encPath); err != nil {
		return Artifact{}, stageError(StageFetch, track.TC, err)
	}
	if err := d.decryptFile(ctx, encPath, tmpPath, track.Key); err != nil {
		return Artifact{}, stageError(StageDecrypt, track.TC, err)
	}
	if err := cdn.RepairHeaders(tmpPath); err != nil {
		return Artifact{}, stageError(StageRepair, track.TC, err)
	}

	cover := d.saveCover(ctx, track)

	if err := d.remuxer.Remux(ctx, tmpPath, remuxPath, track.Lyrics); err != nil {
		return Artifact{}, stageError(StageRemux, track.TC, err)
	}
	if d.tagger != nil {
		if err := d.tagger.EmbedOggTags(remuxPath, tags.FromTrack(track), cover); err != nil {
			d.warn("failed to add vorbis comments", "track", track.TC, "error", err)
		}
	}

	if err := os.Chmod(remuxPath, filePerm); err != nil {
		return Artifact{}, stageError(StageRemux, track.TC, err)
	}
	if err := os.Rename(remuxPath, output); err != nil {
		return Artifact{}, stageError(StageRemux, track.TC, fmt.Errorf("move output: %w", err))
	}
	return Artifact{Path: output, CoverPath: cover}, nil
}

func (d *Downloader) decryptFile(ctx context.Context, encPath, outPath, key string) error {
	ciphertext, err := os.ReadFile(encPath)
	if err != nil {
		return fmt.Errorf("read encrypted file: %w", err)
	}

	var plain []byte
	run := func() error {
		var derr error
		plain, derr = cdn.Decrypt(ciphertext, key)
		return derr
	}
	if d.pool != nil {
		err = d.pool.SubmitWaitContext(ctx, run)
	} else {
		err = run()
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, plain, filePerm); err != nil {
		return fmt.Errorf("write decrypted file: %w", err)
	}
	return nil
}

// saveCover fetches cover art once per track id. Failures only cost the cover.
func (d *Downloader) saveCover(ctx context.Context, track bot.TrackInfo) string {
	if track.Cover == "" {
		d.debug("no cover url", "track", track.TC)
		return ""
	}
	path, err := d.fetcher.FetchCover(ctx, track.Cover, d.CoverPath(track), d.maxCoverSize)
	if err != nil {
		level := d.warn
		if errors.Is(err, download.ErrCoverTooLarge) {
			level = d.debug
		}
		level("failed to download cover", "track", track.TC, "error", err)
		return ""
	}
	return path
}

func (d *Downloader) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Downloader) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
