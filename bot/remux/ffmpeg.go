// Package remux drives the ffmpeg binary for container rewrites.
package remux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sptube-go/sptube/bot"
)

const (
	DefaultBinary  = "ffmpeg"
	DefaultTimeout = 120 * time.Second
	DefaultComment = "Via NoiNoi_bot | FallenProjects"

	stderrLimit = 4 << 10
)

// ErrRemuxFailed matches every *Error with errors.Is.
var ErrRemuxFailed = errors.New("remux failed")

// Error reports a failed ffmpeg invocation.
type Error struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ffmpeg %s failed", e.Op)
	if e.ExitCode != 0 {
		msg += " (exit " + strconv.Itoa(e.ExitCode) + ")"
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrRemuxFailed }

// Metadata is written as container-level tags by ConvertToM4A.
type Metadata struct {
	Title  string
	Artist string
	Album  string
	Year   string
	Lyrics string
}

// Options configures FFmpeg.
type Options struct {
	Binary  string
	Timeout time.Duration
	Comment string
	Logger  bot.Logger
}

// FFmpeg runs ffmpeg subprocesses under a wall-clock limit.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	comment string
	logger  bot.Logger
}

// New creates an FFmpeg runner.
func New(opts Options) *FFmpeg {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Comment == "" {
		opts.Comment = DefaultComment
	}
	return &FFmpeg{
		binary:  opts.Binary,
		timeout: opts.Timeout,
		comment: opts.Comment,
		logger:  opts.Logger,
	}
}

// Available reports whether the configured binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary)
	return err == nil
}

// Remux stream-copies in to out and sets the lyrics tag. On failure out is
// removed.
func (f *FFmpeg) Remux(ctx context.Context, in, out, lyrics string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-c", "copy",
		"-metadata", "lyrics=" + lyrics,
		out,
	}
	if err := f.run(ctx, "remux", args); err != nil {
		_ = os.Remove(out)
		return err
	}
	return nil
}

// ConvertToM4A re-encodes in to AAC inside an MP4 container next to the
// input, attaching cover as a PNG stream when given. Returns the new path.
func (f *FFmpeg) ConvertToM4A(ctx context.Context, in, cover string, meta Metadata) (string, error) {
	absIn, err := filepath.Abs(in)
	if err != nil {
		return "", &Error{Op: "convert", Err: err}
	}
	out := strings.TrimSuffix(absIn, filepath.Ext(absIn)) + ".m4a"

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", absIn}
	if cover != "" {
		absCover, err := filepath.Abs(cover)
		if err != nil {
			return "", &Error{Op: "convert", Err: err}
		}
		args = append(args, "-i", absCover,
			"-map", "0:a", "-map", "1:v",
			"-c:v", "png",
			"-metadata:s:v", "title=Album cover",
			"-metadata:s:v", "comment=Cover (front)",
		)
	}
	args = append(args,
		"-c:a", "aac", "-b:a", "192k",
		"-metadata", "lyrics="+meta.Lyrics,
		"-metadata", "title="+meta.Title,
		"-metadata", "artist="+meta.Artist,
		"-metadata", "album="+meta.Album,
		"-metadata", "year="+meta.Year,
		"-metadata", "genre=Spotify",
		"-metadata", "comment="+f.comment,
		"-f", "mp4",
		out,
	)

	if err := f.run(ctx, "convert", args); err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		if f.logger != nil {
			f.logger.Debug("ffmpeg finished", "op", op, "elapsed", time.Since(start).Round(time.Millisecond))
		}
		return nil
	}

	ferr := &Error{Op: op, Err: err, Stderr: trimStderr(stderr.Bytes())}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ferr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		ferr.Err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	if f.logger != nil {
		f.logger.Warn("ffmpeg failed", "op", op, "error", ferr)
	}
	return ferr
}

func trimStderr(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrLimit {
		s = s[len(s)-stderrLimit:]
	}
	return s
}
