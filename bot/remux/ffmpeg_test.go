package remux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a shell script that records its arguments to args.txt
// and then runs body.
func fakeFFmpeg(t *testing.T, body string) (binary, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	binary = filepath.Join(dir, "ffmpeg")
	argsFile = filepath.Join(dir, "args.txt")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"" + argsFile + "\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, argsFile
}

const copyLastArg = `in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift 2 ;;
    *) out="$1"; shift ;;
  esac
done
cp "$in" "$out"`

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRemuxArguments(t *testing.T) {
	binary, argsFile := fakeFFmpeg(t, copyLastArg)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tmp")
	out := filepath.Join(dir, "out.ogg")
	require.NoError(t, os.WriteFile(in, []byte("OggS"), 0o644))

	ff := New(Options{Binary: binary})
	require.NoError(t, ff.Remux(context.Background(), in, out, "la la la"))

	assert.Equal(t, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in, "-c", "copy", "-metadata", "lyrics=la la la", out,
	}, readArgs(t, argsFile))
	assert.FileExists(t, out)
}

func TestRemuxFailureRemovesOutput(t *testing.T) {
	binary, _ := fakeFFmpeg(t, `for last; do :; done
echo partial > "$last"
echo "Invalid data found when processing input" >&2
exit 1`)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.ogg")

	ff := New(Options{Binary: binary})
	err := ff.Remux(context.Background(), filepath.Join(dir, "in.tmp"), out, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemuxFailed)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 1, rerr.ExitCode)
	assert.Contains(t, rerr.Stderr, "Invalid data")
	assert.NoFileExists(t, out)
}

func TestRemuxTimeoutKillsProcess(t *testing.T) {
	binary, _ := fakeFFmpeg(t, "exec sleep 10")
	dir := t.TempDir()

	ff := New(Options{Binary: binary, Timeout: 100 * time.Millisecond})
	start := time.Now()
	err := ff.Remux(context.Background(), filepath.Join(dir, "a"), filepath.Join(dir, "b"), "")
	assert.ErrorIs(t, err, ErrRemuxFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRemuxMissingBinary(t *testing.T) {
	ff := New(Options{Binary: filepath.Join(t.TempDir(), "no-ffmpeg")})
	assert.False(t, ff.Available())
	err := ff.Remux(context.Background(), "a", filepath.Join(t.TempDir(), "b"), "")
	assert.ErrorIs(t, err, ErrRemuxFailed)
}

func TestConvertToM4A(t *testing.T) {
	binary, argsFile := fakeFFmpeg(t, copyLastArg)
	dir := t.TempDir()
	in := filepath.Join(dir, "song.ogg")
	cover := filepath.Join(dir, "tc_cover.jpg")
	require.NoError(t, os.WriteFile(in, []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(cover, []byte("jpeg"), 0o644))

	ff := New(Options{Binary: binary})
	out, err := ff.ConvertToM4A(context.Background(), in, cover, Metadata{
		Title: "Song", Artist: "Artist", Album: "Album", Year: "2020", Lyrics: "words",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "song.m4a"), out)

	args := strings.Join(readArgs(t, argsFile), " ")
	assert.Contains(t, args, "-map 0:a -map 1:v")
	assert.Contains(t, args, "-c:a aac -b:a 192k")
	assert.Contains(t, args, "title=Song")
	assert.Contains(t, args, "comment="+DefaultComment)
	assert.Contains(t, args, "-f mp4 "+out)
}

func TestConvertToM4AWithoutCover(t *testing.T) {
	binary, argsFile := fakeFFmpeg(t, copyLastArg)
	dir := t.TempDir()
	in := filepath.Join(dir, "song.ogg")
	require.NoError(t, os.WriteFile(in, []byte("audio"), 0o644))

	ff := New(Options{Binary: binary, Comment: "custom"})
	_, err := ff.ConvertToM4A(context.Background(), in, "", Metadata{Title: "x"})
	require.NoError(t, err)

	args := readArgs(t, argsFile)
	assert.NotContains(t, args, "1:v")
	assert.Contains(t, args, "comment=custom")
}
