package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/sptube-go/sptube/bot"
	"github.com/sptube-go/sptube/bot/download"
)

// TrackResolver expands a playlist entry URL into a full track descriptor.
type TrackResolver interface {
	GetTrack(ctx context.Context, rawURL string) (bot.TrackInfo, error)
}

// DownloadPlaylistZip processes every entry of playlist and packs the files
// that succeeded into playlist_<unix>.zip in the download dir. Entries that
// fail are logged and skipped.
func (d *Downloader) DownloadPlaylistZip(ctx context.Context, playlist bot.PlatformTracks) (string, error) {
	if d.tracks == nil {
		return "", stageError(StagePackage, "", errors.New("no track resolver configured"))
	}

	stageDir := filepath.Join(d.dir, "tmp_"+uuid.NewString())
	if err := os.MkdirAll(stageDir, dirPerm); err != nil {
		return "", stageError(StagePackage, "", err)
	}
	defer os.RemoveAll(stageDir)

	var (
		mu      sync.Mutex
		entries []zipEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.playlistConcurrency)
	for _, entry := range playlist.Results {
		g.Go(func() error {
			staged, err := d.playlistEntry(gctx, entry, stageDir)
			if err != nil {
				d.warn("failed to process playlist track", "url", entry.URL, "error", err)
				return nil
			}
			mu.Lock()
			entries = append(entries, staged)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return "", stageError(StagePackage, "", err)
	}
	if len(entries) == 0 {
		return "", stageError(StagePackage, "", ErrEmptyPlaylist)
	}
	assignZipNames(entries)

	zipPath := filepath.Join(d.dir, "playlist_"+strconv.FormatInt(time.Now().Unix(), 10)+".zip")
	tmpZip := filepath.Join(d.dir, "tmp_"+uuid.NewString()+".zip")
	if err := writeZip(tmpZip, entries); err != nil {
		_ = os.Remove(tmpZip)
		return "", stageError(StagePackage, "", err)
	}
	if err := os.Rename(tmpZip, zipPath); err != nil {
		_ = os.Remove(tmpZip)
		return "", stageError(StagePackage, "", err)
	}
	return zipPath, nil
}

// zipEntry is one staged file and the name it gets inside the archive.
type zipEntry struct {
	Path    string
	Name    string
	TrackID string
}

// playlistEntry processes one entry and stages its file under stageDir.
// The processed file stays in the download dir for later single requests.
func (d *Downloader) playlistEntry(ctx context.Context, entry bot.MusicTrack, stageDir string) (zipEntry, error) {
	track, err := d.tracks.GetTrack(ctx, entry.URL)
	if err != nil {
		return zipEntry{}, fmt.Errorf("resolve track: %w", err)
	}
	art, err := d.Process(ctx, track)
	if err != nil {
		return zipEntry{}, err
	}
	if art.Path == "" {
		return zipEntry{}, fmt.Errorf("track %s has no local file", track.TC)
	}

	base := filepath.Base(art.Path)
	staged := filepath.Join(stageDir, uuid.NewString()+"_"+base)
	if err := linkOrCopy(art.Path, staged); err != nil {
		return zipEntry{}, fmt.Errorf("stage file: %w", err)
	}
	return zipEntry{Path: staged, Name: base, TrackID: track.TC}, nil
}

// assignZipNames orders entries and makes their archive names unique. A
// clashing name gets the sanitized track id as prefix, then a counter.
func assignZipNames(entries []zipEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].TrackID < entries[j].TrackID
	})

	used := make(map[string]bool, len(entries))
	for i := range entries {
		name := entries[i].Name
		if used[name] {
			if id := download.SanitizeFilename(entries[i].TrackID); id != "" {
				name = id + "_" + entries[i].Name
			}
			ext := filepath.Ext(entries[i].Name)
			stem := strings.TrimSuffix(name, ext)
			for n := 2; used[name]; n++ {
				name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
			}
		}
		used[name] = true
		entries[i].Name = name
	}
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeZip(path string, entries []zipEntry) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	for _, entry := range entries {
		if err := addZipEntry(zw, entry); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func addZipEntry(zw *zip.Writer, entry zipEntry) error {
	in, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = entry.Name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
