package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mymmrac/telego"
	"golang.org/x/sync/singleflight"

	"github.com/sptube-go/sptube/bot"
	"github.com/sptube-go/sptube/bot/api"
	"github.com/sptube-go/sptube/bot/linkcache"
	"github.com/sptube-go/sptube/bot/pipeline"
)

const (
	searchLimit = 5

	DefaultUploadTimeout = 15 * time.Minute
)

var (
	ErrNoTracks   = errors.New("no tracks found")
	ErrNoSnapLink = errors.New("no supported link in message")
	ErrNoMedia    = errors.New("no media found")
)

// TrackAPI is the remote aggregation API.
type TrackAPI interface {
	GetTrack(ctx context.Context, trackURL string) (bot.TrackInfo, error)
	GetURL(ctx context.Context, link string) (bot.PlatformTracks, error)
	Search(ctx context.Context, query string, limit int) (bot.PlatformTracks, error)
	Snap(ctx context.Context, text string) (bot.SnapResponse, error)
}

// Downloader produces local files for tracks and playlists.
type Downloader interface {
	Process(ctx context.Context, track bot.TrackInfo) (pipeline.Artifact, error)
	DownloadPlaylistZip(ctx context.Context, playlist bot.PlatformTracks) (string, error)
}

// Delivery stores uploads and sends files to users.
type Delivery interface {
	linkcache.Resolver
	Upload(ctx context.Context, art pipeline.Artifact, track bot.TrackInfo) (string, linkcache.RemoteFile, error)
	SendCached(ctx context.Context, chatID int64, replyTo int, file linkcache.RemoteFile, track bot.TrackInfo) (*telego.Message, error)
	SendDocumentFile(ctx context.Context, chatID int64, replyTo int, path, caption string) (*telego.Message, error)
	SendSnap(ctx context.Context, chatID int64, replyTo int, snap bot.SnapResponse) (int, error)
}

// Service is the cache-aware delivery flow behind the Telegram router.
type Service struct {
	tracks     TrackAPI
	links      *linkcache.Cache
	downloader Downloader
	delivery   Delivery
	logger     bot.Logger

	uploadTimeout time.Duration
	uploads       singleflight.Group
}

// NewService creates a Service. uploadTimeout bounds one shared
// download-and-upload run; zero uses DefaultUploadTimeout.
func NewService(tracks TrackAPI, links *linkcache.Cache, downloader Downloader, delivery Delivery, logger bot.Logger, uploadTimeout time.Duration) *Service {
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	return &Service{
		tracks:        tracks,
		links:         links,
		downloader:    downloader,
		delivery:      delivery,
		logger:        logger,
		uploadTimeout: uploadTimeout,
	}
}

// Lookup expands a supported link, or searches for anything else.
func (s *Service) Lookup(ctx context.Context, query string) (bot.PlatformTracks, error) {
	query = api.SanitizeQuery(query)
	if api.IsValidURL(query) {
		return s.tracks.GetURL(ctx, query)
	}
	return s.tracks.Search(ctx, query, searchLimit)
}

// DeliverTrack sends the track at trackURL to chatID, uploading it to the
// storage chat first unless a stored copy is still usable.
func (s *Service) DeliverTrack(ctx context.Context, chatID int64, replyTo int, trackURL string) error {
	track, err := s.tracks.GetTrack(ctx, trackURL)
	if err != nil {
		return fmt.Errorf("get track: %w", err)
	}

	file, err := s.storedFile(ctx, track)
	if err != nil {
		return err
	}
	if _, err := s.delivery.SendCached(ctx, chatID, replyTo, file, track); err != nil {
		return fmt.Errorf("send %s: %w", track.TC, err)
	}
	return nil
}

// storedFile returns a re-sendable copy of track, uploading it when the link
// cache has nothing usable. Concurrent requests for one track share the upload,
// which keeps running when the request that started it is cancelled.
func (s *Service) storedFile(ctx context.Context, track bot.TrackInfo) (linkcache.RemoteFile, error) {
	if track.TC != "" {
		file, ok, err := s.links.Resolve(ctx, track.TC, s.delivery)
		switch {
		case err != nil:
			s.warn("cached link unusable, uploading again", "track", track.TC, "error", err)
		case ok:
			s.debug("link cache hit", "track", track.TC)
			return file, nil
		}
	}

	key := track.TC
	if key == "" {
		key = track.CdnURL
	}
	ch := s.uploads.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
		defer cancel()
		return s.upload(runCtx, track)
	})

	select {
	case <-ctx.Done():
		return linkcache.RemoteFile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return linkcache.RemoteFile{}, res.Err
		}
		return res.Val.(linkcache.RemoteFile), nil
	}
}

func (s *Service) upload(ctx context.Context, track bot.TrackInfo) (linkcache.RemoteFile, error) {
	art, err := s.downloader.Process(ctx, track)
	if err != nil {
		return linkcache.RemoteFile{}, err
	}

	link, file, err := s.delivery.Upload(ctx, art, track)
	if err != nil {
		// keep the local file so a retry skips the download
		return linkcache.RemoteFile{}, err
	}

	if art.Reference == "" && track.TC != "" {
		if err := s.links.Put(ctx, track.TC, link); err != nil {
			s.warn("failed to store link", "track", track.TC, "link", link, "error", err)
		}
	}
	s.removeLocal(art)
	return file, nil
}

func (s *Service) removeLocal(art pipeline.Artifact) {
	for _, p := range []string{art.Path, art.CoverPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.warn("failed to remove local file", "path", p, "error", err)
		}
	}
}

// DeliverPlaylist sends every track behind link as one zip archive.
func (s *Service) DeliverPlaylist(ctx context.Context, chatID int64, replyTo int, link string) error {
	playlist, err := s.tracks.GetURL(ctx, link)
	if err != nil {
		return fmt.Errorf("get playlist: %w", err)
	}
	if len(playlist.Results) == 0 {
		return ErrNoTracks
	}

	zipPath, err := s.downloader.DownloadPlaylistZip(ctx, playlist)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
			s.warn("failed to remove archive", "path", zipPath, "error", err)
		}
	}()

	caption := fmt.Sprintf("📦 %d tracks", len(playlist.Results))
	if info, err := os.Stat(zipPath); err == nil {
		caption += ", " + humanize.IBytes(uint64(info.Size()))
	}
	if _, err := s.delivery.SendDocumentFile(ctx, chatID, replyTo, zipPath, caption); err != nil {
		return fmt.Errorf("send archive: %w", err)
	}
	return nil
}

// DeliverSnap posts the videos and images behind a social media link in text.
func (s *Service) DeliverSnap(ctx context.Context, chatID int64, replyTo int, text string) error {
	link, ok := api.ExtractSnapURL(text)
	if !ok {
		return ErrNoSnapLink
	}
	snap, err := s.tracks.Snap(ctx, link)
	if err != nil {
		return fmt.Errorf("snap: %w", err)
	}
	sent, err := s.delivery.SendSnap(ctx, chatID, replyTo, snap)
	if err != nil {
		return fmt.Errorf("send snap: %w", err)
	}
	if sent == 0 {
		return ErrNoMedia
	}
	return nil
}

func (s *Service) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
