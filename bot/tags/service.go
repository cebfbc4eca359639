// Package tags writes Vorbis comments into finished Ogg tracks.
package tags

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-flac/flacpicture"
	"github.com/sptube-go/sptube/bot"
	"go.senan.xyz/taglib"
)

const (
	DefaultComment  = "Via NoiNoi_bot | FallenProjects"
	DefaultGenre    = "Spotify"
	maxCoverBytes   = 10 * 1024 * 1024
	pictureDescText = "Cover (front)"
)

// ErrTagEmbed wraps every failure to rewrite a file's comments.
var ErrTagEmbed = errors.New("tag embedding failed")

// TagData is the metadata written to a track.
type TagData struct {
	Title    string
	Artist   string
	Album    string
	Year     int
	Lyrics   string
	TrackID  string
	Duration int
}

// FromTrack builds TagData from an API track descriptor.
func FromTrack(track bot.TrackInfo) TagData {
	return TagData{
		Title:    track.Name,
		Artist:   track.Artist,
		Album:    track.Album,
		Year:     track.Year,
		Lyrics:   track.Lyrics,
		TrackID:  track.TC,
		Duration: track.Duration,
	}
}

// Writer replaces every comment of the file at path with tags.
type Writer func(path string, tags map[string][]string) error

func taglibWriter(path string, tags map[string][]string) error {
	return taglib.WriteTags(path, tags, taglib.Clear)
}

// Service embeds Vorbis comments.
type Service struct {
	logger  bot.Logger
	comment string
	write   Writer
}

// NewService creates a Service. An empty comment uses DefaultComment.
func NewService(logger bot.Logger, comment string) *Service {
	if comment == "" {
		comment = DefaultComment
	}
	return &Service{logger: logger, comment: comment, write: taglibWriter}
}

// WithWriter swaps the backend; used by tests.
func (s *Service) WithWriter(w Writer) *Service {
	clone := *s
	clone.write = w
	return &clone
}

// EmbedOggTags clears the existing comments of path and writes tag. A cover
// that cannot be read or encoded is skipped with a warning.
func (s *Service) EmbedOggTags(path string, tag TagData, coverPath string) error {
	comments := s.Comments(tag)
	if coverPath != "" {
		block, err := PictureBlock(coverPath)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("failed to embed cover", "track", tag.TrackID, "error", err)
			}
		} else {
			comments["METADATA_BLOCK_PICTURE"] = []string{block}
		}
	}

	if err := s.write(path, comments); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTagEmbed, path, err)
	}
	if s.logger != nil {
		s.logger.Debug("vorbis comments written", "track", tag.TrackID, "fields", len(comments))
	}
	return nil
}

// Comments returns the text fields for tag.
func (s *Service) Comments(tag TagData) map[string][]string {
	year := strconv.Itoa(tag.Year)
	return map[string][]string{
		"ALBUM":       {tag.Album},
		"ARTIST":      {tag.Artist},
		"TITLE":       {tag.Title},
		"GENRE":       {DefaultGenre},
		"DATE":        {year},
		"YEAR":        {year},
		"ALBUMARTIST": {tag.Artist},
		"LYRICS":      {tag.Lyrics},
		"TRACKNUMBER": {tag.TrackID},
		"COMMENT":     {s.comment},
		"PUBLISHER":   {tag.Artist},
		"DURATION":    {strconv.Itoa(tag.Duration)},
	}
}

// PictureBlock encodes the image at coverPath as a base64 FLAC picture
// block, the form Vorbis comments carry cover art in.
func PictureBlock(coverPath string) (string, error) {
	artwork, err := readCoverWithLimit(coverPath, maxCoverBytes)
	if err != nil {
		return "", err
	}
	if len(artwork) == 0 {
		return "", errors.New("cover image is empty")
	}

	mime := http.DetectContentType(artwork[:min(len(artwork), 512)])
	if mime != "image/png" {
		mime = "image/jpeg"
	}
	picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, pictureDescText, artwork, mime)
	if err != nil {
		return "", fmt.Errorf("build picture block: %w", err)
	}
	block := picture.Marshal()
	return base64.StdEncoding.EncodeToString(block.Data), nil
}

func readCoverWithLimit(path string, maxSize int64) ([]byte, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if stat.Size() > maxSize {
		return nil, fmt.Errorf("cover image too large: %d bytes (max %d)", stat.Size(), maxSize)
	}
	return os.ReadFile(path)
}
