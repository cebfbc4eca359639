package pipeline

import (
	"regexp"
	"strings"

	"github.com/sptube-go/sptube/bot"
)

// SourceKind decides how a track's CDN URL is turned into a local file.
type SourceKind int

const (
	// EncryptedSource needs fetch, decrypt, header repair and remux.
	EncryptedSource SourceKind = iota
	// DirectSource is a plain media file (or a Telegram message reference).
	DirectSource
)

func (k SourceKind) String() string {
	if k == DirectSource {
		return "direct"
	}
	return "encrypted"
}

// Classify maps an API platform name to its SourceKind.
func Classify(platform string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case bot.PlatformYouTube, bot.PlatformSoundCloud:
		return DirectSource
	default:
		return EncryptedSource
	}
}

var telegramMessageLink = regexp.MustCompile(`^https://t\.me/([a-zA-Z0-9_]{5,})/(\d+)$`)

// IsTelegramMessageLink reports whether u points at a public channel post.
func IsTelegramMessageLink(u string) bool {
	return telegramMessageLink.MatchString(u)
}
