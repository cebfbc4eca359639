package api

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	MaxQueryLength = 500
	MaxURLLength   = 1000
)

// urlPatterns lists the track/collection links the API can expand.
var urlPatterns = map[string]*regexp.Regexp{
	"spotify":       regexp.MustCompile(`^(https?://)?([a-z0-9-]+\.)*spotify\.com/(track|playlist|album|artist)/[a-zA-Z0-9]+(\?.*)?$`),
	"youtube":       regexp.MustCompile(`^(https?://)?([a-z0-9-]+\.)*(youtube\.com/watch\?v=|youtu\.be/)[\w-]+(\?.*)?$`),
	"youtube_music": regexp.MustCompile(`^(https?://)?([a-z0-9-]+\.)*youtube\.com/(watch\?v=|playlist\?list=)[\w-]+(\?.*)?$`),
	"soundcloud":    regexp.MustCompile(`^(https?://)?([a-z0-9-]+\.)*soundcloud\.com/[\w-]+(/[\w-]+)?(/sets/[\w-]+)?(\?.*)?$`),
	"apple_music":   regexp.MustCompile(`^(https?://)?([a-z0-9-]+\.)?apple\.com/[a-z]{2}/(album|playlist|song)/[^/]+/(pl\.[a-zA-Z0-9]+|\d+)(\?i=\d+)?(\?.*)?$`),
}

var snapPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://(?:www\.)?(instagram\.com|instagr\.am)/(reel|reels|stories|p|tv|share)/[^\s/?]+`),
	regexp.MustCompile(`(?i)https?://(?:[a-z]+\.)?(pinterest\.com|pin\.it)/[^\s]+`),
	regexp.MustCompile(`(?i)https?://(?:www\.)?fb\.watch/[^\s/?]+`),
	regexp.MustCompile(`(?i)https?://(?:www\.)?facebook\.com/.+/videos/\d+`),
	regexp.MustCompile(`(?i)https?://(?:www\.|m\.)?(?:vt\.)?tiktok\.com/(?:@[\w.-]+/video/\d+|v/\d+\.html|t/[\w]+|[\w]+)`),
	regexp.MustCompile(`(?i)https?://(?:www\.)?(?:x|twitter)\.com/[^\s]+`),
	regexp.MustCompile(`(?i)https?://(?:www\.)?threads\.(?:com|net)/@[\w.-]+/post/[\w-]+(?:\?[\w=&%-]+)?`),
	regexp.MustCompile(`(?i)https?://(?:www\.|old\.)?reddit\.com/r/[\w]+/comments/[\w]+(?:/[^\s]*)?|https?://redd\.it/[\w]+`),
	regexp.MustCompile(`(?i)https?://(?:clips\.twitch\.tv/|(?:www\.)?twitch\.tv/[^/]+/clip/)([\w-]+(?:-\w+)*)`),
}

var schemePrefix = regexp.MustCompile(`^https?://`)

// SanitizeQuery trims s and cuts it to MaxQueryLength runes.
func SanitizeQuery(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxQueryLength {
		return string(r[:MaxQueryLength])
	}
	return s
}

// IsValidURL reports whether raw is an http(s) link of a supported platform.
func IsValidURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxURLLength || !schemePrefix.MatchString(raw) {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	_, ok := PlatformOf(raw)
	return ok
}

// PlatformOf returns the first platform pattern matching raw.
func PlatformOf(raw string) (string, bool) {
	// stable order, youtube before youtube_music
	for _, name := range []string{"spotify", "youtube", "youtube_music", "soundcloud", "apple_music"} {
		if urlPatterns[name].MatchString(raw) {
			return name, true
		}
	}
	return "", false
}

// ExtractSnapURL returns the first social-media link found in text.
func ExtractSnapURL(text string) (string, bool) {
	for _, re := range snapPatterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}
