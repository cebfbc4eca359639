package bot

// TrackInfo is the track descriptor returned by the remote API /track endpoint.
// It is treated as immutable once decoded.
type TrackInfo struct {
	URL      string `json:"url"`
	CdnURL   string `json:"cdnurl"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	TC       string `json:"tc"`
	Cover    string `json:"cover"`
	Lyrics   string `json:"lyrics"`
	Album    string `json:"album"`
	Year     int    `json:"year"`
	Duration int    `json:"duration"`
	Platform string `json:"platform"`
}

// MusicTrack is a single search or link-expansion result.
type MusicTrack struct {
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	Year     string `json:"year"`
	Cover    string `json:"cover"`
	Duration int    `json:"duration"`
	Platform string `json:"platform"`
}

// PlatformTracks is the result list of /search and /get_url.
type PlatformTracks struct {
	Results []MusicTrack `json:"results"`
}

// SnapVideo is one video entry of a /snap response.
type SnapVideo struct {
	Video     string `json:"video,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// SnapResponse holds media extracted from social platforms.
type SnapResponse struct {
	Video []SnapVideo `json:"video"`
	Image []string    `json:"image"`
}

// Platform identifiers as reported by the API.
const (
	PlatformSpotify    = "spotify"
	PlatformYouTube    = "youtube"
	PlatformSoundCloud = "soundcloud"
	PlatformAppleMusic = "apple_music"
)
