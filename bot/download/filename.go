package download

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// FallbackExt is used when neither the response nor the URL reveals a type.
const FallbackExt = ".mp4"

var (
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]+`)
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	unsafeChars   = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.]`)
	spaceRuns     = regexp.MustCompile(`[\s_]+`)
	mediaExt      = regexp.MustCompile(`^\.[a-z0-9]{2,5}$`)
)

// SanitizeFilename makes name safe as a single path element on any OS.
// Letters, digits, spaces, dashes and dots survive; runs of whitespace and
// underscores collapse to one space.
func SanitizeFilename(name string) string {
	name = controlChars.ReplaceAllString(name, "")
	name = reservedChars.ReplaceAllString(name, "_")
	name = unsafeChars.ReplaceAllString(name, "_")
	name = spaceRuns.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	// "." and ".." would escape the download root
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

// deriveFilename picks a local name for an unnamed download.
func deriveFilename(rawURL, contentDisposition, contentType string) string {
	if name := filenameFromDisposition(contentDisposition); name != "" {
		return name
	}
	if name := filenameFromURL(rawURL); name != "" {
		return name
	}
	return "file-" + uuid.NewString() + extensionFor(contentType)
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		// some servers send a bare filename="..." without a disposition type
		if _, rest, ok := strings.Cut(header, "filename="); ok {
			return SanitizeFilename(strings.Trim(rest, `"' `))
		}
		return ""
	}
	return SanitizeFilename(params["filename"])
}

func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "/" || base == "." || !strings.Contains(base, ".") {
		return ""
	}
	return SanitizeFilename(base)
}

// ExtFromURL returns the lowercased extension of the last path element of
// rawURL, or FallbackExt when it has none.
func ExtFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return FallbackExt
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if !mediaExt.MatchString(ext) {
		return FallbackExt
	}
	return ext
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return FallbackExt
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return FallbackExt
	}
	return exts[0]
}
