// Package youtube talks to the public YouTube watch page: URL parsing,
// metadata extraction and caption track retrieval.
package youtube

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jonathan/tubetrust/internal/apperr"
)

// Ref identifies a submitted video.
type Ref struct {
	// VideoID is empty when the URL is a YouTube URL without an extractable id.
	VideoID string
	// URL is the canonical form used as the Video cache key.
	URL string
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

var knownHosts = map[string]bool{
	"youtube.com":          true,
	"m.youtube.com":        true,
	"music.youtube.com":    true,
	"youtu.be":             true,
	"youtube-nocookie.com": true,
}

// pathPrefixes carry the id as the next path segment.
var pathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// ParseURL checks raw is a YouTube URL and extracts the video id when one is present.
func ParseURL(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, apperr.New(apperr.KindInvalidInput, "", "url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Ref{}, apperr.New(apperr.KindInvalidInput, "", "not a valid URL: %q", raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !knownHosts[host] {
		return Ref{}, apperr.New(apperr.KindInvalidInput, "", "not a recognized YouTube URL: %q", raw)
	}

	if id := extractID(host, u); id != "" {
		return Ref{VideoID: id, URL: WatchURL(id)}, nil
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return Ref{URL: u.String()}, nil
}

func extractID(host string, u *url.URL) string {
	var candidate string
	switch {
	case host == "youtu.be":
		candidate = strings.Trim(u.Path, "/")
	case u.Path == "/watch":
		candidate = u.Query().Get("v")
	default:
		for _, prefix := range pathPrefixes {
			if strings.HasPrefix(u.Path, prefix) {
				candidate, _, _ = strings.Cut(strings.TrimPrefix(u.Path, prefix), "/")
				break
			}
		}
	}
	if videoIDPattern.MatchString(candidate) {
		return candidate
	}
	return ""
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
