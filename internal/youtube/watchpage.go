package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/tubetrust/internal/fetch"
)

// DefaultBaseURL is the origin watch pages are loaded from.
const DefaultBaseURL = "https://www.youtube.com"

// playerResponseMarker marks the start of the player response JSON in watch page HTML.
const playerResponseMarker = "ytInitialPlayerResponse = "

var errNoPlayerResponse = errors.New("ytInitialPlayerResponse not found in watch page")

// Options configures watch page access.
type Options struct {
	BaseURL        string
	Fetch          *fetch.Options
	UseBrowser     bool
	BrowserTimeout time.Duration
	Logger         *slog.Logger
}

type playerResponse struct {
	VideoDetails *struct {
		VideoID          string `json:"videoId"`
		Title            string `json:"title"`
		Author           string `json:"author"`
		ShortDescription string `json:"shortDescription"`
		LengthSeconds    string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

func (p *playerResponse) tracks() []captionTrack {
	if p == nil || p.Captions == nil {
		return nil
	}
	return p.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
}

// pageLoader fetches watch pages and resolves relative track URLs.
type pageLoader struct {
	base   string
	fetch  *fetch.Options
	logger *slog.Logger
}

func newPageLoader(opts Options) pageLoader {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	fo := opts.Fetch
	if fo == nil {
		fo = fetch.DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return pageLoader{base: base, fetch: fo, logger: logger}
}

func (p pageLoader) watchURL(videoID string) string {
	return p.base + "/watch?v=" + url.QueryEscape(videoID)
}

func (p pageLoader) watchPage(ctx context.Context, videoID string) (string, error) {
	res, err := fetch.URL(ctx, p.watchURL(videoID), p.fetch)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

func (p pageLoader) resolve(ref string) string {
	if strings.HasPrefix(ref, "/") {
		return p.base + ref
	}
	return ref
}

// extractPlayerResponse finds and decodes ytInitialPlayerResponse in a watch page.
func extractPlayerResponse(html string) (*playerResponse, error) {
	idx := strings.Index(html, playerResponseMarker)
	if idx < 0 {
		return nil, errNoPlayerResponse
	}
	data := extractJSON([]byte(html[idx+len(playerResponseMarker):]))
	if data == nil {
		return nil, errors.New("failed to extract ytInitialPlayerResponse JSON")
	}

	var resp playerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode ytInitialPlayerResponse: %w", err)
	}
	return &resp, nil
}

// extractJSON returns the balanced JSON object at the start of data, or nil.
// Braces inside string literals are ignored.
func extractJSON(data []byte) []byte {
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[:i+1]
			}
		}
	}
	return nil
}
