package youtube

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/fetch"
)

// CaptionOptions configures the caption client.
type CaptionOptions struct {
	Options
	Retries            int
	Backoff            time.Duration
	PreferredLanguages []string
}

// CaptionClient reads published or auto-generated caption tracks.
type CaptionClient struct {
	loader    pageLoader
	retries   int
	backoff   time.Duration
	languages []string
}

// NewCaptionClient creates a caption client.
func NewCaptionClient(opts CaptionOptions) *CaptionClient {
	b := opts.Backoff
	if b <= 0 {
		b = 500 * time.Millisecond
	}
	langs := opts.PreferredLanguages
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return &CaptionClient{
		loader:    newPageLoader(opts.Options),
		retries:   opts.Retries,
		backoff:   b,
		languages: langs,
	}
}

type timedText struct {
	Lines []timedLine `xml:"text"`
}

type timedLine struct {
	Text string `xml:",chardata"`
}

// Transcript returns the caption text for videoID. languageHint, when set,
// is preferred over the configured languages.
func (c *CaptionClient) Transcript(ctx context.Context, videoID, languageHint string) (string, error) {
	page, err := c.retry(ctx, func() (string, error) {
		return c.loader.watchPage(ctx, videoID)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, err, "failed to load watch page")
	}

	player, err := extractPlayerResponse(page)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, err, "no player response")
	}
	tracks := player.tracks()
	if len(tracks) == 0 {
		msg := "video has no caption tracks"
		if player.PlayabilityStatus != nil && player.PlayabilityStatus.Reason != "" {
			msg += ": " + player.PlayabilityStatus.Reason
		}
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "%s", msg)
	}

	langs := c.languages
	if languageHint != "" {
		langs = append([]string{languageHint}, langs...)
	}
	track, ok := pickBestTrack(tracks, langs)
	if !ok {
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "all caption tracks require a PoToken")
	}

	body, err := c.retry(ctx, func() (string, error) {
		res, err := fetch.URL(ctx, c.loader.resolve(track.BaseURL), c.loader.fetch)
		if err != nil {
			return "", err
		}
		return res.Body, nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, err, "failed to fetch caption track")
	}

	text, err := parseTimedText(body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, err, "unreadable caption track")
	}
	if text == "" {
		return "", apperr.New(apperr.KindAcquisitionFailed, apperr.ReasonNoCaptions, "caption track %s is empty", track.LanguageCode)
	}
	c.loader.logger.Debug("fetched captions", "video_id", videoID, "language", track.LanguageCode, "kind", track.Kind, "chars", len(text))
	return text, nil
}

// retry runs op with exponential backoff. Non-retryable fetch errors stop at once.
func (c *CaptionClient) retry(ctx context.Context, op func() (string, error)) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.MaxElapsedTime = 0

	var out string
	err := backoff.Retry(func() error {
		s, err := op()
		if err != nil {
			var fe *fetch.Error
			if errors.As(err, &fe) && !fe.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = s
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx))
	return out, err
}

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

func matchesLanguage(code, lang string) bool {
	return code == lang || strings.HasPrefix(code, lang+"-")
}

// pickBestTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first usable track.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if matchesLanguage(t.LanguageCode, lang) && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if matchesLanguage(t.LanguageCode, lang) {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

func parseTimedText(body string) (string, error) {
	var tt timedText
	if err := xml.Unmarshal([]byte(body), &tt); err != nil {
		return "", fmt.Errorf("failed to parse timedtext XML: %w", err)
	}

	var sb strings.Builder
	for _, line := range tt.Lines {
		text := strings.Join(strings.Fields(html.UnescapeString(line.Text)), " ")
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
