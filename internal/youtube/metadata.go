package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/tubetrust/internal/fetch"
	"github.com/jonathan/tubetrust/internal/types"
)

// renderFunc renders a page in a browser. Replaced in tests.
type renderFunc func(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (string, error)

// MetadataClient extracts title, channel, duration and description from the watch page.
type MetadataClient struct {
	loader         pageLoader
	useBrowser     bool
	browserTimeout time.Duration
	render         renderFunc
}

// NewMetadataClient creates a metadata client.
func NewMetadataClient(opts Options) *MetadataClient {
	timeout := opts.BrowserTimeout
	if timeout <= 0 {
		timeout = fetch.DefaultTimeout
	}
	return &MetadataClient{
		loader:         newPageLoader(opts),
		useBrowser:     opts.UseBrowser,
		browserTimeout: timeout,
		render:         fetch.WithBrowser,
	}
}

// Metadata returns the metadata for the video behind sourceURL.
func (c *MetadataClient) Metadata(ctx context.Context, sourceURL string) (*types.Metadata, error) {
	ref, err := ParseURL(sourceURL)
	if err != nil {
		return nil, err
	}
	if ref.VideoID == "" {
		return nil, fmt.Errorf("no video id in %s", sourceURL)
	}

	html, err := c.loader.watchPage(ctx, ref.VideoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load watch page: %w", err)
	}
	md, err := metadataFromPage(ref.VideoID, html)
	if err != nil {
		return nil, err
	}

	if md.Title == "" && c.useBrowser {
		c.loader.logger.Debug("watch page had no metadata, rendering in browser", "video_id", ref.VideoID)
		rendered, rerr := c.render(ctx, c.loader.watchURL(ref.VideoID), c.browserTimeout, c.loader.logger)
		if rerr != nil {
			return nil, fmt.Errorf("failed to render watch page: %w", rerr)
		}
		if md, err = metadataFromPage(ref.VideoID, rendered); err != nil {
			return nil, err
		}
	}

	if md.Title == "" {
		return nil, errors.New("watch page carried no metadata")
	}
	return md, nil
}

// metadataFromPage reads the page's meta tags, then lets the player
// response override them since it carries exact values.
func metadataFromPage(videoID, html string) (*types.Metadata, error) {
	doc, err := fetch.ParseHTML(html)
	if err != nil {
		return nil, err
	}

	md := &types.Metadata{
		VideoID:     videoID,
		Title:       fetch.MetaContent(doc, "og:title"),
		Description: fetch.MetaContent(doc, "og:description"),
	}
	if md.Title == "" {
		md.Title = fetch.MetaContent(doc, "title")
	}
	if md.Description == "" {
		md.Description = fetch.MetaContent(doc, "description")
	}
	if name, ok := doc.Find(`span[itemprop="author"] link[itemprop="name"]`).First().Attr("content"); ok {
		md.Channel = strings.TrimSpace(name)
	}
	if secs, ok := ParseISODuration(fetch.MetaContent(doc, "duration")); ok {
		md.DurationSeconds = secs
	}

	player, err := extractPlayerResponse(html)
	if err != nil || player.VideoDetails == nil {
		return md, nil
	}
	d := player.VideoDetails
	if d.Title != "" {
		md.Title = d.Title
	}
	if d.Author != "" {
		md.Channel = d.Author
	}
	if d.ShortDescription != "" {
		md.Description = d.ShortDescription
	}
	if secs, err := strconv.Atoi(d.LengthSeconds); err == nil && secs > 0 {
		md.DurationSeconds = secs
	}
	return md, nil
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration parses the ISO 8601 durations YouTube emits ("PT1H2M3S").
func ParseISODuration(s string) (int, bool) {
	m := isoDurationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || s == "P" || s == "PT" {
		return 0, false
	}
	total := 0
	for i, unit := range []int{86400, 3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, false
		}
		total += n * unit
	}
	return total, true
}
