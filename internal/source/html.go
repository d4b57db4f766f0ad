package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dimfeld/perceive/internal/compress"
	"github.com/go-shiori/go-readability"
)

// htmlProcessVersion is bumped whenever the article extraction algorithm
// below changes in a way that would produce different content for
// already-stored raw bytes.
const htmlProcessVersion = 1

// DefaultFetchTimeout bounds each conditional GET, including body read.
const DefaultFetchTimeout = 30 * time.Second

// alwaysSkipDomains are hosts that are never worth indexing regardless of
// user configuration.
var alwaysSkipDomains = []string{
	"accounts.google.com",
	"ad.doubleclick.net",
	"console.cloud.google.com",
	"console.aws.amazon.com",
	"googleapis.com",
}

// FetchClient performs the conditional HTTP GET + article extraction shared
// by the Chromium history and bookmarks scanners.
type FetchClient struct {
	httpClient *http.Client
}

// NewFetchClient builds the shared HTTP client: gzip enabled (the default
// http.Transport already negotiates gzip automatically), redirects not
// followed because a redirect status is itself meaningful. A zero timeout
// falls back to DefaultFetchTimeout.
func NewFetchClient(timeout time.Duration) *FetchClient {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &FetchClient{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ShouldSkipDomain reports whether host matches the built-in list or any
// user-configured skip pattern.
func ShouldSkipDomain(host string, userSkip []string) bool {
	host = strings.ToLower(host)
	for _, d := range alwaysSkipDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	for _, d := range userSkip {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// readURL is the shared Read implementation for the URL-backed scanners.
// Unless the strategy forces a refetch, a permanent skip recorded on the
// existing row suppresses the fetch entirely, and an access time no newer
// than the stored one short-circuits as Unchanged (the server is not
// consulted; politeness over precision). Otherwise it issues a conditional
// GET keyed on the stored ETag and Last-Modified values.
func (c *FetchClient) readURL(ctx context.Context, existing *Item, strategy CompareStrategy, item *Item) (ReadResult, error) {
	if strategy != Force && existing != nil {
		if existing.Skipped != nil && existing.Skipped.Permanent {
			return ReadUnchanged, nil
		}
		if existing.Metadata.ATime != nil && item.Metadata.ATime != nil && !item.Metadata.ATime.After(*existing.Metadata.ATime) {
			return ReadUnchanged, nil
		}
	}

	etag := ""
	var lastModified *time.Time
	if existing != nil {
		etag = existing.Hash
		lastModified = existing.Metadata.MTime
	}
	return c.Fetch(ctx, item.ExternalID, etag, lastModified, item)
}

// Fetch performs the conditional GET and updates item in place:
//
//	304              -> Unchanged
//	404              -> skipped NotFound
//	401, 403         -> skipped Unauthorized
//	other 3xx        -> skipped Redirected
//	other 4xx/5xx    -> skipped FetchError
//	2xx, empty body  -> skipped NoContent
//	2xx text/html    -> extract article, store compressed raw bytes
//	2xx text/*       -> body becomes content
//	2xx other        -> no content, but ETag/Last-Modified are retained
func (c *FetchClient) Fetch(ctx context.Context, url string, etag string, lastModified *time.Time, item *Item) (ReadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ReadOmit, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "perceive-search")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != nil {
		req.Header.Set("If-Modified-Since", lastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		item.Skipped = &Skipped{Reason: FetchError, Permanent: FetchError.Permanent()}
		return ReadFound, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return ReadUnchanged, nil
	case resp.StatusCode == http.StatusNotFound:
		item.Skipped = &Skipped{Reason: NotFound, Permanent: NotFound.Permanent()}
		return ReadFound, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		item.Skipped = &Skipped{Reason: Unauthorized, Permanent: Unauthorized.Permanent()}
		return ReadFound, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		item.Skipped = &Skipped{Reason: Redirected, Permanent: Redirected.Permanent()}
		return ReadFound, nil
	case resp.StatusCode >= 400:
		item.Skipped = &Skipped{Reason: FetchError, Permanent: FetchError.Permanent()}
		return ReadFound, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ReadOmit, fmt.Errorf("read body for %s: %w", url, err)
	}
	if len(body) == 0 {
		item.Skipped = &Skipped{Reason: NoContent, Permanent: NoContent.Permanent()}
		return ReadFound, nil
	}

	item.Hash = resp.Header.Get("ETag")
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			item.Metadata.MTime = &t
		}
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/html"):
		return c.extractHTML(url, body, item)
	case strings.HasPrefix(contentType, "text/"):
		item.Content = string(body)
	default:
		item.Content = ""
	}
	return ReadFound, nil
}

func (c *FetchClient) extractHTML(pageURL string, body []byte, item *Item) (ReadResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ReadOmit, fmt.Errorf("parse url %s: %w", pageURL, err)
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return ReadOmit, fmt.Errorf("extract article from %s: %w", pageURL, err)
	}

	raw, err := compress.Compress(body)
	if err != nil {
		return ReadOmit, fmt.Errorf("compress raw content for %s: %w", pageURL, err)
	}

	item.Metadata.Name = article.Title
	item.Content = article.TextContent
	item.RawContent = raw
	item.ProcessVersion = htmlProcessVersion
	return ReadFound, nil
}

// ReprocessHTML re-extracts the article from previously stored raw bytes,
// without touching the network.
func (c *FetchClient) ReprocessHTML(pageURL string, item *Item) (ReadResult, error) {
	if len(item.RawContent) == 0 {
		return ReadOmit, nil
	}
	raw, err := compress.Decompress(item.RawContent)
	if err != nil {
		return ReadOmit, fmt.Errorf("decompress raw content for %s: %w", pageURL, err)
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ReadOmit, fmt.Errorf("parse url %s: %w", pageURL, err)
	}
	article, err := readability.FromReader(strings.NewReader(string(raw)), parsed)
	if err != nil {
		return ReadOmit, fmt.Errorf("re-extract article from %s: %w", pageURL, err)
	}

	newContent := article.TextContent
	if newContent == item.Content && article.Title == item.Metadata.Name {
		return ReadUnchanged, nil
	}
	item.Metadata.Name = article.Title
	item.Content = newContent
	item.ProcessVersion = htmlProcessVersion
	return ReadFound, nil
}
