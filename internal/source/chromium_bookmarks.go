package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dimfeld/perceive/internal/batch"
)

// bookmarkEntry is one node of Chromium's Bookmarks JSON tree: either a
// leaf ("url") or a folder ("folder") with children.
type bookmarkEntry struct {
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	URL          string          `json:"url"`
	DateAdded    string          `json:"date_added"`
	DateLastUsed string          `json:"date_last_used"`
	Children     []bookmarkEntry `json:"children"`
}

type bookmarksFile struct {
	Roots map[string]bookmarkEntry `json:"roots"`
}

// ChromiumBookmarksScanner walks a Chromium "Bookmarks" JSON file. URL
// handling and read/reprocess reuse the shared HTML path.
type ChromiumBookmarksScanner struct {
	bookmarksPath string
	skipDomains   []string
	fetch         *FetchClient
}

// NewChromiumBookmarksScanner builds a scanner reading bookmarksPath.
func NewChromiumBookmarksScanner(bookmarksPath string, skipDomains []string, fetch *FetchClient) *ChromiumBookmarksScanner {
	return &ChromiumBookmarksScanner{bookmarksPath: bookmarksPath, skipDomains: skipDomains, fetch: fetch}
}

// Scan reads and walks the bookmark tree, emitting one item per URL leaf.
func (c *ChromiumBookmarksScanner) Scan(ctx context.Context, sender *batch.Sender[Item]) error {
	raw, err := os.ReadFile(c.bookmarksPath)
	if err != nil {
		return fmt.Errorf("read bookmarks file: %w", err)
	}

	var bf bookmarksFile
	if err := json.Unmarshal(raw, &bf); err != nil {
		return fmt.Errorf("parse bookmarks file: %w", err)
	}

	for _, root := range bf.Roots {
		c.walk(root, sender)
	}
	return nil
}

func (c *ChromiumBookmarksScanner) walk(entry bookmarkEntry, sender *batch.Sender[Item]) {
	if entry.Type == "folder" {
		for _, child := range entry.Children {
			c.walk(child, sender)
		}
		return
	}
	if entry.Type != "url" || entry.URL == "" {
		return
	}

	normalized, _, ok := normalizeURL(entry.URL)
	if !ok {
		return
	}
	u, err := url.Parse(normalized)
	if err != nil || ShouldSkipDomain(u.Hostname(), c.skipDomains) {
		return
	}

	item := NewItem(0, normalized)
	item.Metadata.Name = entry.Name

	atime := parseBookmarkTime(entry.DateLastUsed)
	if atime.IsZero() {
		atime = parseBookmarkTime(entry.DateAdded)
	}
	if !atime.IsZero() {
		item.Metadata.ATime = &atime
	}

	sender.Add(item)
}

// parseBookmarkTime parses the timestamp strings used in the Bookmarks JSON
// file: microseconds since the Chromium epoch (1601-01-01 UTC).
func parseBookmarkTime(v string) time.Time {
	if v == "" || v == "0" {
		return time.Time{}
	}
	var micros int64
	if _, err := fmt.Sscanf(v, "%d", &micros); err != nil {
		return time.Time{}
	}
	return chromiumTimeToUnix(micros)
}

// Read delegates to the shared conditional-GET path, with the same
// permanent-skip and atime short-circuits as the history scanner.
func (c *ChromiumBookmarksScanner) Read(ctx context.Context, existing *Item, strategy CompareStrategy, item *Item) (ReadResult, error) {
	return c.fetch.readURL(ctx, existing, strategy, item)
}

// Reprocess re-extracts the article from stored raw bytes.
func (c *ChromiumBookmarksScanner) Reprocess(ctx context.Context, item *Item) (ReadResult, error) {
	return c.fetch.ReprocessHTML(item.ExternalID, item)
}

// LatestProcessVersion reports the shared HTML extraction version.
func (c *ChromiumBookmarksScanner) LatestProcessVersion() int { return htmlProcessVersion }
