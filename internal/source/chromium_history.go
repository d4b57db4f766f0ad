package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dimfeld/perceive/internal/batch"
)

// chromiumEpochOffset is the number of microseconds between the Chromium
// epoch (1601-01-01 UTC) and the Unix epoch (1970-01-01 UTC).
const chromiumEpochOffset = 11644473600000000

// ChromiumHistoryScanner scans a copy of a Chromium "History" SQLite file.
type ChromiumHistoryScanner struct {
	historyPath string
	skipDomains []string
	fetch       *FetchClient
}

// NewChromiumHistoryScanner builds a scanner reading historyPath (the
// Chromium profile's "History" file).
func NewChromiumHistoryScanner(historyPath string, skipDomains []string, fetch *FetchClient) *ChromiumHistoryScanner {
	return &ChromiumHistoryScanner{historyPath: historyPath, skipDomains: skipDomains, fetch: fetch}
}

func chromiumTimeToUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	micros := v - chromiumEpochOffset
	return time.UnixMicro(micros).UTC()
}

// normalizeURL forces https and drops the fragment, and returns the
// dedup key: the normalized URL with any trailing slash stripped.
func normalizeURL(raw string) (normalized, dedupKey string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Fragment = ""
	normalized = u.String()
	dedupKey = strings.TrimSuffix(normalized, "/")
	return normalized, dedupKey, true
}

// Scan copies the (possibly locked) history file to a temp location, reads
// the most-recently-visited distinct URLs, normalizes/dedups/filters them,
// and emits the survivors in a randomized order to avoid hammering one
// host.
func (c *ChromiumHistoryScanner) Scan(ctx context.Context, sender *batch.Sender[Item]) error {
	tmp, err := copyToTemp(c.historyPath)
	if err != nil {
		return fmt.Errorf("copy history file: %w", err)
	}
	defer os.Remove(tmp)

	db, err := sql.Open("sqlite", "file:"+tmp+"?mode=ro&immutable=1")
	if err != nil {
		return fmt.Errorf("open history copy: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT url, MAX(title), MAX(last_visit_time)
		FROM urls
		WHERE url LIKE 'http%'
		GROUP BY url
	`)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		url, title string
		lastVisit  int64
	}
	seen := make(map[string]bool)
	var candidates []candidate

	for rows.Next() {
		var rawURL, title string
		var lastVisit int64
		if err := rows.Scan(&rawURL, &title, &lastVisit); err != nil {
			return fmt.Errorf("scan history row: %w", err)
		}

		normalized, dedupKey, ok := normalizeURL(rawURL)
		if !ok || seen[dedupKey] {
			continue
		}

		u, err := url.Parse(normalized)
		if err != nil || ShouldSkipDomain(u.Hostname(), c.skipDomains) {
			continue
		}

		seen[dedupKey] = true
		candidates = append(candidates, candidate{url: normalized, title: title, lastVisit: lastVisit})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate history rows: %w", err)
	}

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	for _, cand := range candidates {
		item := NewItem(0, cand.url)
		item.Metadata.Name = cand.title
		visit := chromiumTimeToUnix(cand.lastVisit)
		item.Metadata.ATime = &visit
		sender.Add(item)
	}
	return nil
}

// Read performs a conditional GET, honoring a permanent skip or an
// unchanged atime as a short-circuit unless the strategy forces a refetch.
func (c *ChromiumHistoryScanner) Read(ctx context.Context, existing *Item, strategy CompareStrategy, item *Item) (ReadResult, error) {
	return c.fetch.readURL(ctx, existing, strategy, item)
}

// Reprocess re-extracts the article from stored raw bytes.
func (c *ChromiumHistoryScanner) Reprocess(ctx context.Context, item *Item) (ReadResult, error) {
	return c.fetch.ReprocessHTML(item.ExternalID, item)
}

// LatestProcessVersion reports the shared HTML extraction version.
func (c *ChromiumHistoryScanner) LatestProcessVersion() int { return htmlProcessVersion }

// copyToTemp copies src to a new temporary file and returns its path, since
// the live Chromium history file may be locked by a running browser.
func copyToTemp(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp("", "perceive-history-*.sqlite")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, in); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
