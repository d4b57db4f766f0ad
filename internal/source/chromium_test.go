package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dimfeld/perceive/internal/batch"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		wantKey  string
		parsable bool
	}{
		{"http://example.com/page#section", "https://example.com/page", "https://example.com/page", true},
		{"https://example.com/", "https://example.com/", "https://example.com", true},
		{"https://example.com/a?x=1", "https://example.com/a?x=1", "https://example.com/a?x=1", true},
		{"://bad", "", "", false},
	}
	for _, c := range cases {
		got, key, ok := normalizeURL(c.in)
		if ok != c.parsable {
			t.Errorf("normalizeURL(%q) ok = %v, want %v", c.in, ok, c.parsable)
			continue
		}
		if !ok {
			continue
		}
		if got != c.want || key != c.wantKey {
			t.Errorf("normalizeURL(%q) = (%q, %q), want (%q, %q)", c.in, got, key, c.want, c.wantKey)
		}
	}
}

func TestChromiumTimeToUnix(t *testing.T) {
	// 11644473600000000 microseconds separate the 1601 and 1970 epochs.
	if got := chromiumTimeToUnix(11644473600000000); !got.Equal(time.Unix(0, 0).UTC()) {
		t.Fatalf("expected the unix epoch, got %v", got)
	}
	if got := chromiumTimeToUnix(0); !got.IsZero() {
		t.Fatalf("expected zero time for zero input, got %v", got)
	}
}

func TestParseBookmarkTime(t *testing.T) {
	if got := parseBookmarkTime("11644473601000000"); got.Unix() != 1 {
		t.Fatalf("expected one second past the unix epoch, got %v", got)
	}
	if got := parseBookmarkTime("0"); !got.IsZero() {
		t.Fatalf("expected zero time for %q, got %v", "0", got)
	}
	if got := parseBookmarkTime("nope"); !got.IsZero() {
		t.Fatalf("expected zero time for unparsable input, got %v", got)
	}
}

func TestBookmarksScanEmitsURLLeaves(t *testing.T) {
	bookmarks := `{
		"roots": {
			"bookmark_bar": {
				"type": "folder",
				"name": "Bookmarks bar",
				"children": [
					{"type": "url", "name": "Example", "url": "http://example.com/page", "date_added": "11644473601000000"},
					{"type": "folder", "name": "Nested", "children": [
						{"type": "url", "name": "Deep", "url": "https://deep.example.org/", "date_last_used": "11644473602000000"}
					]},
					{"type": "url", "name": "Skipped", "url": "https://accounts.google.com/signin"}
				]
			}
		}
	}`
	path := filepath.Join(t.TempDir(), "Bookmarks")
	if err := os.WriteFile(path, []byte(bookmarks), 0o644); err != nil {
		t.Fatalf("write bookmarks fixture: %v", err)
	}

	out := make(chan []Item, 16)
	sender := batch.New[Item](64, out)

	s := NewChromiumBookmarksScanner(path, nil, NewFetchClient(time.Second))
	if err := s.Scan(context.Background(), sender); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sender.Drop()
	close(out)

	byID := make(map[string]Item)
	for b := range out {
		for _, it := range b {
			byID[it.ExternalID] = it
		}
	}

	if len(byID) != 2 {
		t.Fatalf("expected 2 items (skip-domain leaf excluded), got %v", byID)
	}
	ex, ok := byID["https://example.com/page"]
	if !ok {
		t.Fatalf("expected the http leaf normalized to https, got %v", byID)
	}
	if ex.Metadata.Name != "Example" {
		t.Fatalf("expected the bookmark name, got %q", ex.Metadata.Name)
	}
	if ex.Metadata.ATime == nil || ex.Metadata.ATime.Unix() != 1 {
		t.Fatalf("expected date_added fallback for atime, got %+v", ex.Metadata.ATime)
	}

	deep, ok := byID["https://deep.example.org/"]
	if !ok {
		t.Fatalf("expected the nested leaf, got %v", byID)
	}
	if deep.Metadata.ATime == nil || deep.Metadata.ATime.Unix() != 2 {
		t.Fatalf("expected date_last_used for atime, got %+v", deep.Metadata.ATime)
	}
}
