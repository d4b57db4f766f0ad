// Package source defines the Source and Scanner data model and the three
// concrete scanners: filesystem, Chromium history, and Chromium bookmarks.
package source

import (
	"context"
	"time"

	"github.com/dimfeld/perceive/internal/batch"
)

// CompareStrategy governs how the reconciler decides an item changed:
// by mtime, by content, by both, or always.
type CompareStrategy int

const (
	MTimeAndContent CompareStrategy = iota
	MTime
	Content
	Force
)

func (s CompareStrategy) String() string {
	switch s {
	case MTimeAndContent:
		return "mtime_and_content"
	case MTime:
		return "mtime"
	case Content:
		return "content"
	case Force:
		return "force"
	default:
		return "unknown"
	}
}

// ShouldCompareMTime reports whether the reconciler should treat modified
// timestamps as meaningful for this strategy.
func (s CompareStrategy) ShouldCompareMTime() bool {
	return s == MTimeAndContent || s == MTime
}

// ShouldCompareContent reports whether the reader should upgrade a Found
// item to Changed/Unchanged by diffing content.
func (s CompareStrategy) ShouldCompareContent() bool {
	return s == MTimeAndContent || s == Content
}

// ParseCompareStrategy parses the strategy names used in persisted config.
func ParseCompareStrategy(s string) CompareStrategy {
	switch s {
	case "mtime":
		return MTime
	case "content":
		return Content
	case "force":
		return Force
	default:
		return MTimeAndContent
	}
}

// SkipReason is a permanent or transient reason an item carries no
// searchable content.
type SkipReason string

const (
	NotFound     SkipReason = "not_found"
	FetchError   SkipReason = "fetch_error"
	Unauthorized SkipReason = "unauthorized"
	Redirected   SkipReason = "redirected"
	NoContent    SkipReason = "no_content"
)

// Permanent reports whether a refetch should be suppressed until forced.
// NotFound, Unauthorized, and Redirected are stable facts about the
// resource; FetchError and NoContent may resolve themselves on a later
// attempt.
func (r SkipReason) Permanent() bool {
	switch r {
	case NotFound, Unauthorized, Redirected:
		return true
	default:
		return false
	}
}

// Skipped tags why an item was intentionally not indexed.
type Skipped struct {
	Reason    SkipReason
	Permanent bool
}

// Metadata is the optional descriptive fields of an item.
type Metadata struct {
	Name        string
	Author      string
	Description string
	MTime       *time.Time
	ATime       *time.Time
}

// Item is one identified piece of indexable content.
type Item struct {
	ID             int64 // -1 before first persistence
	SourceID       int64
	ExternalID     string
	Hash           string
	Content        string
	RawContent     []byte
	ProcessVersion int
	Metadata       Metadata
	Skipped        *Skipped
}

// NewItem constructs an unpersisted item.
func NewItem(sourceID int64, externalID string) Item {
	return Item{ID: -1, SourceID: sourceID, ExternalID: externalID}
}

// State is the per-item scan classification.
type State int

const (
	StateNew State = iota
	StateFound
	StateChanged
	StateUnchanged
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateFound:
		return "found"
	case StateChanged:
		return "changed"
	case StateUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// ScanItem is one item moving through the pipeline, tagged with its current
// classification. Existing, when non-nil, is the persisted row's view of
// the same item (stored hash, content, timestamps, skip reason), which the
// reader needs for conditional fetches and content comparison.
type ScanItem struct {
	Item     Item
	State    State
	Existing *Item
}

// ReadResult is what a scanner's Read/Reprocess call reports about one item.
type ReadResult int

const (
	ReadFound ReadResult = iota
	ReadUnchanged
	ReadOmit
)

// Kind tags which scanner implementation a Source uses.
type Kind int

const (
	KindFs Kind = iota
	KindChromiumHistory
	KindChromiumBookmarks
)

func (k Kind) String() string {
	switch k {
	case KindFs:
		return "fs"
	case KindChromiumHistory:
		return "chromium_history"
	case KindChromiumBookmarks:
		return "chromium_bookmarks"
	default:
		return "unknown"
	}
}

// Config is the tagged variant of per-kind scanner configuration.
type Config struct {
	Kind        Kind
	Globs       []string // Fs
	SkipDomains []string // ChromiumHistory, ChromiumBookmarks
}

// Status is the source's scan state machine: new -> indexing -> ready|error.
type Status struct {
	State     string // "new", "indexing", "ready", "error"
	StartedAt *time.Time
	Scanned   int
	DurationS float64
	Message   string
}

// Source is a configured origin of items.
type Source struct {
	ID              int64
	Name            string
	Location        string
	Config          Config
	CompareStrategy CompareStrategy
	Status          Status
	LastIndexed     *time.Time
	IndexVersion    int64
}

// Scanner is the capability set every source kind implements. Variants are
// selected by tagged config at construction time; there is no inheritance.
type Scanner interface {
	// Scan enumerates candidate items into sender.
	Scan(ctx context.Context, sender *batch.Sender[Item]) error
	// Read acquires an item's content, given the existing row (nil if new)
	// and the source's compare strategy.
	Read(ctx context.Context, existing *Item, strategy CompareStrategy, item *Item) (ReadResult, error)
	// Reprocess re-derives content/metadata from stored RawContent.
	Reprocess(ctx context.Context, item *Item) (ReadResult, error)
	// LatestProcessVersion is the current version of this scanner's
	// content-extraction pipeline.
	LatestProcessVersion() int
}

// New dispatches a Config to its concrete Scanner.
func New(location string, cfg Config, httpClient *FetchClient) Scanner {
	switch cfg.Kind {
	case KindChromiumHistory:
		return NewChromiumHistoryScanner(location, cfg.SkipDomains, httpClient)
	case KindChromiumBookmarks:
		return NewChromiumBookmarksScanner(location, cfg.SkipDomains, httpClient)
	default:
		return NewFsScanner(location, cfg.Globs)
	}
}
