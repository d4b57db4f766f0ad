package pipeline

import (
	"context"
	"database/sql"
	"testing"
	"testing/quick"
	"time"

	"github.com/dimfeld/perceive/internal/source"
	"github.com/dimfeld/perceive/internal/store"
)

// TestDecideTruthTable pins down the comparison-strategy decision table.
func TestDecideTruthTable(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	cases := []struct {
		name            string
		force           bool
		timeMatch       *bool
		mtimeSufficient bool
		want            source.State
	}{
		{"forced always changes", true, boolPtr(true), true, source.StateChanged},
		{"forced with nil time", true, nil, false, source.StateChanged},
		{"time mismatch changes", false, boolPtr(false), true, source.StateChanged},
		{"time match, mtime sufficient is unchanged", false, boolPtr(true), true, source.StateUnchanged},
		{"time match, mtime insufficient needs content check", false, boolPtr(true), false, source.StateFound},
		{"unknown time needs content check", false, nil, false, source.StateFound},
		{"unknown time needs content check even if mtime sufficient flag set", false, nil, true, source.StateFound},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Decide(c.force, c.timeMatch, c.mtimeSufficient)
			if got != c.want {
				t.Fatalf("Decide(%v, %v, %v) = %v, want %v", c.force, c.timeMatch, c.mtimeSufficient, got, c.want)
			}
		})
	}
}

// TestDecidePropertyForceAlwaysChanged property-tests that force always
// wins regardless of the other inputs.
func TestDecidePropertyForceAlwaysChanged(t *testing.T) {
	f := func(timeMatchKnown, timeMatch, mtimeSufficient bool) bool {
		var tm *bool
		if timeMatchKnown {
			tm = &timeMatch
		}
		return Decide(true, tm, mtimeSufficient) == source.StateChanged
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// TestDecidePropertyUnknownTimeIsFound property-tests that whenever force is
// false and the time comparison is unavailable, the item always needs a
// content check (Found), never a silent Unchanged/Changed guess.
func TestDecidePropertyUnknownTimeIsFound(t *testing.T) {
	f := func(mtimeSufficient bool) bool {
		return Decide(false, nil, mtimeSufficient) == source.StateFound
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// fakeLookup serves canned ExistingItem rows keyed by external_id.
type fakeLookup struct {
	rows map[string]store.ExistingItem
}

func (f *fakeLookup) LookupExisting(ctx context.Context, sourceID int64, externalIDs []string, includeContent bool, modelID, modelVersion uint32) (map[string]store.ExistingItem, error) {
	out := make(map[string]store.ExistingItem)
	for _, id := range externalIDs {
		if row, ok := f.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func TestReconcileBatchClassifiesAndCarriesExistingRow(t *testing.T) {
	mtime := time.Unix(1000, 0).UTC()
	lookup := &fakeLookup{rows: map[string]store.ExistingItem{
		"matched": {
			ID:           5,
			Hash:         "etag-5",
			Content:      sql.NullString{String: "stored text", Valid: true},
			Modified:     sql.NullInt64{Int64: mtime.Unix(), Valid: true},
			LastAccessed: sql.NullInt64{Int64: 900, Valid: true},
			HasEmbedding: true,
		},
		"skipped": {
			ID:               6,
			Skipped:          sql.NullString{String: string(source.NotFound), Valid: true},
			SkippedPermanent: true,
			HasEmbedding:     true,
		},
	}}

	r := NewReconciler(lookup, 1, source.MTimeAndContent, 0, 0)

	newMatched := source.NewItem(0, "matched")
	newMatched.Metadata.MTime = &mtime
	newSkipped := source.NewItem(0, "skipped")
	brandNew := source.NewItem(0, "brand-new")

	out, err := r.reconcileBatch(context.Background(), []source.Item{newMatched, newSkipped, brandNew})
	if err != nil {
		t.Fatalf("reconcileBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 scan items, got %d", len(out))
	}

	matched := out[0]
	if matched.State != source.StateFound {
		t.Fatalf("expected matching mtime under mtime_and_content to need a content check, got %v", matched.State)
	}
	if matched.Item.ID != 5 {
		t.Fatalf("expected the new item to adopt the stored id, got %d", matched.Item.ID)
	}
	if matched.Existing == nil || matched.Existing.Hash != "etag-5" || matched.Existing.Content != "stored text" {
		t.Fatalf("expected the stored row carried on Existing, got %+v", matched.Existing)
	}
	if matched.Existing.Metadata.ATime == nil || matched.Existing.Metadata.ATime.Unix() != 900 {
		t.Fatalf("expected stored last_accessed on Existing, got %+v", matched.Existing.Metadata.ATime)
	}

	skipped := out[1]
	if skipped.Existing == nil || skipped.Existing.Skipped == nil || !skipped.Existing.Skipped.Permanent {
		t.Fatalf("expected the permanent skip carried on Existing, got %+v", skipped.Existing)
	}
	if skipped.Existing.Skipped.Reason != source.NotFound {
		t.Fatalf("expected the stored skip reason, got %v", skipped.Existing.Skipped.Reason)
	}

	if out[2].State != source.StateNew || out[2].Existing != nil {
		t.Fatalf("expected an unmatched item to be New with no existing row, got %+v", out[2])
	}
}

func TestReconcileBatchMissingEmbeddingForcesChange(t *testing.T) {
	mtime := time.Unix(1000, 0).UTC()
	lookup := &fakeLookup{rows: map[string]store.ExistingItem{
		"a": {
			ID:           5,
			Modified:     sql.NullInt64{Int64: mtime.Unix(), Valid: true},
			HasEmbedding: false,
		},
	}}

	r := NewReconciler(lookup, 1, source.MTime, 0, 0)
	item := source.NewItem(0, "a")
	item.Metadata.MTime = &mtime

	out, err := r.reconcileBatch(context.Background(), []source.Item{item})
	if err != nil {
		t.Fatalf("reconcileBatch: %v", err)
	}
	if out[0].State != source.StateChanged {
		t.Fatalf("expected a row with no embedding to be re-embedded even on a time match, got %v", out[0].State)
	}
}
