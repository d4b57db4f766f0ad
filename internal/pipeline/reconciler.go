package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dimfeld/perceive/internal/source"
	"github.com/dimfeld/perceive/internal/store"
)

// existingLookup is the subset of *store.Store the reconciler needs; kept
// as an interface so tests can supply an in-memory fake.
type existingLookup interface {
	LookupExisting(ctx context.Context, sourceID int64, externalIDs []string, includeContent bool, modelID, modelVersion uint32) (map[string]store.ExistingItem, error)
}

// Decide classifies one item given the force flag, the mtime comparison
// result (nil when timestamps are unavailable or the strategy ignores
// them), and whether a matching mtime alone is enough to conclude
// Unchanged. Kept as a pure function so the truth table can be tested
// directly.
func Decide(force bool, timeMatch *bool, mtimeSufficient bool) source.State {
	if force {
		return source.StateChanged
	}
	if timeMatch == nil {
		return source.StateFound
	}
	if !*timeMatch {
		return source.StateChanged
	}
	if mtimeSufficient {
		return source.StateUnchanged
	}
	return source.StateFound
}

// Reconciler classifies each item from the scanner against persisted state
// by (source_id, external_id).
type Reconciler struct {
	store        existingLookup
	sourceID     int64
	strategy     source.CompareStrategy
	modelID      uint32
	modelVersion uint32
}

// NewReconciler builds a Reconciler for one source's scan.
func NewReconciler(st existingLookup, sourceID int64, strategy source.CompareStrategy, modelID, modelVersion uint32) *Reconciler {
	return &Reconciler{store: st, sourceID: sourceID, strategy: strategy, modelID: modelID, modelVersion: modelVersion}
}

// mtimeSufficient is true only for the MTime strategy: a matching mtime
// alone is enough to conclude Unchanged. MTimeAndContent still requires the
// Reader to confirm via content comparison.
func (r *Reconciler) mtimeSufficient() bool {
	return r.strategy == source.MTime
}

// Run consumes item batches from in, classifies them, and sends the
// decorated ScanItem batches to out. It returns when in closes or ctx is
// canceled.
func (r *Reconciler) Run(ctx context.Context, in <-chan []source.Item, out chan<- []source.ScanItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			decided, err := r.reconcileBatch(ctx, batch)
			if err != nil {
				log.Printf("reconciler: %v", err)
				continue
			}
			select {
			case out <- decided:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *Reconciler) reconcileBatch(ctx context.Context, items []source.Item) ([]source.ScanItem, error) {
	externalIDs := make([]string, len(items))
	for i, it := range items {
		externalIDs[i] = it.ExternalID
	}

	includeContent := r.strategy.ShouldCompareContent()
	existing, err := r.store.LookupExisting(ctx, r.sourceID, externalIDs, includeContent, r.modelID, r.modelVersion)
	if err != nil {
		return nil, fmt.Errorf("lookup existing: %w", err)
	}

	out := make([]source.ScanItem, len(items))
	for i, it := range items {
		it.SourceID = r.sourceID
		row, found := existing[it.ExternalID]
		if !found {
			out[i] = source.ScanItem{Item: it, State: source.StateNew}
			continue
		}

		it.ID = row.ID
		prior := existingFromRow(r.sourceID, it.ExternalID, row)

		force := r.strategy == source.Force || !row.HasEmbedding

		var timeMatch *bool
		if r.strategy.ShouldCompareMTime() {
			match := row.Modified.Valid && it.Metadata.MTime != nil && row.Modified.Int64 == it.Metadata.MTime.Unix()
			timeMatch = &match
		}

		state := Decide(force, timeMatch, r.mtimeSufficient())
		out[i] = source.ScanItem{Item: it, State: state, Existing: prior}
	}
	return out, nil
}

// existingFromRow rebuilds the stored row as a source.Item so the reader can
// consult the prior hash, content, timestamps, and skip reason.
func existingFromRow(sourceID int64, externalID string, row store.ExistingItem) *source.Item {
	prior := &source.Item{
		ID:         row.ID,
		SourceID:   sourceID,
		ExternalID: externalID,
		Hash:       row.Hash,
	}
	if row.Content.Valid {
		prior.Content = row.Content.String
	}
	if row.Modified.Valid {
		t := time.Unix(row.Modified.Int64, 0).UTC()
		prior.Metadata.MTime = &t
	}
	if row.LastAccessed.Valid {
		t := time.Unix(row.LastAccessed.Int64, 0).UTC()
		prior.Metadata.ATime = &t
	}
	if row.Skipped.Valid {
		prior.Skipped = &source.Skipped{Reason: source.SkipReason(row.Skipped.String), Permanent: row.SkippedPermanent}
	}
	return prior
}
