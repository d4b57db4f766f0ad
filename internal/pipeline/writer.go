package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dimfeld/perceive/internal/model"
	"github.com/dimfeld/perceive/internal/source"
	"github.com/dimfeld/perceive/internal/store"
)

// writerTxBeginner is the subset of *store.Store the writer needs.
type writerTxBeginner interface {
	NewWriterTx(ctx context.Context) (*store.WriterTx, error)
}

// RunWriter drives one transaction per received batch, upserting item rows
// and their embeddings and stamping indexVersion. It returns when in
// closes, ctx is canceled, or a batch's transaction fails.
func RunWriter(ctx context.Context, st writerTxBeginner, sourceID int64, indexVersion int64, modelID, modelVersion uint32, stats *Stats, in <-chan []embeddedItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			if err := writeBatch(ctx, st, sourceID, indexVersion, modelID, modelVersion, stats, batch); err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
		}
	}
}

func writeBatch(ctx context.Context, st writerTxBeginner, sourceID int64, indexVersion int64, modelID, modelVersion uint32, stats *Stats, batch []embeddedItem) error {
	tx, err := st.NewWriterTx(ctx)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, ei := range batch {
		si := ei.item
		switch si.State {
		case source.StateUnchanged:
			if err := tx.UpdateUnchanged(ctx, si.Item.ID, indexVersion, now); err != nil {
				tx.Rollback()
				return fmt.Errorf("update unchanged %s: %w", si.Item.ExternalID, err)
			}
			stats.Unchanged.Add(1)

		case source.StateChanged, source.StateFound: // Found does not normally survive the reader; written like Changed if it does
			fields := itemFields(si.Item, indexVersion, now)
			if err := tx.UpdateChanged(ctx, si.Item.ID, fields); err != nil {
				tx.Rollback()
				return fmt.Errorf("update changed %s: %w", si.Item.ExternalID, err)
			}
			if err := maybeUpsertEmbedding(ctx, tx, si.Item.ID, indexVersion, modelID, modelVersion, ei.embedding); err != nil {
				tx.Rollback()
				return err
			}
			stats.Changed.Add(1)

		case source.StateNew:
			fields := itemFields(si.Item, indexVersion, now)
			id, err := tx.InsertNew(ctx, sourceID, si.Item.ExternalID, fields)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("insert new %s: %w", si.Item.ExternalID, err)
			}
			if err := maybeUpsertEmbedding(ctx, tx, id, indexVersion, modelID, modelVersion, ei.embedding); err != nil {
				tx.Rollback()
				return err
			}
			stats.Added.Add(1)
		}
	}

	return tx.Commit()
}

func maybeUpsertEmbedding(ctx context.Context, tx *store.WriterTx, itemID, indexVersion int64, modelID, modelVersion uint32, embedding []float32) error {
	if embedding == nil {
		return nil
	}
	packed := model.SerializeEmbedding(embedding)
	if err := tx.UpsertEmbedding(ctx, itemID, indexVersion, modelID, modelVersion, packed); err != nil {
		return fmt.Errorf("upsert embedding for item %d: %w", itemID, err)
	}
	return nil
}

func itemFields(it source.Item, version int64, lastAccessed int64) store.ItemFields {
	var modified, lastAccessedCol sql.NullInt64
	if it.Metadata.MTime != nil {
		modified = sql.NullInt64{Int64: it.Metadata.MTime.Unix(), Valid: true}
	}
	if it.Metadata.ATime != nil {
		lastAccessedCol = sql.NullInt64{Int64: it.Metadata.ATime.Unix(), Valid: true}
	} else {
		lastAccessedCol = sql.NullInt64{Int64: lastAccessed, Valid: true}
	}

	var skipped sql.NullString
	permanent := false
	if it.Skipped != nil {
		skipped = sql.NullString{String: string(it.Skipped.Reason), Valid: true}
		permanent = it.Skipped.Permanent
	}

	return store.ItemFields{
		Version:          version,
		Hash:             it.Hash,
		Content:          it.Content,
		RawContent:       it.RawContent,
		ProcessVersion:   it.ProcessVersion,
		Name:             nullString(it.Metadata.Name),
		Author:           nullString(it.Metadata.Author),
		Description:      nullString(it.Metadata.Description),
		Modified:         modified,
		LastAccessed:     lastAccessedCol,
		Skipped:          skipped,
		SkippedPermanent: permanent,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
