package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ExistingItem is what the reconciler reads back for each candidate
// external_id within a source: enough to classify the item and to hand the
// reader the stored row's view without a second round-trip.
type ExistingItem struct {
	ID               int64
	Hash             string
	Content          sql.NullString // only populated when the strategy needs content comparison
	Modified         sql.NullInt64
	LastAccessed     sql.NullInt64
	Skipped          sql.NullString
	SkippedPermanent bool
	HasEmbedding     bool
}

// LookupExisting resolves existing items for a batch of external_ids within
// one source, keyed by external_id. includeContent controls whether the
// (possibly large) content column is fetched, since only the
// content-comparing strategies (MTimeAndContent and Content) need it. The IN (...) clause is built by hand since
// database/sql has no native array-bind extension.
func (s *Store) LookupExisting(ctx context.Context, sourceID int64, externalIDs []string, includeContent bool, modelID, modelVersion uint32) (map[string]ExistingItem, error) {
	out := make(map[string]ExistingItem, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	contentCol := "NULL"
	if includeContent {
		contentCol = "items.content"
	}

	query := fmt.Sprintf(`
		SELECT items.external_id, items.id, items.hash, %s, items.modified, items.last_accessed,
		       items.skipped, items.skipped_permanent, item_embeddings.item_id IS NOT NULL
		FROM items
		LEFT JOIN item_embeddings
		  ON item_embeddings.item_id = items.id
		 AND item_embeddings.model_id = ?
		 AND item_embeddings.model_version = ?
		WHERE items.source_id = ? AND items.external_id IN (%s)
	`, contentCol, placeholders(len(externalIDs)))

	args := make([]any, 0, len(externalIDs)+3)
	args = append(args, modelID, modelVersion, sourceID)
	args = append(args, anySlice(externalIDs)...)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup existing items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var externalID string
		var e ExistingItem
		if err := rows.Scan(&externalID, &e.ID, &e.Hash, &e.Content, &e.Modified, &e.LastAccessed, &e.Skipped, &e.SkippedPermanent, &e.HasEmbedding); err != nil {
			return nil, fmt.Errorf("scan existing item: %w", err)
		}
		out[externalID] = e
	}
	return out, rows.Err()
}

// ItemsNeedingReprocess returns one page of the items in a source whose
// process_version is below latest: at most limit rows with id greater than
// afterID, in ascending id order, each carrying the columns listed in
// ReprocessCandidate.
func (s *Store) ItemsNeedingReprocess(ctx context.Context, sourceID int64, latest int, limit, afterID int64) ([]ReprocessCandidate, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, external_id, raw_content, content, hash, name, author, description, modified, last_accessed
		FROM items
		WHERE source_id = ? AND process_version < ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, sourceID, latest, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reprocess candidates: %w", err)
	}
	defer rows.Close()

	var out []ReprocessCandidate
	for rows.Next() {
		var c ReprocessCandidate
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.RawContent, &c.Content, &c.Hash, &c.Name, &c.Author, &c.Description, &c.Modified, &c.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan reprocess candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReprocessCandidate is one row the reprocessor rewrites: enough of the
// existing row to call Scanner.Reprocess and then, if it reports Found,
// write back the full column set without clobbering fields Reprocess never
// touches (e.g. modified/last_accessed).
type ReprocessCandidate struct {
	ID           int64
	ExternalID   string
	RawContent   []byte
	Content      string
	Hash         string
	Name         sql.NullString
	Author       sql.NullString
	Description  sql.NullString
	Modified     sql.NullInt64
	LastAccessed sql.NullInt64
}

// SetHidden sets or clears hidden_at on an item.
func (s *Store) SetHidden(ctx context.Context, itemID int64, hiddenAt sql.NullInt64) error {
	_, err := s.write.ExecContext(ctx, `UPDATE items SET hidden_at = ? WHERE id = ?`, hiddenAt, itemID)
	if err != nil {
		return fmt.Errorf("set hidden: %w", err)
	}
	return nil
}

// HiddenItemIDs returns every currently hidden item id, used to seed the
// in-memory hidden set at process start.
func (s *Store) HiddenItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id FROM items WHERE hidden_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list hidden items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ItemsForIndex loads every (item_id, source_id, embedding) tuple for a
// given model identity, excluding skipped and hidden items, for building
// the per-source ANN graphs.
func (s *Store) ItemsForIndex(ctx context.Context, modelID, modelVersion uint32) ([]IndexRow, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT items.id, items.source_id, item_embeddings.embedding
		FROM item_embeddings
		JOIN items ON items.id = item_embeddings.item_id
		WHERE item_embeddings.model_id = ? AND item_embeddings.model_version = ?
		  AND items.skipped IS NULL AND items.hidden_at IS NULL
	`, modelID, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("load index rows: %w", err)
	}
	defer rows.Close()

	var out []IndexRow
	for rows.Next() {
		var r IndexRow
		if err := rows.Scan(&r.ItemID, &r.SourceID, &r.Embedding); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IndexRow is one embedding row used to build an ANN graph.
type IndexRow struct {
	ItemID    int64
	SourceID  int64
	Embedding []byte
}

// RetrievedItem is a rehydrated item returned by search_and_retrieve.
type RetrievedItem struct {
	ID          int64
	SourceID    int64
	ExternalID  string
	Name        sql.NullString
	Description sql.NullString
	Content     string
}

// GetItemsByID rehydrates items by id, excluding skipped/hidden as a safety
// net even though the caller is expected to have already filtered the
// search result against the hidden set.
func (s *Store) GetItemsByID(ctx context.Context, ids []int64) (map[int64]RetrievedItem, error) {
	out := make(map[int64]RetrievedItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT id, source_id, external_id, name, description, content
		FROM items
		WHERE id IN (%s) AND skipped IS NULL AND hidden_at IS NULL
	`, placeholders(len(ids)))

	rows, err := s.read.QueryContext(ctx, query, anySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get items by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RetrievedItem
		if err := rows.Scan(&r.ID, &r.SourceID, &r.ExternalID, &r.Name, &r.Description, &r.Content); err != nil {
			return nil, fmt.Errorf("scan retrieved item: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}
