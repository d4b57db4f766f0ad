package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WriterTx drives one transaction per batch for the pipeline Writer stage:
// a prepared statement per state variant, plus an embedding upsert, so a
// partial batch failure rolls back only that batch.
type WriterTx struct {
	tx *sql.Tx

	unchangedStmt *sql.Stmt
	changedStmt   *sql.Stmt
	newStmt       *sql.Stmt
	embeddingStmt *sql.Stmt
}

// NewWriterTx begins a transaction and prepares its statements.
func (s *Store) NewWriterTx(ctx context.Context) (*WriterTx, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin writer tx: %w", err)
	}

	w := &WriterTx{tx: tx}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&w.unchangedStmt, `UPDATE items SET version = ?, last_accessed = ? WHERE id = ?`},
		{&w.changedStmt, `
			UPDATE items SET
				version = ?, hash = ?, content = ?, raw_content = ?, process_version = ?,
				name = ?, author = ?, description = ?, modified = ?, last_accessed = ?,
				skipped = ?, skipped_permanent = ?
			WHERE id = ?`},
		{&w.newStmt, `
			INSERT INTO items (
				source_id, external_id, version, hash, content, raw_content, process_version,
				name, author, description, modified, last_accessed, skipped, skipped_permanent
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&w.embeddingStmt, `
			INSERT INTO item_embeddings (item_id, item_index_version, model_id, model_version, embedding)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(item_id, model_id, model_version) DO UPDATE SET
				embedding = excluded.embedding,
				item_index_version = excluded.item_index_version`},
	}

	for _, s := range stmts {
		stmt, err := tx.PrepareContext(ctx, s.query)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("prepare statement: %w", err)
		}
		*s.dst = stmt
	}
	return w, nil
}

// UpdateUnchanged bumps only version and last_accessed, leaving every other
// column byte-identical.
func (w *WriterTx) UpdateUnchanged(ctx context.Context, id int64, version, lastAccessed int64) error {
	_, err := w.unchangedStmt.ExecContext(ctx, version, lastAccessed, id)
	return err
}

// ItemFields is the full set of persisted columns for a Changed or New item.
type ItemFields struct {
	Version          int64
	Hash             string
	Content          string
	RawContent       []byte
	ProcessVersion   int
	Name             sql.NullString
	Author           sql.NullString
	Description      sql.NullString
	Modified         sql.NullInt64
	LastAccessed     sql.NullInt64
	Skipped          sql.NullString
	SkippedPermanent bool
}

// UpdateChanged rewrites every content/metadata column of an existing item.
func (w *WriterTx) UpdateChanged(ctx context.Context, id int64, f ItemFields) error {
	_, err := w.changedStmt.ExecContext(ctx,
		f.Version, f.Hash, f.Content, f.RawContent, f.ProcessVersion,
		f.Name, f.Author, f.Description, f.Modified, f.LastAccessed,
		f.Skipped, f.SkippedPermanent, id)
	return err
}

// InsertNew inserts a new item and returns its assigned id.
func (w *WriterTx) InsertNew(ctx context.Context, sourceID int64, externalID string, f ItemFields) (int64, error) {
	res, err := w.newStmt.ExecContext(ctx,
		sourceID, externalID, f.Version, f.Hash, f.Content, f.RawContent, f.ProcessVersion,
		f.Name, f.Author, f.Description, f.Modified, f.LastAccessed,
		f.Skipped, f.SkippedPermanent)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpsertEmbedding writes or replaces an item's embedding for one model
// identity.
func (w *WriterTx) UpsertEmbedding(ctx context.Context, itemID int64, indexVersion int64, modelID, modelVersion uint32, embedding []byte) error {
	_, err := w.embeddingStmt.ExecContext(ctx, itemID, indexVersion, modelID, modelVersion, embedding)
	return err
}

// Commit finalizes the batch's transaction and releases the prepared
// statements.
func (w *WriterTx) Commit() error {
	w.closeStmts()
	return w.tx.Commit()
}

// Rollback discards the batch's transaction.
func (w *WriterTx) Rollback() error {
	w.closeStmts()
	return w.tx.Rollback()
}

func (w *WriterTx) closeStmts() {
	for _, stmt := range []*sql.Stmt{w.unchangedStmt, w.changedStmt, w.newStmt, w.embeddingStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}
