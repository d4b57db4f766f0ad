package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SourceRow is the persisted row shape of a configured source. ConfigJSON
// and StatusJSON are opaque JSON blobs the caller (internal/source)
// encodes/decodes; the store treats them as strings so it has no
// dependency on the source package's types.
type SourceRow struct {
	ID              int64
	Name            string
	Location        string
	ConfigJSON      string
	CompareStrategy string
	StatusJSON      string
	LastIndexed     sql.NullInt64
	IndexVersion    int64
	DeletedAt       sql.NullInt64
}

// CreateSource inserts a new source and returns its assigned id.
func (s *Store) CreateSource(ctx context.Context, row SourceRow) (int64, error) {
	res, err := s.write.ExecContext(ctx, `
		INSERT INTO sources (name, location, config_json, compare_strategy, status_json, index_version)
		VALUES (?, ?, ?, ?, ?, 0)
	`, row.Name, row.Location, row.ConfigJSON, row.CompareStrategy, row.StatusJSON)
	if err != nil {
		return 0, fmt.Errorf("create source %q: %w", row.Name, err)
	}
	return res.LastInsertId()
}

// GetSourceByName fetches a non-deleted source by its unique name.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*SourceRow, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT id, name, location, config_json, compare_strategy, status_json, last_indexed, index_version, deleted_at
		FROM sources WHERE name = ? AND deleted_at IS NULL
	`, name)
	return scanSourceRow(row)
}

// ListSources returns every non-deleted source.
func (s *Store) ListSources(ctx context.Context) ([]SourceRow, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, name, location, config_json, compare_strategy, status_json, last_indexed, index_version, deleted_at
		FROM sources WHERE deleted_at IS NULL ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var r SourceRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Location, &r.ConfigJSON, &r.CompareStrategy, &r.StatusJSON, &r.LastIndexed, &r.IndexVersion, &r.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSourceRow(row *sql.Row) (*SourceRow, error) {
	var r SourceRow
	err := row.Scan(&r.ID, &r.Name, &r.Location, &r.ConfigJSON, &r.CompareStrategy, &r.StatusJSON, &r.LastIndexed, &r.IndexVersion, &r.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return &r, nil
}

// BeginScan bumps index_version and sets status to Indexing{started_at},
// returning the new index_version.
func (s *Store) BeginScan(ctx context.Context, sourceID int64, statusJSON string) (int64, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT index_version FROM sources WHERE id = ?`, sourceID).Scan(&version); err != nil {
		return 0, fmt.Errorf("read index_version: %w", err)
	}
	version++

	if _, err := tx.ExecContext(ctx, `UPDATE sources SET index_version = ?, status_json = ? WHERE id = ?`, version, statusJSON, sourceID); err != nil {
		return 0, fmt.Errorf("bump index_version: %w", err)
	}
	return version, tx.Commit()
}

// EndScan sets the source's terminal status and last_indexed time.
func (s *Store) EndScan(ctx context.Context, sourceID int64, statusJSON string, lastIndexed int64) error {
	_, err := s.write.ExecContext(ctx, `UPDATE sources SET status_json = ?, last_indexed = ? WHERE id = ?`, statusJSON, lastIndexed, sourceID)
	if err != nil {
		return fmt.Errorf("end scan: %w", err)
	}
	return nil
}

// SoftDeleteSource marks a source deleted without removing its items, so a
// later undelete (out of scope) could recover it.
func (s *Store) SoftDeleteSource(ctx context.Context, sourceID int64, deletedAt int64) error {
	_, err := s.write.ExecContext(ctx, `UPDATE sources SET deleted_at = ? WHERE id = ?`, deletedAt, sourceID)
	return err
}
