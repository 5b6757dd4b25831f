package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/indextrack/internal/record"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert adds a new row.
// Uses ON CONFLICT DO NOTHING so a duplicate key never aborts a surrounding
// transaction; the duplicate is reported as record.ErrConflict instead.
func (s *Store) Insert(ctx context.Context, rec record.TrackedRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	inserted, err := insertRecord(ctx, s.db, rec)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("insert record %s: %w", rec.Key, record.ErrConflict)
	}
	return nil
}

// Update overwrites every timestamp of an existing row.
// Returns record.ErrNotFound if the key has no row.
func (s *Store) Update(ctx context.Context, rec record.TrackedRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return updateRecord(ctx, s.db, rec)
}

// Modify runs fn with exclusive access to key and persists what it returns.
//
// The read and the write share one immediate transaction, so concurrent
// writers on the same database (other connections or other processes) are
// serialized and can neither lose an update nor create a second row.
func (s *Store) Modify(ctx context.Context, key record.Key, fn record.ModifyFunc) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("modify record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("modify record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := scanRecordRow(tx.QueryRowContext(ctx, selectByKeySQL, key.Namespace, key.Identifier))
	var existing *record.TrackedRecord
	switch {
	case err == nil:
		existing = &current
	case err == sql.ErrNoRows:
	default:
		return fmt.Errorf("modify record: select: %w", err)
	}

	next, err := fn(existing)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit()
	}
	next.Key = key

	if existing == nil {
		inserted, err := insertRecord(ctx, tx, *next)
		if err != nil {
			return err
		}
		if !inserted {
			// Unreachable under BEGIN IMMEDIATE; surfaced rather than ignored.
			return fmt.Errorf("modify record %s: %w", key, record.ErrConflict)
		}
	} else if err := updateRecord(ctx, tx, *next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("modify record: commit: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, ex execer, rec record.TrackedRecord) (bool, error) {
	result, err := ex.ExecContext(ctx, `
		INSERT INTO change_tracker
		(namespace, identifier, first_indexed, last_indexed, last_record_change, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, identifier) DO NOTHING
	`,
		rec.Namespace,
		rec.Identifier,
		nullTime(rec.FirstIndexed),
		nullTime(rec.LastIndexed),
		nullTime(rec.LastRecordChange),
		nullTime(rec.Deleted),
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func updateRecord(ctx context.Context, ex execer, rec record.TrackedRecord) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE change_tracker
		SET first_indexed = ?, last_indexed = ?, last_record_change = ?, deleted = ?
		WHERE namespace = ? AND identifier = ?
	`,
		nullTime(rec.FirstIndexed),
		nullTime(rec.LastIndexed),
		nullTime(rec.LastRecordChange),
		nullTime(rec.Deleted),
		rec.Namespace,
		rec.Identifier,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("update record %s: %w", rec.Key, record.ErrNotFound)
	}
	return nil
}
