package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/indextrack/internal/record"
)

const selectColumns = `namespace, identifier, first_indexed, last_indexed, last_record_change, deleted`

const selectByKeySQL = `
	SELECT ` + selectColumns + `
	FROM change_tracker
	WHERE namespace = ? AND identifier = ?
`

// Get retrieves the row for key.
// Returns record.ErrNotFound if no row exists.
func (s *Store) Get(ctx context.Context, key record.Key) (record.TrackedRecord, error) {
	rec, err := scanRecordRow(s.db.QueryRowContext(ctx, selectByKeySQL, key.Namespace, key.Identifier))
	if err == sql.ErrNoRows {
		return record.TrackedRecord{}, fmt.Errorf("get record %s: %w", key, record.ErrNotFound)
	}
	if err != nil {
		return record.TrackedRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// ListDeleted returns tombstones in namespace whose deleted instant falls in
// [from, until], ordered by deleted ASC, identifier ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListDeleted(ctx context.Context, namespace string, from, until time.Time, offset, limit int) ([]record.TrackedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM change_tracker
		WHERE namespace = ? AND deleted IS NOT NULL AND deleted >= ? AND deleted <= ?
		ORDER BY deleted ASC, identifier ASC
		LIMIT ? OFFSET ?
	`, namespace, from.UTC(), until.UTC(), limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("query deleted records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows, "deleted records")
}

// CountDeleted returns the number of tombstones ListDeleted would page over.
func (s *Store) CountDeleted(ctx context.Context, namespace string, from, until time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM change_tracker
		WHERE namespace = ? AND deleted IS NOT NULL AND deleted >= ? AND deleted <= ?
	`, namespace, from.UTC(), until.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deleted records: %w", err)
	}
	return count, nil
}

// ListChanged returns active rows in namespace whose last_indexed falls in
// [since, until], ordered by last_indexed ASC, identifier ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListChanged(ctx context.Context, namespace string, since, until time.Time, offset, limit int) ([]record.TrackedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM change_tracker
		WHERE namespace = ? AND deleted IS NULL AND last_indexed >= ? AND last_indexed <= ?
		ORDER BY last_indexed ASC, identifier ASC
		LIMIT ? OFFSET ?
	`, namespace, since.UTC(), until.UTC(), limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("query changed records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows, "changed records")
}

// Count returns the number of rows in namespace, tombstones included.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_tracker WHERE namespace = ?`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// limitArg maps a non-positive limit to SQLite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectRecords(rows *sql.Rows, what string) ([]record.TrackedRecord, error) {
	records := []record.TrackedRecord{}
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return records, nil
}

func scanRecordRow(row rowScanner) (record.TrackedRecord, error) {
	var rec record.TrackedRecord
	var first, last, change, deleted sql.NullTime
	if err := row.Scan(&rec.Namespace, &rec.Identifier, &first, &last, &change, &deleted); err != nil {
		return record.TrackedRecord{}, err
	}
	rec.FirstIndexed = fromNullTime(first)
	rec.LastIndexed = fromNullTime(last)
	rec.LastRecordChange = fromNullTime(change)
	rec.Deleted = fromNullTime(deleted)
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return record.Time(t.Time)
}
