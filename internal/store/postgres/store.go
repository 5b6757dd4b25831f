// Package postgres persists tracked records in PostgreSQL.
//
// It exposes the same operations as the SQLite store. Modify serializes
// writers per key with SELECT ... FOR UPDATE; a key that does not exist yet is
// claimed with INSERT ... ON CONFLICT DO NOTHING, and a lost claim falls back
// to locking the winner's row and recomputing the transition.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/roach88/indextrack/internal/record"
)

//go:embed schema.sql
var schemaSQL string

const selectColumns = `namespace, identifier, first_indexed, last_indexed, last_record_change, deleted`

// Store persists tracked records in PostgreSQL.
// This store is pure I/O; state transitions belong to the tracker.
type Store struct {
	db *sql.DB
}

// New wraps an existing connection pool. The caller keeps ownership of db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection, and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the change_tracker table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Insert adds a new row, returning record.ErrConflict if the key exists.
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
func (s *Store) Update(ctx context.Context, rec record.TrackedRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return updateRecord(ctx, s.db, rec)
}

// Get retrieves the row for key, or record.ErrNotFound.
func (s *Store) Get(ctx context.Context, key record.Key) (record.TrackedRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM change_tracker
		WHERE namespace = $1 AND identifier = $2
	`, key.Namespace, key.Identifier))
	if err == sql.ErrNoRows {
		return record.TrackedRecord{}, fmt.Errorf("get record %s: %w", key, record.ErrNotFound)
	}
	if err != nil {
		return record.TrackedRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Modify runs fn with the key's row locked and persists what it returns.
func (s *Store) Modify(ctx context.Context, key record.Key, fn record.ModifyFunc) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("modify record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("modify record: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := lockRecord(ctx, tx, key)
	if err != nil {
		return err
	}

	next, err := fn(existing)
	if err != nil {
		return err
	}
	if next == nil {
		return commit(tx)
	}
	next.Key = key

	if existing != nil {
		if err := updateRecord(ctx, tx, *next); err != nil {
			return err
		}
		return commit(tx)
	}

	inserted, err := insertRecord(ctx, tx, *next)
	if err != nil {
		return err
	}
	if inserted {
		return commit(tx)
	}

	// A concurrent writer inserted the key between our locked read and our
	// insert. ON CONFLICT waited for it to commit, so the row is visible now.
	existing, err = lockRecord(ctx, tx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("modify record %s: conflicting row vanished: %w", key, record.ErrConflict)
	}
	next, err = fn(existing)
	if err != nil {
		return err
	}
	if next == nil {
		return commit(tx)
	}
	next.Key = key
	if err := updateRecord(ctx, tx, *next); err != nil {
		return err
	}
	return commit(tx)
}

// ListDeleted returns tombstones with deleted in [from, until].
func (s *Store) ListDeleted(ctx context.Context, namespace string, from, until time.Time, offset, limit int) ([]record.TrackedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM change_tracker
		WHERE namespace = $1 AND deleted IS NOT NULL AND deleted >= $2 AND deleted <= $3
		ORDER BY deleted ASC, identifier ASC
		LIMIT $4 OFFSET $5
	`, namespace, from.UTC(), until.UTC(), limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("query deleted records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows, "deleted records")
}

// CountDeleted returns the number of tombstones with deleted in [from, until].
func (s *Store) CountDeleted(ctx context.Context, namespace string, from, until time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM change_tracker
		WHERE namespace = $1 AND deleted IS NOT NULL AND deleted >= $2 AND deleted <= $3
	`, namespace, from.UTC(), until.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deleted records: %w", err)
	}
	return count, nil
}

// ListChanged returns active rows with last_indexed in [since, until].
func (s *Store) ListChanged(ctx context.Context, namespace string, since, until time.Time, offset, limit int) ([]record.TrackedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM change_tracker
		WHERE namespace = $1 AND deleted IS NULL AND last_indexed >= $2 AND last_indexed <= $3
		ORDER BY last_indexed ASC, identifier ASC
		LIMIT $4 OFFSET $5
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
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_tracker WHERE namespace = $1`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func lockRecord(ctx context.Context, tx *sql.Tx, key record.Key) (*record.TrackedRecord, error) {
	rec, err := scanRecord(tx.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM change_tracker
		WHERE namespace = $1 AND identifier = $2
		FOR UPDATE
	`, key.Namespace, key.Identifier))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("modify record: select for update: %w", err)
	}
	return &rec, nil
}

func insertRecord(ctx context.Context, ex execer, rec record.TrackedRecord) (bool, error) {
	result, err := ex.ExecContext(ctx, `
		INSERT INTO change_tracker (namespace, identifier, first_indexed, last_indexed, last_record_change, deleted)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, identifier) DO NOTHING
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
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record rows affected: %w", err)
	}
	return rows > 0, nil
}

func updateRecord(ctx context.Context, ex execer, rec record.TrackedRecord) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE change_tracker
		SET first_indexed = $3, last_indexed = $4, last_record_change = $5, deleted = $6
		WHERE namespace = $1 AND identifier = $2
	`,
		rec.Namespace,
		rec.Identifier,
		nullTime(rec.FirstIndexed),
		nullTime(rec.LastIndexed),
		nullTime(rec.LastRecordChange),
		nullTime(rec.Deleted),
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update record %s: %w", rec.Key, record.ErrNotFound)
	}
	return nil
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("modify record: commit: %w", err)
	}
	return nil
}

func collectRecords(rows *sql.Rows, what string) ([]record.TrackedRecord, error) {
	records := []record.TrackedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
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

func scanRecord(row rowScanner) (record.TrackedRecord, error) {
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

// limitArg maps a non-positive limit to LIMIT NULL (no limit).
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
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
