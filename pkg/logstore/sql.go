package logstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         INTEGER NOT NULL UNIQUE,
	timestamp  INTEGER NOT NULL,
	service    TEXT    NOT NULL,
	severity   TEXT    NOT NULL,
	raw_log    TEXT    NOT NULL,
	ai_summary TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS logs_service ON logs(service);
`

// SQLStore keeps the corpus in a SQLite database.
// Insertion order is the autoincrement seq column, independent of record IDs.
type SQLStore struct {
	insertHooks

	db *sql.DB
	mu sync.Mutex // serializes inserts
}

// OpenSQLStore opens (creating if needed) a SQLite-backed store.
// Use ":memory:" for a throwaway database.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Insert checks the ID and appends rec inside one transaction.
func (s *SQLStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("beginning insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.ID == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM logs`).Scan(&rec.ID); err != nil {
			return Record{}, fmt.Errorf("allocating id: %w", err)
		}
	} else {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM logs WHERE id = ?`, rec.ID).Scan(&one)
		switch {
		case err == nil:
			return Record{}, &DuplicateIDError{ID: rec.ID}
		case !errors.Is(err, sql.ErrNoRows):
			return Record{}, fmt.Errorf("checking id: %w", err)
		}
		var maxID int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM logs`).Scan(&maxID); err != nil {
			return Record{}, fmt.Errorf("reading max id: %w", err)
		}
		if rec.ID <= maxID {
			return Record{}, &OutOfOrderIDError{ID: rec.ID, Max: maxID}
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO logs (id, timestamp, service, severity, raw_log, ai_summary) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.Service, string(rec.Severity), rec.RawMessage, rec.Summary)
	if err != nil {
		return Record{}, fmt.Errorf("inserting record %d: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("committing insert: %w", err)
	}

	s.fire(rec)
	return rec, nil
}

// Snapshot reads every row ordered by insertion.
func (s *SQLStore) Snapshot(ctx context.Context) (Corpus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, service, severity, raw_log, ai_summary FROM logs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var corpus Corpus
	for rows.Next() {
		var (
			rec      Record
			ts       int64
			severity string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Service, &severity, &rec.RawMessage, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		rec.Severity = Severity(severity)
		corpus = append(corpus, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading log rows: %w", err)
	}

	return corpus, nil
}

// Len counts stored rows.
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting logs: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
