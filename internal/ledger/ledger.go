// Package ledger persists the at-most-once notification record set. The
// store is a flat mapping from event ID to notification record; a missing
// or unreadable store is equivalent to "no incidents notified yet".
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/callout/internal/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS notified_events (
		event_id TEXT PRIMARY KEY,
		notified_at DATETIME NOT NULL,
		severity TEXT NOT NULL,
		hostname TEXT NOT NULL,
		problem TEXT NOT NULL
	);
`

// Store is a SQLite-backed dedup ledger.
type Store struct {
	path string
	db   *sql.DB
}

// NewStore creates a ledger store for the given database path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Open initializes the database connection and schema. An unusable
// store file is set aside and the ledger starts empty: losing the dedup
// history re-notifies old incidents, refusing to start notifies nobody.
func (s *Store) Open() error {
	db, err := openAt(s.path)
	if err == nil {
		s.db = db
		return nil
	}
	if s.path == ":memory:" {
		return err
	}

	quarantine := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102150405"))
	log.Printf("[ledger] unusable store, moving to %s and starting empty: %v", quarantine, err)
	if renameErr := os.Rename(s.path, quarantine); renameErr != nil {
		return fmt.Errorf("quarantine ledger database: %w", renameErr)
	}
	os.Remove(s.path + "-wal")
	os.Remove(s.path + "-shm")

	db, err = openAt(s.path)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// openAt opens and initializes one database file.
func openAt(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	// SQLite is single-writer; the orchestrator is the only writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads the full mapping of notified events. A missing, empty, or
// unreadable store yields an empty mapping; the anomaly is logged, never
// surfaced, so a cycle can always start.
func (s *Store) Load(ctx context.Context) map[string]models.NotificationRecord {
	records := make(map[string]models.NotificationRecord)

	if s.db == nil {
		log.Printf("[ledger] store not open, starting with empty ledger")
		return records
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, notified_at, severity, hostname, problem FROM notified_events`)
	if err != nil {
		log.Printf("[ledger] load failed, starting with empty ledger: %v", err)
		return records
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.NotificationRecord
		var notifiedAt string
		if err := rows.Scan(&rec.EventID, &notifiedAt, &rec.Severity, &rec.Hostname, &rec.Problem); err != nil {
			log.Printf("[ledger] skipping unreadable record: %v", err)
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, notifiedAt)
		if err != nil {
			log.Printf("[ledger] skipping record %s with bad timestamp %q", rec.EventID, notifiedAt)
			continue
		}
		rec.NotifiedAt = ts
		records[rec.EventID] = rec
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ledger] load interrupted: %v", err)
	}

	return records
}

// Save rewrites the full mapping in a single transaction. A crash between
// Load and Save loses at most the current cycle's new records; those
// incidents are re-evaluated next cycle.
func (s *Store) Save(ctx context.Context, records map[string]models.NotificationRecord) error {
	if s.db == nil {
		return fmt.Errorf("ledger store not open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger rewrite: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notified_events`); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO notified_events (event_id, notified_at, severity, hostname, problem)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.EventID, rec.NotifiedAt.Format(time.RFC3339Nano),
			rec.Severity, rec.Hostname, rec.Problem)
		if err != nil {
			return fmt.Errorf("insert ledger record %s: %w", rec.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger rewrite: %w", err)
	}
	return nil
}

// Len returns the number of persisted records, for reporting.
func (s *Store) Len(ctx context.Context) int {
	if s.db == nil {
		return 0
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notified_events`).Scan(&n); err != nil {
		return 0
	}
	return n
}
