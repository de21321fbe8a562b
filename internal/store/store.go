// Package store persists extracted email records to SQLite.
//
// Two modes cover the two destinations the pipeline supports: a per-archive
// store staged next to its final path and renamed into place on success, and
// a single shared store that serializes writes from concurrent workers.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000"

// insertChunkRows bounds one multi-VALUES INSERT. Nine parameters per row
// keeps a chunk under SQLite's default 999-parameter limit.
const insertChunkRows = 100

// stagingSuffix is appended to a per-archive store path while it is being
// written. Finalize renames the file to its final path.
const stagingSuffix = ".partial"

// EmailRecord is one row of the emails table. Nullable columns use
// sql.NullString so absent values persist as NULL rather than "".
type EmailRecord struct {
	Subject            sql.NullString
	SenderName         sql.NullString
	SenderEmail        sql.NullString
	RecipientName      sql.NullString
	RecipientEmail     sql.NullString
	AttachmentFilename sql.NullString
	AttachmentType     sql.NullString
	EmailDate          sql.NullString
	SourcePST          string
}

// NullString wraps s for a nullable column: empty persists as NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Store provides access to one destination database.
type Store struct {
	db        *sql.DB
	path      string // database file currently open
	finalPath string // staged stores only: rename target for Finalize
	shared    bool

	mu sync.Mutex // serializes WriteBatch in shared mode
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenShared opens the single run-wide database. WriteBatch calls on the
// returned store are serialized, so workers may share it concurrently.
func OpenShared(path string) (*Store, error) {
	return open(path, true)
}

// OpenStaged opens a per-archive store at finalPath + ".partial". Stale
// staging files from an interrupted run are removed first. The caller ends
// the store's life with either Finalize or Discard.
func OpenStaged(finalPath string) (*Store, error) {
	staging := finalPath + stagingSuffix
	for _, p := range []string{staging, staging + "-wal", staging + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale staging db: %w", err)
		}
	}
	s, err := open(staging, false)
	if err != nil {
		return nil, err
	}
	s.finalPath = finalPath
	return s, nil
}

func open(path string, shared bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: path, shared: shared}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the emails table if it does not exist. Safe to call on
// an already-initialized database.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Path returns the path of the database file currently open.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Finalize closes a staged store and renames it into its final place.
// Finalize itself never removes the staging file; callers that treat a
// failed rename as fatal follow up with Discard.
func (s *Store) Finalize() error {
	if s.finalPath == "" {
		return fmt.Errorf("finalize: store at %s is not staged", s.path)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close staged db: %w", err)
	}
	// os.Rename does not replace an existing file on Windows.
	if err := os.Remove(s.finalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace previous db: %w", err)
	}
	if err := os.Rename(s.path, s.finalPath); err != nil {
		return fmt.Errorf("install db: %w", err)
	}
	return nil
}

// Discard closes a staged store and removes its staging file. Closing errors
// are ignored so cleanup proceeds on cancellation paths.
func (s *Store) Discard() error {
	_ = s.db.Close()
	if s.finalPath == "" {
		return nil
	}
	var firstErr error
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// withTx executes fn within a transaction. If fn returns an error the
// transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WriteBatch inserts records in one transaction, preserving slice order. A
// failed batch rolls back only itself; previously committed batches stay. On
// a shared store calls are serialized, giving single-writer discipline.
func (s *Store) WriteBatch(ctx context.Context, records []EmailRecord) error {
	if len(records) == 0 {
		return nil
	}
	if s.shared {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertRecords(ctx, tx, records)
	})
}

func insertRecords(ctx context.Context, tx *sql.Tx, records []EmailRecord) error {
	const insertPrefix = `INSERT INTO emails
		(subject, sender_name, sender_email, recipient_name, recipient_email,
		 attachment_filename, attachment_type, email_date, source_pst)
		VALUES `

	for i := 0; i < len(records); i += insertChunkRows {
		end := i + insertChunkRows
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*9)
		for j, r := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args,
				r.Subject, r.SenderName, r.SenderEmail,
				r.RecipientName, r.RecipientEmail,
				r.AttachmentFilename, r.AttachmentType,
				r.EmailDate, r.SourcePST)
		}

		query := insertPrefix + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert emails chunk: %w", err)
		}
	}
	return nil
}

// AllRecords returns every row in insertion (id) order.
func (s *Store) AllRecords(ctx context.Context) ([]EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, sender_name, sender_email, recipient_name, recipient_email,
		       attachment_filename, attachment_type, email_date, source_pst
		FROM emails ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var records []EmailRecord
	for rows.Next() {
		var r EmailRecord
		if err := rows.Scan(
			&r.Subject, &r.SenderName, &r.SenderEmail,
			&r.RecipientName, &r.RecipientEmail,
			&r.AttachmentFilename, &r.AttachmentType,
			&r.EmailDate, &r.SourcePST); err != nil {
			return nil, fmt.Errorf("scan email row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SourceCount is the row count for one source archive in a shared store.
type SourceCount struct {
	SourcePST string
	Rows      int64
}

// Stats summarizes a store for the stats command.
type Stats struct {
	TotalRows          int64
	RowsWithAttachment int64
	Sources            []SourceCount
	FileSize           int64
}

// Stats gathers row counts, per-source counts, and the database file size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails`).Scan(&st.TotalRows); err != nil {
		return nil, fmt.Errorf("count emails: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE attachment_filename IS NOT NULL`).Scan(&st.RowsWithAttachment); err != nil {
		return nil, fmt.Errorf("count attachment rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_pst, COUNT(*) FROM emails GROUP BY source_pst ORDER BY source_pst`)
	if err != nil {
		return nil, fmt.Errorf("count rows per source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.SourcePST, &sc.Rows); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		st.Sources = append(st.Sources, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if info, err := os.Stat(s.path); err == nil {
		st.FileSize = info.Size()
	}
	return &st, nil
}
