package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jwulff/callnotes/internal/segment"

	_ "modernc.org/sqlite"
)

// DefaultDSN keeps the database in memory for the lifetime of the process.
const DefaultDSN = ":memory:"

const schema = `
	CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		createdAt REAL NOT NULL,
		elapsedMs INTEGER NOT NULL,
		flushTrigger TEXT NOT NULL
	);
`

// Store is a NoteStore backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the notes database at dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Prepend inserts n. Ordering comes from the autoincrement id, so insertion
// order wins over clock skew in CreatedAt.
func (s *Store) Prepend(n segment.Note) error {
	_, err := s.db.Exec(`
		INSERT INTO notes (content, createdAt, elapsedMs, flushTrigger)
		VALUES (?, ?, ?, ?)
	`, n.Content, timeToUnix(n.CreatedAt), n.Elapsed.Milliseconds(), string(n.Trigger))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// Notes returns all notes, newest first.
func (s *Store) Notes() ([]segment.Note, error) {
	rows, err := s.db.Query(`
		SELECT content, createdAt, elapsedMs, flushTrigger
		FROM notes
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []segment.Note
	for rows.Next() {
		var n segment.Note
		var createdAt float64
		var elapsedMs int64
		var trigger string
		if err := rows.Scan(&n.Content, &createdAt, &elapsedMs, &trigger); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt = timeFromUnix(createdAt)
		n.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		n.Trigger = segment.Trigger(trigger)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Count returns the number of stored notes.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
