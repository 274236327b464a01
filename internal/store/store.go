package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cadence/internal/snapshot"
)

//go:embed schema.sql
var schemaSQL string

// layoutVersion is stamped into PRAGMA user_version. It names the table
// layout of schema.sql; 0 means the file has never been stamped.
const layoutVersion = 1

// ErrNewerLayout is returned by Open for a database stamped by a newer build.
var ErrNewerLayout = errors.New("database layout is newer than this build")

// connParams are applied by the driver to every pooled connection.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
}

// Store keeps snapshot history in SQLite, one row per write.
type Store struct {
	db *sql.DB
}

var _ snapshot.Sink = (*Store)(nil)

// Open opens or creates the database at path and makes sure the snapshot
// table exists. Opening the same path again is harmless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer at a time is all SQLite allows anyway.
	db.SetMaxOpenConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// prepare checks the layout stamp before touching any table, so a newer
// database is left exactly as it was found.
func prepare(db *sql.DB) error {
	var stamp int
	if err := db.QueryRow("PRAGMA user_version").Scan(&stamp); err != nil {
		return fmt.Errorf("read layout stamp: %w", err)
	}
	if stamp > layoutVersion {
		return fmt.Errorf("%w: stamped %d, supported %d", ErrNewerLayout, stamp, layoutVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if stamp == layoutVersion {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", layoutVersion)); err != nil {
		return fmt.Errorf("write layout stamp: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Backend is a snapshot sink owned by a command for its lifetime.
type Backend interface {
	snapshot.Sink
	Close() error
}

// OpenBackend opens a FileSink for a path ending in ".json" and a SQLite
// Store for anything else.
func OpenBackend(path string) (Backend, error) {
	if IsFilePath(path) {
		return NewFileSink(path), nil
	}
	return Open(path)
}

// IsFilePath reports whether OpenBackend would use a FileSink for path.
func IsFilePath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// pragma returns the current value of a pragma on the pooled connection.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
