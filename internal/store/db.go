// Package store is the local durable key/value and tabular store: exercise
// set history, nutrition logs, the cached cloud snapshot, the chat log,
// activity analyses, and the predicted-duration cache. Every access goes
// through a single exclusive mutex — callers must never hold it across
// network I/O.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle behind one exclusive lock, matching the
// "shared mutable store -> single owner" design note: all concurrent
// readers and writers route through the same mutex, and hold times must
// stay short.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens the SQLite database at path and configures it for single-writer
// use: WAL journaling, a busy timeout, and foreign keys enabled.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// SQLite is single-writer -- one connection avoids SQLITE_BUSY contention
	// and makes the in-process mutex the sole serialization point.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec %q: %w", p, err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withLock runs fn while holding the store's exclusive lock. fn must
// perform only local database work -- never network I/O -- since every
// other caller blocks on this lock for the duration.
func (s *Store) withLock(fn func(*sql.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.db)
}
