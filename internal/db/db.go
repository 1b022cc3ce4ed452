// Package db provides the SQLite persistence layer for dsync: datasets,
// records, per-dataset sync counters, identity rekeying, and multi-process
// locking. All mutating operations run in a single transaction.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/dsync/internal/syncerr"
	_ "modernc.org/sqlite"
)

const dbFile = "dsync.db"

// Store wraps the database connection.
type Store struct {
	conn    *sql.DB
	baseDir string // empty for in-memory test stores; disables the file lock
}

// openConn opens a SQLite connection with safe defaults for multi-process access.
func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Pin to a single connection — SQLite only supports one writer, and this
	// prevents the pool from opening extra connections that could corrupt the
	// WAL/SHM files under concurrent multi-process access.
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout for multi-process contention
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Open opens (creating if necessary) the dsync database under baseDir.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := openConn(filepath.Join(baseDir, dbFile))
	if err != nil {
		return nil, err
	}
	if err := Init(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Store{conn: conn, baseDir: baseDir}, nil
}

// New wraps an already-open connection. Used by tests running against
// in-memory databases; the cross-process file lock is disabled.
func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Close closes the database connection.
// It performs a TRUNCATE checkpoint first to flush the WAL back into the
// main DB file and remove the -wal/-shm files, so another process can open
// the database cleanly later.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB connection.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// withTx runs fn inside a transaction under the write lock. Any error rolls
// the transaction back and surfaces as a storage error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return syncerr.Storage(err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return syncerr.Storage(err)
		}
		if err := tx.Commit(); err != nil {
			return syncerr.Storage(err)
		}
		return nil
	})
}

// withWriteLock executes fn while holding the cross-process write lock.
// In-memory stores have no base directory and skip the lock.
func (s *Store) withWriteLock(fn func() error) error {
	if s.baseDir == "" {
		return fn()
	}
	locker := newWriteLocker(s.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return syncerr.Storage(err)
	}
	defer locker.release()
	return fn()
}
