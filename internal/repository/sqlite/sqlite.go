// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database, it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. Perfect for:
// - Learning database patterns without infrastructure complexity
// - Single-server deployments (which is most apps, honestly)
// - Development and testing (use ":memory:" for in-memory DB)
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo (calls C code from Go), which means you need a C compiler
// installed and cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, no C compiler needed, works everywhere Go works.
//
// DATABASE/SQL OVERVIEW:
// Go's standard library provides "database/sql", a generic interface for SQL databases.
// It works with any database through "drivers" (SQLite, Postgres, MySQL, etc.).
// Key types:
//   - sql.DB      : a connection pool (NOT a single connection!)
//   - sql.Tx      : a transaction
//   - sql.Row     : a single result row
//   - sql.Rows    : multiple result rows (must be closed!)
//
// The pattern is always:
//  1. sql.Open(driverName, dataSourceName) → creates a pool
//  2. db.QueryContext / db.ExecContext     → runs queries
//  3. rows.Scan(&field1, &field2)          → reads results into Go variables
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// BLANK IMPORT:
	// The underscore import `_ "modernc.org/sqlite"` is a "side-effect only" import.
	// It doesn't give us any symbols to use directly. Instead, the sqlite package's
	// init() function registers itself with database/sql as a driver named "sqlite".
	// After this import, sql.Open("sqlite", ...) knows how to talk to SQLite.
	//
	// This is Go's plugin pattern, database drivers register themselves at init time.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
//
// WHY WRAP sql.DB IN A STRUCT?
// 1. We can attach methods to it (Create, GetByID, etc.)
// 2. We can add more fields later (logger, config, prepared statements)
// 3. It implements NotebookRepository and RunRepository from repository.go
// 4. We control the lifecycle (New creates it, Close destroys it)
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/notebooks.db"   → file-based database (persistent)
//   - ":memory:"            → in-memory database (great for tests, lost on close)
//
// CONNECTION POOL:
// sql.Open() does NOT actually open a connection, it just creates a pool manager.
// The first real connection happens when you run your first query.
// We call db.Ping() to force an immediate connection and verify it works.
func New(dbPath string) (*DB, error) {
	// Open a connection pool to the SQLite database.
	// "sqlite" is the driver name registered by the blank import above.
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a brand-new empty database, so
	// in-memory databases must stay on a single connection.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// Ping verifies the connection actually works.
	// Without this, a bad path or permissions issue would only surface
	// on the first query, which is much harder to debug.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// PRAGMA STATEMENTS:
	// SQLite has special "PRAGMA" commands that configure its behaviour.
	// These run once at connection time.

	// WAL (Write-Ahead Logging) mode:
	// Default SQLite locks the entire database during writes.
	// WAL mode allows concurrent reads WHILE a write is happening.
	// This is critical for a web server where multiple requests hit the DB.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite (for backwards compatibility).
	// Deleting a notebook relies on them to cascade to its cells.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	// Run database migrations to create/update tables
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate runs all database migrations.
//
// MIGRATIONS IN PRODUCTION:
// For a project this size, embedding SQL as string constants is fine.
// CREATE TABLE IF NOT EXISTS is safe to run on every start.
func (db *DB) migrate() error {
	// notebooks: session_id is fixed at creation and survives resets.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS notebooks (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			session_id  TEXT NOT NULL UNIQUE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notebooks_created_at ON notebooks(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating notebooks table: %w", err)
	}

	// cells belong to exactly one notebook and go away with it.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS cells (
			id          TEXT PRIMARY KEY,
			notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
			position    INTEGER NOT NULL,
			type        TEXT NOT NULL DEFAULT 'code',
			source      TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_cells_notebook ON cells(notebook_id, position);
	`)
	if err != nil {
		return fmt.Errorf("creating cells table: %w", err)
	}

	// runs is append-only history and outlives deleted notebooks, so
	// notebook_id is not a foreign key.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			surface_id  TEXT NOT NULL,
			notebook_id TEXT NOT NULL DEFAULT '',
			session_id  TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			elapsed_ms  INTEGER NOT NULL DEFAULT 0,
			artifacts   INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
		CREATE INDEX IF NOT EXISTS idx_runs_notebook ON runs(notebook_id);
	`)
	if err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}

	// owner_id arrived with token auth; older databases lack it.
	if err := db.addColumnIfNotExists("notebooks", "owner_id",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding owner_id to notebooks: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notebooks_owner_id ON notebooks(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("creating notebooks owner_id index: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, safe to run multiple times.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
