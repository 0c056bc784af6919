package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New opens the archive at dbPath, creating the file and schema when missing.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS log_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp REAL NOT NULL,
		model TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id INTEGER NOT NULL,
		class TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		x1 INTEGER DEFAULT 0,
		y1 INTEGER DEFAULT 0,
		x2 INTEGER DEFAULT 0,
		y2 INTEGER DEFAULT 0,
		FOREIGN KEY (entry_id) REFERENCES log_entries(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_detections_entry_id ON detections(entry_id);
	CREATE INDEX IF NOT EXISTS idx_detections_class ON detections(class);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Lock()    { db.mu.Lock() }
func (db *DB) Unlock()  { db.mu.Unlock() }
func (db *DB) RLock()   { db.mu.RLock() }
func (db *DB) RUnlock() { db.mu.RUnlock() }
