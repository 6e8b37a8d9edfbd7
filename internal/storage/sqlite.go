package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const lastQueryKey = "last_query"

// OpenSQLite opens the snapshot database, enabling WAL mode and creating
// the schema when missing.
func OpenSQLite(dataSourceName string) (*sql.DB, error) {
	dir := filepath.Dir(dataSourceName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to snapshot database: %w", err)
	}

	// WAL lets the reading view not block writes from the submit path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
	}
	return db, nil
}

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a SnapshotStore backed by a SQLite database.
func NewSQLiteStore(db *sql.DB) SnapshotStore {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) SaveLastQuery(ctx context.Context, text string) error {
	query := `
		INSERT INTO snapshots (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := s.db.ExecContext(ctx, query, lastQueryKey, text)
	return err
}

func (s *sqliteStore) LastQuery(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, "SELECT value FROM snapshots WHERE key = ?", lastQueryKey)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
