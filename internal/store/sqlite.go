package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used for the database and backup directories.
const DefaultDirPermissions = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps sessions, orders and dedup records in one SQLite file.
type SQLiteStore struct {
	*sqlDB
}

var _ Store = (*SQLiteStore)(nil)

// sqlitePath extracts the file path from a plain path or file: URI DSN.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// NewSQLiteStore opens the database file given with WithDSN, creating its
// directory when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if path := sqlitePath(cfg.DSN); path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := openSQL("sqlite3", cfg.DSN, sqliteMigrations, func(db *sql.DB) {
		// one connection serializes writers, so the webhook goroutines and the
		// sweep never see SQLITE_BUSY
		db.SetMaxOpenConns(1)
	})
	if err != nil {
		slog.Error("NewSQLiteStore: open failed", "error", err)
		return nil, err
	}
	slog.Info("NewSQLiteStore: bot database ready", "path", sqlitePath(cfg.DSN))
	return &SQLiteStore{sqlDB: newSQLDB(db, sqliteDialect)}, nil
}

// Backup writes a consistent snapshot to dest with VACUUM INTO. dest must not exist.
func (s *SQLiteStore) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("store: backup destination %s already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), DefaultDirPermissions); err != nil {
		return fmt.Errorf("store: create backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		slog.Error("SQLiteStore.Backup: vacuum failed", "dest", dest, "error", err)
		return fmt.Errorf("store: back up database: %w", err)
	}
	slog.Info("SQLiteStore.Backup: snapshot written", "dest", dest)
	return nil
}
