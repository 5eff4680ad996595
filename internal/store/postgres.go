package store

import (
	"database/sql"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Pool limits for PostgreSQL. Webhook goroutines and the sweep share the pool.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore keeps sessions, orders and dedup records in PostgreSQL.
// Read-modify-write session updates take a row lock.
type PostgresStore struct {
	*sqlDB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the DSN given with WithDSN and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	db, err := openSQL("postgres", cfg.DSN, postgresMigrations, func(db *sql.DB) {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	})
	if err != nil {
		slog.Error("NewPostgresStore: open failed", "error", err)
		return nil, err
	}
	slog.Info("NewPostgresStore: bot database ready")
	return &PostgresStore{sqlDB: newSQLDB(db, postgresDialect)}, nil
}
