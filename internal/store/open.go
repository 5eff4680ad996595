package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoDSN is returned when a SQL store is opened without a DSN.
var ErrNoDSN = errors.New("store: database DSN not set")

// connectTimeout bounds the initial ping and schema migration.
const connectTimeout = 15 * time.Second

// openSQL opens driver/dsn, lets tune adjust the pool, checks the connection
// and applies the embedded schema. The schema is idempotent, so every start
// runs it.
func openSQL(driver, dsn, schema string, tune func(*sql.DB)) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if tune != nil {
		tune(db)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply %s schema: %w", driver, err)
	}
	slog.Debug("openSQL: schema applied", "driver", driver)
	return db, nil
}
