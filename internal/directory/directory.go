// Package directory is the client and product registry OrderPipe verifies users against.
//
// The registry usually lives in the distributor's own database (MySQL or PostgreSQL), so it is
// accessed through gorm with the dialector picked from the DSN. A local SQLite file serves
// development and tests.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Gateway resolves phone numbers and tax ids to client identities.
// Not-found lookups return (nil, nil).
type Gateway interface {
	FindClientByPhone(ctx context.Context, phone string) (*models.Client, error)
	FindClientByTaxID(ctx context.Context, vat string) (*models.Client, error)
	GetClientName(ctx context.Context, vat string) (string, error)
	UpdateClientPhone(ctx context.Context, phone, vat string) error
}

// Catalog lists the products orders may reference.
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// Directory implements Gateway and Catalog on a gorm database.
type Directory struct {
	db *gorm.DB
}

var (
	_ Gateway = (*Directory)(nil)
	_ Catalog = (*Directory)(nil)
)

// Dialector returns the gorm dialector for dsn: "mysql://" prefixed or "user@tcp(host)/db"
// strings select MySQL, PostgreSQL URLs and key/value strings select Postgres, anything else
// is a SQLite file path.
func Dialector(dsn string) (gorm.Dialector, string, error) {
	switch {
	case dsn == "":
		return nil, "", fmt.Errorf("directory: DSN not set")
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), "mysql", nil
	case strings.Contains(dsn, "@tcp("):
		return mysql.Open(dsn), "mysql", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return postgres.Open(dsn), "postgres", nil
	default:
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, "", fmt.Errorf("directory: create database directory: %w", err)
			}
		}
		return sqlite.Open(dsn), "sqlite", nil
	}
}

// Open connects to the directory database and migrates the clients and products tables.
func Open(dsn string) (*Directory, error) {
	dialector, kind, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("directory: connect (%s): %w", kind, err)
	}
	slog.Debug("Directory.Open: connected", "driver", kind)
	return New(db)
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Directory, error) {
	if err := db.AutoMigrate(&ClientRecord{}, &ProductRecord{}); err != nil {
		return nil, fmt.Errorf("directory: migrate: %w", err)
	}
	return &Directory{db: db}, nil
}

// Close releases the underlying connection pool.
func (d *Directory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
