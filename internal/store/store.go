// Package store provides storage backends for OrderPipe.
//
// It holds the conversation sessions, the confirmed orders and the inbound message
// deduplication records. SQLite and PostgreSQL backends share one SQL implementation;
// an in-memory store backs the tests.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// SessionStore is durable keyed storage for conversation sessions.
type SessionStore interface {
	// GetOrCreate returns the session for key, creating it in the start state when absent.
	// An existing session has its activity timestamp refreshed.
	GetOrCreate(ctx context.Context, key, address string, channel models.Channel) (*models.Session, error)
	// Update applies a partial update. Returns models.ErrSessionNotFound if the session is absent.
	Update(ctx context.Context, key string, update models.SessionUpdate) (*models.Session, error)
	// Get returns the session for key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) (*models.Session, error)
	// Delete removes the session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, key string) error
	// FindIdle returns sessions whose last activity is older than olderThan.
	FindIdle(ctx context.Context, olderThan time.Time, filter IdleFilter) ([]models.Session, error)
}

// IdleFilter narrows an idle-session query.
type IdleFilter struct {
	// Channel restricts the query to one channel when set.
	Channel models.Channel
	// ReminderSent restricts the query to sessions with the given reminder flag when set.
	ReminderSent *bool
	// NotOlderThan excludes sessions whose last activity is before this instant when non-zero.
	NotOlderThan time.Time
}

// OrderStore persists confirmed orders.
type OrderStore interface {
	// CreateOrder stores a new pending order. It does not deduplicate repeated requests.
	CreateOrder(ctx context.Context, o models.NewOrder) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
}

// OrderFilter narrows an order listing. Zero values match everything.
type OrderFilter struct {
	ClientID string
	Channel  models.Channel
	Status   models.OrderStatus
	Limit    int
}

// Store is the full persistence surface used by the service.
type Store interface {
	SessionStore
	OrderStore
	DedupRepo
	Close() error
}

// Opts holds configuration options for SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL-backed stores.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the SQL store matching the DSN type.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithDSN(dsn))
	}
	return NewSQLiteStore(WithDSN(dsn))
}
