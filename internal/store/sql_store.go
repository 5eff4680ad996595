package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/google/uuid"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name       string
	dollarArgs bool   // $1 placeholders instead of ?
	forUpdate  string // row lock suffix for read-modify-write selects
}

var (
	sqliteDialect   = dialect{name: "sqlite3"}
	postgresDialect = dialect{name: "postgres", dollarArgs: true, forUpdate: " FOR UPDATE"}
)

// sqlDB implements SessionStore, OrderStore and DedupRepo on database/sql.
type sqlDB struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLDB(db *sql.DB, d dialect) *sqlDB {
	return &sqlDB{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// rebind rewrites ? placeholders for the backend.
func (s *sqlDB) rebind(query string) string {
	if !s.dialect.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Close closes the database connection.
func (s *sqlDB) Close() error {
	slog.Debug("Store.Close: closing database", "driver", s.dialect.name)
	return s.db.Close()
}

const sessionColumns = `id, session_key, address, channel, state, client_id, pending_order, last_activity_at, reminder_sent, created_at`

func (s *sqlDB) GetOrCreate(ctx context.Context, key, address string, channel models.Channel) (*models.Session, error) {
	if address == "" {
		return nil, models.ErrEmptyAddress
	}
	if !channel.IsValid() {
		return nil, models.ErrInvalidChannel
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (id, session_key, address, channel, state, last_activity_at, reminder_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET last_activity_at = excluded.last_activity_at, reminder_sent = excluded.reminder_sent`),
		uuid.NewString(), key, address, string(channel), string(models.StateStart), now, false, now,
	)
	if err != nil {
		slog.Error("Store.GetOrCreate: upsert failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to upsert session %s: %w", key, err)
	}
	sess, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s vanished after upsert: %w", key, models.ErrSessionNotFound)
	}
	slog.Debug("Store.GetOrCreate: session ready", "key", key, "state", sess.State)
	return sess, nil
}

func (s *sqlDB) Get(ctx context.Context, key string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE session_key = ?`), key)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Store.Get: query failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return sess, nil
}

func (s *sqlDB) Update(ctx context.Context, key string, update models.SessionUpdate) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin session update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE session_key = ?`+s.dialect.forUpdate), key)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", key, err)
	}

	update.Apply(sess, s.now())

	pending, err := marshalNullable(sess.PendingOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending order: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE sessions SET state = ?, client_id = ?, pending_order = ?, last_activity_at = ?, reminder_sent = ?
		WHERE session_key = ?`),
		string(sess.State), nilIfEmpty(sess.ClientID), pending, sess.LastActivityAt, sess.ReminderSent, key,
	)
	if err != nil {
		slog.Error("Store.Update: write failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to update session %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session update: %w", err)
	}
	slog.Debug("Store.Update: session updated", "key", key, "state", sess.State, "pending", sess.PendingOrder != nil)
	return sess, nil
}

func (s *sqlDB) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE session_key = ?`), key)
	if err != nil {
		slog.Error("Store.Delete: delete failed", "key", key, "error", err)
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("Store.Delete: session deleted", "key", key, "rows", n)
	return nil
}

func (s *sqlDB) FindIdle(ctx context.Context, olderThan time.Time, filter IdleFilter) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE last_activity_at < ?`
	args := []interface{}{olderThan.UTC()}
	if filter.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(filter.Channel))
	}
	if filter.ReminderSent != nil {
		query += ` AND reminder_sent = ?`
		args = append(args, *filter.ReminderSent)
	}
	if !filter.NotOlderThan.IsZero() {
		query += ` AND last_activity_at >= ?`
		args = append(args, filter.NotOlderThan.UTC())
	}
	query += ` ORDER BY last_activity_at`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		slog.Error("Store.FindIdle: query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan idle session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate idle sessions: %w", err)
	}
	slog.Debug("Store.FindIdle: query complete", "channel", filter.Channel, "count", len(sessions))
	return sessions, nil
}

const orderColumns = `id, order_text, client_id, channel, status, items, total, summary, ai_processed, created_at, updated_at`

func (s *sqlDB) CreateOrder(ctx context.Context, o models.NewOrder) (*models.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	order := &models.Order{
		ID:          uuid.NewString(),
		OrderText:   o.OrderText,
		ClientID:    o.ClientID,
		Channel:     o.Channel,
		Status:      models.OrderStatusPending,
		Items:       append([]models.ValidatedItem(nil), o.Items...),
		Total:       models.ItemsTotal(o.Items),
		Summary:     o.Summary,
		AIProcessed: o.AIProcessed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	items, err := marshalNullable(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.OrderText, order.ClientID, string(order.Channel), string(order.Status), items,
		order.Total, nilIfEmpty(order.Summary), order.AIProcessed, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		slog.Error("Store.CreateOrder: insert failed", "client_id", o.ClientID, "error", err)
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	slog.Info("Store.CreateOrder: order created", "order_id", order.ID, "client_id", order.ClientID, "items", len(order.Items), "total", order.Total)
	return order, nil
}

func (s *sqlDB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return o, nil
}

func (s *sqlDB) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []interface{}
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	if filter.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(filter.Channel))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *sqlDB) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	if !status.IsValid() {
		return models.ErrInvalidOrderStatus
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`), string(status), s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrOrderNotFound
	}
	slog.Info("Store.UpdateOrderStatus: status changed", "order_id", id, "status", status)
	return nil
}

func (s *sqlDB) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`), messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *sqlDB) RecordInbound(ctx context.Context, messageID, sessionKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO inbound_dedup (message_id, session_key, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, sessionKey, s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqlDB) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`), s.now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
