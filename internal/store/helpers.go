package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalNullable encodes v as JSON text, or nil for nil pointers and empty slices.
func marshalNullable(v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		if rv.IsNil() || (rv.Kind() != reflect.Ptr && rv.Len() == 0) {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var channel, state string
	var clientID, pending sql.NullString
	err := row.Scan(
		&sess.ID, &sess.Key, &sess.Address, &channel, &state, &clientID, &pending,
		&sess.LastActivityAt, &sess.ReminderSent, &sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.Channel = models.Channel(channel)
	sess.State = models.ConversationState(state)
	sess.ClientID = clientID.String
	if pending.Valid && pending.String != "" {
		var p models.OrderProposal
		if err := json.Unmarshal([]byte(pending.String), &p); err != nil {
			return nil, fmt.Errorf("corrupt pending order for session %s: %w", sess.Key, err)
		}
		sess.PendingOrder = &p
	}
	return &sess, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var channel, status string
	var items, summary sql.NullString
	err := row.Scan(
		&o.ID, &o.OrderText, &o.ClientID, &channel, &status, &items, &o.Total, &summary,
		&o.AIProcessed, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Channel = models.Channel(channel)
	o.Status = models.OrderStatus(status)
	o.Summary = summary.String
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &o.Items); err != nil {
			return nil, fmt.Errorf("corrupt items for order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}
