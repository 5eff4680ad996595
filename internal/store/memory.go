package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store used by tests and the mock mode.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	orders   map[string]*models.Order
	dedup    map[string]*InboundRecord
	now      func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		orders:   make(map[string]*models.Order),
		dedup:    make(map[string]*InboundRecord),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// cloneSession deep-copies a session so callers never alias stored state.
func cloneSession(sess *models.Session) *models.Session {
	c := *sess
	if sess.PendingOrder != nil {
		b, _ := json.Marshal(sess.PendingOrder)
		var p models.OrderProposal
		_ = json.Unmarshal(b, &p)
		c.PendingOrder = &p
	}
	return &c
}

func (s *InMemoryStore) GetOrCreate(ctx context.Context, key, address string, channel models.Channel) (*models.Session, error) {
	if address == "" {
		return nil, models.ErrEmptyAddress
	}
	if !channel.IsValid() {
		return nil, models.ErrInvalidChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if sess, ok := s.sessions[key]; ok {
		sess.LastActivityAt = now
		sess.ReminderSent = false
		return cloneSession(sess), nil
	}
	sess := &models.Session{
		ID:             uuid.NewString(),
		Key:            key,
		Address:        address,
		Channel:        channel,
		State:          models.StateStart,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	s.sessions[key] = sess
	return cloneSession(sess), nil
}

func (s *InMemoryStore) Update(ctx context.Context, key string, update models.SessionUpdate) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	update.Apply(sess, s.now())
	return cloneSession(sess), nil
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *InMemoryStore) FindIdle(ctx context.Context, olderThan time.Time, filter IdleFilter) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if !sess.LastActivityAt.Before(olderThan) {
			continue
		}
		if filter.Channel != "" && sess.Channel != filter.Channel {
			continue
		}
		if filter.ReminderSent != nil && sess.ReminderSent != *filter.ReminderSent {
			continue
		}
		if !filter.NotOlderThan.IsZero() && sess.LastActivityAt.Before(filter.NotOlderThan) {
			continue
		}
		out = append(out, *cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

// Touch sets a session's last activity time directly. Tests use it to age sessions.
func (s *InMemoryStore) Touch(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		sess.LastActivityAt = at
	}
}

func (s *InMemoryStore) CreateOrder(ctx context.Context, o models.NewOrder) (*models.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.orders[order.ID] = order
	c := *order
	return &c, nil
}

func (s *InMemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (s *InMemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if filter.ClientID != "" && o.ClientID != filter.ClientID {
			continue
		}
		if filter.Channel != "" && o.Channel != filter.Channel {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	if !status.IsValid() {
		return models.ErrInvalidOrderStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, sessionKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &InboundRecord{MessageID: messageID, SessionKey: sessionKey, ReceivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := s.now()
		rec.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
