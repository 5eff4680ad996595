// Package conversation implements the per-user ordering conversation.
//
// Every inbound message for an (address, channel) pair is handled under a
// per-key lock: the session is loaded from the store, the state machine
// decides the transition, the new state is persisted and replies are sent.
// Any fault escaping the state machine is caught by a recovery envelope that
// apologises to the user and drops the session. A periodic sweep reminds and
// then expires idle sessions.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/config"
	"github.com/BTreeMap/OrderPipe/internal/directory"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/order"
	"github.com/BTreeMap/OrderPipe/internal/scheduler"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

const (
	// DefaultReminderAfter is the idle time after which a reminder is sent.
	DefaultReminderAfter = 30 * time.Minute
	// DefaultExpireAfter is the idle time after which a session is deleted.
	DefaultExpireAfter = 60 * time.Minute
	// DefaultSweepInterval is how often the idle sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Outbox delivers replies on a channel. messaging.Registry implements it.
// Send never fails loudly: it reports whether the message went out.
type Outbox interface {
	Send(ctx context.Context, channel models.Channel, address, text string) bool
	Channels() []models.Channel
}

// Deps are the collaborators the engine orchestrates.
type Deps struct {
	Sessions  store.SessionStore
	Orders    store.OrderStore
	Gateway   directory.Gateway
	Catalog   directory.Catalog
	Parser    order.Parser
	Validator order.Validator
	Outbox    Outbox
}

func (d Deps) validate() error {
	switch {
	case d.Sessions == nil:
		return errors.New("conversation: session store is required")
	case d.Orders == nil:
		return errors.New("conversation: order store is required")
	case d.Gateway == nil:
		return errors.New("conversation: verification gateway is required")
	case d.Catalog == nil:
		return errors.New("conversation: catalog is required")
	case d.Parser == nil:
		return errors.New("conversation: order parser is required")
	case d.Outbox == nil:
		return errors.New("conversation: outbox is required")
	}
	return nil
}

// Opts holds engine tuning.
type Opts struct {
	ReminderAfter   time.Duration
	ExpireAfter     time.Duration
	ReminderMessage string
	ExpiryMessage   string
	Now             func() time.Time
	Scheduler       *scheduler.Scheduler
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithReminderAfter sets the idle time before a reminder.
func WithReminderAfter(d time.Duration) Option {
	return func(o *Opts) { o.ReminderAfter = d }
}

// WithExpireAfter sets the idle time before a session is deleted.
func WithExpireAfter(d time.Duration) Option {
	return func(o *Opts) { o.ExpireAfter = d }
}

// WithReminderMessage overrides the reminder text.
func WithReminderMessage(s string) Option {
	return func(o *Opts) { o.ReminderMessage = s }
}

// WithExpiryMessage overrides the expiry text.
func WithExpiryMessage(s string) Option {
	return func(o *Opts) { o.ExpiryMessage = s }
}

// WithClock replaces time.Now for the sweep cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithScheduler runs the idle sweep on an existing scheduler instead of a private one.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *Opts) { o.Scheduler = s }
}

// Engine owns the conversation state machine.
type Engine struct {
	sessions  store.SessionStore
	orders    store.OrderStore
	gateway   directory.Gateway
	catalog   directory.Catalog
	parser    order.Parser
	validator order.Validator
	outbox    Outbox

	reminderAfter   time.Duration
	expireAfter     time.Duration
	reminderMessage string
	expiryMessage   string
	now             func() time.Time
	sched           *scheduler.Scheduler

	locks *keyedMutex
}

// NewEngine wires the engine. The validator defaults to order.CatalogValidator.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := Opts{
		ReminderAfter:   DefaultReminderAfter,
		ExpireAfter:     DefaultExpireAfter,
		ReminderMessage: config.DefaultReminderMessage,
		ExpiryMessage:   config.DefaultExpiryMessage,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ReminderAfter <= 0 || cfg.ReminderAfter >= cfg.ExpireAfter {
		return nil, fmt.Errorf("conversation: reminder threshold %s must be positive and below expiry threshold %s", cfg.ReminderAfter, cfg.ExpireAfter)
	}
	if deps.Validator == nil {
		deps.Validator = order.CatalogValidator{}
	}

	return &Engine{
		sessions:        deps.Sessions,
		orders:          deps.Orders,
		gateway:         deps.Gateway,
		catalog:         deps.Catalog,
		parser:          deps.Parser,
		validator:       deps.Validator,
		outbox:          deps.Outbox,
		reminderAfter:   cfg.ReminderAfter,
		expireAfter:     cfg.ExpireAfter,
		reminderMessage: cfg.ReminderMessage,
		expiryMessage:   cfg.ExpiryMessage,
		now:             cfg.Now,
		sched:           cfg.Scheduler,
		locks:           newKeyedMutex(),
	}, nil
}

// HandleInboundMessage runs one state transition for the sender. It never
// returns an error: faults are logged, the user gets an apology and the
// session is dropped so the next message starts over.
func (e *Engine) HandleInboundMessage(ctx context.Context, address, text string, channel models.Channel) {
	if !channel.IsValid() {
		slog.Error("Engine.HandleInboundMessage: invalid channel", "channel", channel, "address", address)
		return
	}
	if address == "" {
		slog.Error("Engine.HandleInboundMessage: empty address", "channel", channel)
		return
	}

	key := models.SessionKey(address, channel)
	unlock := e.locks.Lock(key)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			e.handleFault(ctx, key, address, channel, fmt.Errorf("panic: %v", r))
		}
	}()

	slog.Debug("Engine.HandleInboundMessage: received", "key", key, "text", text)
	if err := e.transition(ctx, key, address, text, channel); err != nil {
		e.handleFault(ctx, key, address, channel, err)
	}
}

// handleFault is the recovery envelope: apologise, then drop the session.
// A fault during cleanup is logged and swallowed.
func (e *Engine) handleFault(ctx context.Context, key, address string, channel models.Channel, cause error) {
	slog.Error("Engine: error handling user interaction", "key", key, "error", cause)
	e.reply(ctx, channel, address, msgProcessingError)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine: panic while deleting session after fault", "key", key, "panic", r)
		}
	}()
	if err := e.sessions.Delete(ctx, key); err != nil {
		slog.Error("Engine: failed to delete session after fault", "key", key, "error", err)
	}
}

// reply sends text and only logs the outcome.
func (e *Engine) reply(ctx context.Context, channel models.Channel, address, text string) {
	if !e.outbox.Send(ctx, channel, address, text) {
		slog.Warn("Engine.reply: message not delivered", "channel", channel, "address", address)
	}
}
