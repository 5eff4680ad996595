// Package messaging delivers outbound replies over the configured transports
// and bridges inbound messages from transports that push events to the process.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// ErrDeliveryFailed is returned when a transport accepted the request but did
// not deliver the message (non-2xx response, non-zero exit status).
var ErrDeliveryFailed = errors.New("message delivery failed")

// ErrNoDispatcher is returned when no dispatcher is registered for a channel.
var ErrNoDispatcher = errors.New("no dispatcher registered for channel")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Dispatcher sends a text message to an address on a single channel.
type Dispatcher interface {
	// Send delivers text to address. Transport faults are returned as errors.
	Send(ctx context.Context, address, text string) error

	// Channel reports which channel this dispatcher serves.
	Channel() models.Channel
}

// Inbound is a message received from a transport that pushes events (linked devices).
type Inbound struct {
	ID      string
	Address string
	Text    string
	Channel models.Channel
}

// InboundHandler receives bridged inbound messages.
type InboundHandler func(ctx context.Context, msg Inbound)

// CanonicalizeAddress strips the transport prefixes and every non-digit
// character from a phone address, so "+40 721-000-111" and
// "whatsapp:+40721000111" both become "40721000111".
func CanonicalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	trimmed = strings.TrimPrefix(trimmed, "whatsapp:")
	if trimmed == "" {
		return "", models.ErrEmptyAddress
	}
	canonical := phoneNumberRegex.ReplaceAllString(trimmed, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in %q", address)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != trimmed {
		slog.Debug("CanonicalizeAddress modified address", "original", address, "canonical", canonical)
	}
	return canonical, nil
}

// SafeSend delivers text through d and reports whether it succeeded. It never
// panics and never returns an error: delivery failures are logged at warn,
// anything else (including a panicking transport) at error.
func SafeSend(ctx context.Context, d Dispatcher, address, text string) (ok bool) {
	if d == nil {
		slog.Error("SafeSend: nil dispatcher", "address", address)
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("SafeSend: dispatcher panicked", "channel", d.Channel(), "address", address, "panic", r)
			ok = false
		}
	}()

	err := d.Send(ctx, address, text)
	switch {
	case err == nil:
		slog.Debug("SafeSend: message sent", "channel", d.Channel(), "address", address, "length", len(text))
		return true
	case errors.Is(err, ErrDeliveryFailed):
		slog.Warn("SafeSend: delivery failed", "channel", d.Channel(), "address", address, "error", err)
	default:
		slog.Error("SafeSend: send error", "channel", d.Channel(), "address", address, "error", err)
	}
	return false
}

// Registry maps each channel to the dispatcher that serves it.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[models.Channel]Dispatcher
}

// NewRegistry builds a registry from the given dispatchers. A later
// dispatcher for the same channel replaces an earlier one.
func NewRegistry(dispatchers ...Dispatcher) *Registry {
	r := &Registry{dispatchers: make(map[models.Channel]Dispatcher)}
	for _, d := range dispatchers {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the dispatcher for d.Channel().
func (r *Registry) Register(d Dispatcher) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[d.Channel()] = d
}

// Get returns the dispatcher for channel.
func (r *Registry) Get(channel models.Channel) (Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDispatcher, channel)
	}
	return d, nil
}

// Send looks up the channel's dispatcher and delivers through SafeSend.
func (r *Registry) Send(ctx context.Context, channel models.Channel, address, text string) bool {
	d, err := r.Get(channel)
	if err != nil {
		slog.Error("Registry.Send: no dispatcher", "channel", channel, "address", address, "error", err)
		return false
	}
	return SafeSend(ctx, d, address, text)
}

// Channels lists the channels that have a dispatcher.
func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.dispatchers))
	for _, c := range models.Channels {
		if _, ok := r.dispatchers[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
