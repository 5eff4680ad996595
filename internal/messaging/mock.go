package messaging

import (
	"context"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// SentMessage is a message recorded by MockDispatcher.
type SentMessage struct {
	To   string
	Body string
}

// MockDispatcher records messages instead of delivering them. Set Err to make
// every Send fail, or Panic to make it panic.
type MockDispatcher struct {
	mu      sync.Mutex
	channel models.Channel
	sent    []SentMessage

	Err   error
	Panic bool
}

// NewMockDispatcher returns a mock for channel.
func NewMockDispatcher(channel models.Channel) *MockDispatcher {
	return &MockDispatcher{channel: channel}
}

// Channel implements Dispatcher.
func (m *MockDispatcher) Channel() models.Channel { return m.channel }

// Send implements Dispatcher.
func (m *MockDispatcher) Send(ctx context.Context, address, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Panic {
		panic("mock dispatcher panic")
	}
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: address, Body: text})
	return nil
}

// SentMessages returns a copy of everything sent so far.
func (m *MockDispatcher) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// SentTo returns the bodies sent to address, in order.
func (m *MockDispatcher) SentTo(address string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == address {
			out = append(out, s.Body)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (m *MockDispatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
