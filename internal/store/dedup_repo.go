package store

import (
	"context"
	"time"
)

// InboundRecord is one row of the inbound_dedup table.
type InboundRecord struct {
	MessageID   string     `json:"message_id"`
	SessionKey  string     `json:"session_key"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DedupRepo remembers provider message ids. WhatsApp and Twilio redeliver
// webhooks they think went unanswered.
type DedupRepo interface {
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound reports false when messageID was seen before.
	RecordInbound(ctx context.Context, messageID, sessionKey string) (bool, error)

	MarkProcessed(ctx context.Context, messageID string) error
}
