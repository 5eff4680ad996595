package models

import (
	"time"
)

// ConversationState is a state of the per-user ordering conversation.
type ConversationState string

const (
	// StateStart is the initial state; the user must send the start command.
	StateStart ConversationState = "start"
	// StateAwaitingVat waits for a tax id after the phone number was not recognised.
	StateAwaitingVat ConversationState = "awaitingVat"
	// StateVerified accepts free-text orders from an identified client.
	StateVerified ConversationState = "verified"
	// StateAwaitingConfirmation holds a pending order until the user answers yes or no.
	StateAwaitingConfirmation ConversationState = "awaitingConfirmation"
)

// SessionKey builds the composite lookup and lock key for an (address, channel) pair.
func SessionKey(address string, channel Channel) string {
	return address + "-" + string(channel)
}

// Session is the durable conversation state of one user on one channel.
type Session struct {
	ID             string            `json:"id"`
	Key            string            `json:"key"`
	Address        string            `json:"address"`
	Channel        Channel           `json:"channel"`
	State          ConversationState `json:"state"`
	ClientID       string            `json:"client_id,omitempty"`
	PendingOrder   *OrderProposal    `json:"pending_order,omitempty"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ReminderSent   bool              `json:"reminder_sent"`
	CreatedAt      time.Time         `json:"created_at"`
}

// HasClient reports whether verification has bound a client to the session.
func (s *Session) HasClient() bool {
	return s != nil && s.ClientID != ""
}

// SessionUpdate is a partial update applied to a stored session.
// Nil fields are left untouched.
type SessionUpdate struct {
	State             *ConversationState
	ClientID          *string
	PendingOrder      *OrderProposal
	ClearPendingOrder bool
	ReminderSent      *bool
	// Touch moves LastActivityAt to the time of the update.
	Touch bool
}

// Apply mutates s according to the update. It keeps the pending order consistent with the
// state: only awaitingConfirmation may carry one.
func (u SessionUpdate) Apply(s *Session, now time.Time) {
	if u.State != nil {
		s.State = *u.State
	}
	if u.ClientID != nil {
		s.ClientID = *u.ClientID
	}
	if u.PendingOrder != nil {
		s.PendingOrder = u.PendingOrder
	}
	if u.ClearPendingOrder || s.State != StateAwaitingConfirmation {
		s.PendingOrder = nil
	}
	if u.ReminderSent != nil {
		s.ReminderSent = *u.ReminderSent
	}
	if u.Touch {
		s.LastActivityAt = now
		s.ReminderSent = false
	}
}

// StatePtr returns a pointer to the given state, for building SessionUpdate values.
func StatePtr(s ConversationState) *ConversationState {
	return &s
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
