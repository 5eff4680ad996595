// Package models defines the core data structures for OrderPipe.
//
// It includes the conversation session, the client and product directory entities, the
// transient order proposal produced by the parser and validator, and the persisted order.
package models

import (
	"errors"
	"strings"
)

// Channel identifies the delivery medium a user talks to the bot through.
type Channel string

const (
	// ChannelWhatsApp is the WhatsApp channel (Cloud API, linked device or Twilio).
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelSMS is the SMS channel (Android bridge or Twilio).
	ChannelSMS Channel = "sms"
)

// Channels lists every supported channel in sweep order.
var Channels = []Channel{ChannelWhatsApp, ChannelSMS}

// IsValid reports whether the channel is supported.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS:
		return true
	default:
		return false
	}
}

// ParseChannel converts a raw string into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", ErrInvalidChannel
	}
	return c, nil
}

// Error variables for better error handling and testability
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidChannel     = errors.New("invalid channel")
	ErrInvalidOrderStatus = errors.New("invalid order status")
	ErrEmptyAddress       = errors.New("address cannot be empty")
	ErrEmptyOrderText     = errors.New("order text cannot be empty")
	ErrMissingClient      = errors.New("client reference is required")
)
