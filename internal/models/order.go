package models

import "time"

// LineItem is one product line as understood by the order parser.
type LineItem struct {
	Product     string  `json:"product"` // SKU
	ProductName string  `json:"productName"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
}

// ParseResult is the structured output of the order parser.
type ParseResult struct {
	OrderSummary         string     `json:"orderSummary"`
	Items                []LineItem `json:"items"`
	Error                string     `json:"error,omitempty"`
	NeedsClarification   bool       `json:"needsClarification,omitempty"`
	ClarificationMessage string     `json:"clarificationMessage,omitempty"`
	PartialOrder         bool       `json:"partialOrder,omitempty"`
	// Fallback asks the caller to keep the raw text for manual processing.
	Fallback             bool       `json:"fallback,omitempty"`
}

// HasError reports whether the parser flagged a hard error.
func (r *ParseResult) HasError() bool {
	return r.Error != ""
}

// IsPartialWithItems reports whether the parser flagged a partial order that still carries items.
func (r *ParseResult) IsPartialWithItems() bool {
	return r.PartialOrder && len(r.Items) > 0
}

// ValidatedItem is a line item enriched with the verified catalog price.
type ValidatedItem struct {
	LineItem
	SKU       string  `json:"sku"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

// ValidationResult is the outcome of checking line items against the catalog.
type ValidationResult struct {
	ValidatedItems []ValidatedItem `json:"validatedItems"`
	Errors         []string        `json:"errors,omitempty"`
	IsValid        bool            `json:"isValid"`
}

// OrderProposal is the pending order held by a session while awaiting confirmation.
type OrderProposal struct {
	OriginalText   string          `json:"originalText"`
	Parsed         *ParseResult    `json:"parsed,omitempty"`
	ValidatedItems []ValidatedItem `json:"validatedItems,omitempty"`
	IsPartial      bool            `json:"isPartial,omitempty"`
	// FallbackMode marks a raw-text order kept for manual processing after parsing failed.
	FallbackMode bool `json:"fallbackMode,omitempty"`
}

// Summary returns the parser's order summary, if any.
func (p *OrderProposal) Summary() string {
	if p == nil || p.Parsed == nil {
		return ""
	}
	return p.Parsed.OrderSummary
}

// OrderStatus is the lifecycle status of a persisted order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsValid reports whether the status is one of the known order statuses.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// NewOrder is the input for creating a persisted order.
type NewOrder struct {
	OrderText   string
	ClientID    string
	Channel     Channel
	Items       []ValidatedItem
	Summary     string
	AIProcessed bool
}

// Validate checks the fields required to persist an order.
func (o NewOrder) Validate() error {
	if o.OrderText == "" {
		return ErrEmptyOrderText
	}
	if o.ClientID == "" {
		return ErrMissingClient
	}
	if !o.Channel.IsValid() {
		return ErrInvalidChannel
	}
	return nil
}

// Order is a confirmed order as persisted by the order store.
type Order struct {
	ID          string          `json:"id"`
	OrderText   string          `json:"orderText"`
	ClientID    string          `json:"clientId"`
	Channel     Channel         `json:"platform"`
	Status      OrderStatus     `json:"status"`
	Items       []ValidatedItem `json:"items,omitempty"`
	Total       float64         `json:"total"`
	Summary     string          `json:"summary,omitempty"`
	AIProcessed bool            `json:"aiProcessed"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ItemsTotal returns the sum of price * quantity over the items, without rounding.
func ItemsTotal(items []ValidatedItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Price * it.Quantity
	}
	return total
}

// ItemsQuantity returns the sum of quantities over the items.
func ItemsQuantity(items []ValidatedItem) float64 {
	var n float64
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
