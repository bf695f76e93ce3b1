package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the local lifecycle status of a payment.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// IsTerminal returns true once no further status transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentConfirmed, PaymentFailed, PaymentRefunded:
		return true
	default:
		return false
	}
}

// RefundStatus is the local lifecycle status of a refund.
type RefundStatus string

const (
	RefundPending RefundStatus = "pending"
	RefundDone    RefundStatus = "done"
	RefundFailed  RefundStatus = "failed"
	// RefundNeedsReview marks a refund whose gateway response could not be
	// classified; it requires operator investigation and is deliberately
	// distinct from RefundFailed.
	RefundNeedsReview RefundStatus = "needs_review"
)

// OrderStatus is the ticket order's payment standing.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderCanceled OrderStatus = "canceled"
)

// Order is the ticket order a payment belongs to. The secret gates access to
// the order's return/callback URLs.
type Order struct {
	Code      string          `json:"code"`
	EventSlug string          `json:"event"`
	Secret    string          `json:"-"`
	Status    OrderStatus     `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
}

// Payment is the local record of funds owed for an order. Info holds the
// most recent full gateway snapshot and is only ever replaced wholesale.
type Payment struct {
	ID          string          `json:"id"`
	OrderCode   string          `json:"order_code"`
	Provider    string          `json:"provider"` // method identifier, e.g. "quickpay_creditcard"
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      PaymentStatus   `json:"status"`
	RemoteID    int64           `json:"remote_id"`
	RemoteState string          `json:"remote_state"`
	Info        json.RawMessage `json:"info,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Refund is a local record of money returned against a payment.
type Refund struct {
	ID         string          `json:"id"`
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     RefundStatus    `json:"status"`
	ExecutedAt *time.Time      `json:"executed_at,omitempty"`
	Info       json.RawMessage `json:"info,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventSettings holds the per-event gateway credentials and method flags.
// They are loaded from storage per request; nothing is cached in package
// state.
type EventSettings struct {
	EventSlug  string          `json:"event"`
	Brand      string          `json:"brand"`
	APIKey     string          `json:"-"`
	PrivateKey string          `json:"-"`
	Enabled    map[string]bool `json:"enabled"`
}

// MethodEnabled reports whether a payment method identifier is switched on
// for the event.
func (s *EventSettings) MethodEnabled(identifier string) bool {
	return s.Enabled[identifier]
}

// AuditEntry is an operator-facing record attached to a payment's history.
type AuditEntry struct {
	ID        int64     `json:"id"`
	PaymentID string    `json:"payment_id"`
	Kind      string    `json:"kind"` // confirmed, failed, discrepancy, refund_done, ...
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// StateChange is published on the event stream whenever a payment changes
// local status.
type StateChange struct {
	PaymentID     string    `json:"payment_id"`
	OrderCode     string    `json:"order_code"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReviewAlert flags a payment or refund for manual operator review.
type ReviewAlert struct {
	PaymentID   string    `json:"payment_id"`
	RefundID    string    `json:"refund_id,omitempty"`
	Reason      string    `json:"reason"`
	RemoteState string    `json:"remote_state,omitempty"`
	Balance     int64     `json:"balance,omitempty"`
	Expected    int64     `json:"expected,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
