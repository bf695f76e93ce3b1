package interfaces

import (
	"context"
	"errors"

	"github.com/eventtix/paygate/internal/models"
)

var (
	// ErrNotFound is returned when an order, payment or refund does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a compare-and-set transition loses
	// against a concurrent writer; the caller's view of the remote state is
	// outdated and must not be written.
	ErrStaleState = errors.New("stale remote state")
)

// Store defines the contract for durable order/payment/refund data access.
// Snapshot and status updates that carry a fromState argument are
// compare-and-set on the stored remote-state string and return ErrStaleState
// when they lose a race.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, code string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, code string) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	// SetRemote records the gateway-assigned id and initial snapshot right
	// after the remote resource is created.
	SetRemote(ctx context.Context, paymentID string, remoteID int64, remoteState string, info []byte) error
	// UpdateSnapshot persists a fresh remote snapshot without a local status
	// change.
	UpdateSnapshot(ctx context.Context, paymentID, fromState, toState string, info []byte) error
	// ConfirmPayment transitions the payment to confirmed and the owning
	// order to paid in one transaction.
	ConfirmPayment(ctx context.Context, paymentID, fromState, toState string, info []byte) error
	FailPayment(ctx context.Context, paymentID, fromState, toState string, info []byte) error
	MarkPaymentRefunded(ctx context.Context, paymentID string) error

	CreateRefund(ctx context.Context, refund *models.Refund) error
	GetRefund(ctx context.Context, id string) (*models.Refund, error)
	UpdateRefund(ctx context.Context, refund *models.Refund) error

	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, paymentID string) ([]models.AuditEntry, error)

	GetSettings(ctx context.Context, eventSlug string) (*models.EventSettings, error)
	SaveSettings(ctx context.Context, settings *models.EventSettings) error
}

// Locker provides per-payment mutual exclusion across concurrent callback
// deliveries. Lock blocks until acquired or ctx is done; the returned
// function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Publisher emits payment state-change events to the event stream.
type Publisher interface {
	PublishStateChange(ctx context.Context, change models.StateChange) error
}

// ReviewNotifier alerts operators about payments or refunds that need
// manual review.
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, alert models.ReviewAlert) error
}
