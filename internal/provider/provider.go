// Package provider implements the payment provider on top of the gateway
// client: hosted-link creation, callback reconciliation, capture and refund.
package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eventtix/paygate/internal/interfaces"
	"github.com/eventtix/paygate/internal/metrics"
	"github.com/eventtix/paygate/internal/money"
	"github.com/eventtix/paygate/internal/models"
	"github.com/eventtix/paygate/internal/quickpay"
)

var (
	ErrMethodDisabled = errors.New("payment method is not enabled for this event")
	ErrNotCapturable  = errors.New("payment is not in a capturable state")
	ErrOrderMismatch  = errors.New("remote payment references a different order")
	ErrNotRefundable  = errors.New("payment does not cover the requested refund")
)

// Gateway is the outbound contract the provider needs from the payment
// gateway. *quickpay.Client satisfies it.
type Gateway interface {
	CreatePayment(ctx context.Context, orderID, currency string) (*quickpay.Payment, error)
	CreateLink(ctx context.Context, paymentID int64, params quickpay.LinkParams) (string, error)
	GetPayment(ctx context.Context, paymentID int64) (*quickpay.Payment, error)
	Capture(ctx context.Context, paymentID, amount int64, callbackURL string) (*quickpay.Payment, error)
	Refund(ctx context.Context, paymentID, amount int64) (int, *quickpay.Payment, error)
}

// GatewayFactory builds a gateway client for an event's API key.
type GatewayFactory func(apiKey string) Gateway

// Service carries out all payment operations. It is stateless apart from its
// dependencies; per-event credentials arrive with every call.
type Service struct {
	store      interfaces.Store
	locker     interfaces.Locker
	publisher  interfaces.Publisher
	reviews    interfaces.ReviewNotifier
	newGateway GatewayFactory
	baseURL    string
	logger     *zap.Logger
}

func NewService(store interfaces.Store, locker interfaces.Locker, publisher interfaces.Publisher,
	reviews interfaces.ReviewNotifier, factory GatewayFactory, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		locker:     locker,
		publisher:  publisher,
		reviews:    reviews,
		newGateway: factory,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// OrderHash is the route-level access token for an order's return/callback
// URLs: the SHA-1 hex digest of the lowercased order secret.
func OrderHash(secret string) string {
	sum := sha1.Sum([]byte(strings.ToLower(secret)))
	return hex.EncodeToString(sum[:])
}

// IsEnabled reports whether the method can currently be offered: credentials
// present and the method flag switched on for the event.
func (s *Service) IsEnabled(settings *models.EventSettings, d MethodDescriptor) bool {
	return settings.APIKey != "" && settings.PrivateKey != "" &&
		settings.MethodEnabled(d.EnablementKey())
}

// CreatePaymentLink creates the local payment record and the remote payment
// resource, requests the hosted payment page, persists the remote snapshot
// and returns the page URL. Any gateway failure aborts the flow.
func (s *Service) CreatePaymentLink(ctx context.Context, order *models.Order,
	settings *models.EventSettings, d MethodDescriptor) (*models.Payment, string, error) {

	if !s.IsEnabled(settings, d) {
		return nil, "", ErrMethodDisabled
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		OrderCode: order.Code,
		Provider:  Identifier(settings.Brand, d.Method),
		Amount:    order.Total,
		Currency:  order.Currency,
		Status:    models.PaymentCreated,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, "", fmt.Errorf("create payment record: %w", err)
	}

	gw := s.newGateway(settings.APIKey)

	remote, err := gw.CreatePayment(ctx, order.Code, order.Currency)
	if err != nil {
		return nil, "", fmt.Errorf("create remote payment: %w", err)
	}

	returnURL := s.orderURL(settings.Brand, "return", order, payment.ID)
	url, err := gw.CreateLink(ctx, remote.ID, quickpay.LinkParams{
		Amount:         money.ToMinorUnits(order.Total, order.Currency),
		ContinueURL:    returnURL,
		CancelURL:      returnURL,
		CallbackURL:    s.orderURL(settings.Brand, "callback", order, payment.ID),
		PaymentMethods: d.Method,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create payment link: %w", err)
	}

	snapshot, err := json.Marshal(remote)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.SetRemote(ctx, payment.ID, remote.ID, remote.State, snapshot); err != nil {
		return nil, "", fmt.Errorf("persist remote snapshot: %w", err)
	}

	s.logger.Info("payment link created",
		zap.String("payment_id", payment.ID),
		zap.String("order_code", order.Code),
		zap.Int64("remote_id", remote.ID),
	)
	return payment, url, nil
}

// HandleCallback reconciles the payment against fresh gateway state. The
// inbound notification body is never trusted; the remote object is always
// re-fetched. Runs under the per-payment lock.
func (s *Service) HandleCallback(ctx context.Context, paymentID string, settings *models.EventSettings) error {
	unlock, err := s.locker.Lock(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("acquire payment lock: %w", err)
	}
	defer unlock()

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.RemoteID == 0 {
		return fmt.Errorf("payment %s has no remote payment yet", paymentID)
	}

	gw := s.newGateway(settings.APIKey)
	remote, err := gw.GetPayment(ctx, payment.RemoteID)
	if err != nil {
		return fmt.Errorf("fetch remote payment: %w", err)
	}

	return s.reconcile(ctx, payment, remote)
}

// reconcile applies the state-transition table to a freshly fetched remote
// object. Every transition is compare-and-set on the previously seen remote
// state; losing the race means a concurrent callback already applied newer
// state, which is not an error.
func (s *Service) reconcile(ctx context.Context, payment *models.Payment, remote *quickpay.Payment) error {
	if payment.Status.IsTerminal() {
		metrics.CallbacksTotal.WithLabelValues("no_change").Inc()
		return nil
	}
	if remote.State == payment.RemoteState {
		metrics.CallbacksTotal.WithLabelValues("no_change").Inc()
		return nil
	}

	snapshot, err := json.Marshal(remote)
	if err != nil {
		return err
	}
	expected := money.ToMinorUnits(payment.Amount, payment.Currency)

	switch {
	case remote.State == quickpay.StateProcessed && remote.Balance == expected:
		if stale := s.apply(s.store.ConfirmPayment(ctx, payment.ID, payment.RemoteState, remote.State, snapshot), payment); stale != nil {
			return stale
		}
		s.audit(ctx, payment.ID, "confirmed",
			fmt.Sprintf("remote state %q, balance %d matches expected amount", remote.State, remote.Balance))
		s.publish(ctx, payment, models.PaymentConfirmed)
		metrics.CallbacksTotal.WithLabelValues("confirmed").Inc()

	case remote.State == quickpay.StateProcessed:
		// Balance discrepancy: no terminal transition, hold for review.
		if stale := s.apply(s.store.UpdateSnapshot(ctx, payment.ID, payment.RemoteState, remote.State, snapshot), payment); stale != nil {
			return stale
		}
		s.audit(ctx, payment.ID, "discrepancy",
			fmt.Sprintf("remote state %q but balance %d != expected %d", remote.State, remote.Balance, expected))
		s.review(ctx, models.ReviewAlert{
			PaymentID:   payment.ID,
			Reason:      "balance does not match expected amount",
			RemoteState: remote.State,
			Balance:     remote.Balance,
			Expected:    expected,
			Timestamp:   time.Now(),
		})
		metrics.CallbacksTotal.WithLabelValues("discrepancy").Inc()

	case remote.State == quickpay.StateRejected:
		if stale := s.apply(s.store.FailPayment(ctx, payment.ID, payment.RemoteState, remote.State, snapshot), payment); stale != nil {
			return stale
		}
		s.audit(ctx, payment.ID, "failed", "remote payment was rejected")
		s.publish(ctx, payment, models.PaymentFailed)
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()

	default:
		if stale := s.apply(s.store.UpdateSnapshot(ctx, payment.ID, payment.RemoteState, remote.State, snapshot), payment); stale != nil {
			return stale
		}
		metrics.CallbacksTotal.WithLabelValues("snapshot").Inc()
	}

	return nil
}

// apply swallows lost CAS races: the stored remote state moved on under us,
// so this delivery carries stale news and is dropped.
func (s *Service) apply(err error, payment *models.Payment) error {
	if errors.Is(err, interfaces.ErrStaleState) {
		s.logger.Info("dropping stale callback",
			zap.String("payment_id", payment.ID),
			zap.String("seen_remote_state", payment.RemoteState),
		)
		metrics.CallbacksTotal.WithLabelValues("lost_race").Inc()
		return nil
	}
	return err
}

// Capture settles an authorized payment for the full amount. The remote
// order-id cross-reference guards against capturing against the wrong order.
func (s *Service) Capture(ctx context.Context, paymentID string, settings *models.EventSettings) error {
	unlock, err := s.locker.Lock(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("acquire payment lock: %w", err)
	}
	defer unlock()

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	order, err := s.store.GetOrder(ctx, payment.OrderCode)
	if err != nil {
		return err
	}

	gw := s.newGateway(settings.APIKey)
	remote, err := gw.GetPayment(ctx, payment.RemoteID)
	if err != nil {
		return fmt.Errorf("fetch remote payment: %w", err)
	}

	if remote.State != quickpay.StateNew || !remote.AcceptedAuthorization() {
		return ErrNotCapturable
	}
	if remote.OrderID != payment.OrderCode {
		s.logger.Warn("remote order id mismatch on capture",
			zap.String("payment_id", payment.ID),
			zap.String("local_order", payment.OrderCode),
			zap.String("remote_order", remote.OrderID),
		)
		return ErrOrderMismatch
	}

	expected := money.ToMinorUnits(payment.Amount, payment.Currency)
	callbackURL := s.orderURL(settings.Brand, "callback", order, payment.ID)
	if _, err := gw.Capture(ctx, remote.ID, expected, callbackURL); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	// Re-fetch to settle immediately when the gateway already processed the
	// capture; otherwise the attached callback reconciles later.
	refreshed, err := gw.GetPayment(ctx, remote.ID)
	if err != nil {
		s.logger.Warn("capture sent but refresh failed, deferring to callback",
			zap.String("payment_id", payment.ID), zap.Error(err))
		return nil
	}
	return s.reconcile(ctx, payment, refreshed)
}

// ExecuteRefund issues a refund against a confirmed payment and records the
// outcome. Response statuses partition into done (202), failed (400/403) and
// needs_review (anything else, including no definitive response).
func (s *Service) ExecuteRefund(ctx context.Context, paymentID string, amount decimal.Decimal,
	settings *models.EventSettings) (*models.Refund, error) {

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentConfirmed {
		return nil, fmt.Errorf("payment %s is %s, only confirmed payments can be refunded", paymentID, payment.Status)
	}

	gw := s.newGateway(settings.APIKey)
	remote, err := gw.GetPayment(ctx, payment.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("fetch remote payment: %w", err)
	}

	minor := money.ToMinorUnits(amount, payment.Currency)
	if remote.Balance < minor {
		return nil, ErrNotRefundable
	}

	refund := &models.Refund{
		ID:        uuid.New().String(),
		PaymentID: payment.ID,
		Amount:    amount,
		Status:    models.RefundPending,
	}
	if err := s.store.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	status, body, err := gw.Refund(ctx, remote.ID, minor)
	now := time.Now()
	if body != nil {
		refund.Info, _ = json.Marshal(body)
	}

	switch {
	case err == nil && status == 202:
		refund.Status = models.RefundDone
		refund.ExecutedAt = &now
		s.audit(ctx, payment.ID, "refund_done",
			fmt.Sprintf("refund %s for %s %s accepted", refund.ID, amount, payment.Currency))
		metrics.RefundsTotal.WithLabelValues("done").Inc()

	case err == nil && (status == 400 || status == 403):
		refund.Status = models.RefundFailed
		refund.ExecutedAt = &now
		s.audit(ctx, payment.ID, "refund_failed",
			fmt.Sprintf("refund %s rejected with status %d", refund.ID, status))
		metrics.RefundsTotal.WithLabelValues("failed").Inc()

	default:
		// Unrecognized response or no definitive response at all. Never
		// equate this with an authenticated rejection.
		refund.Status = models.RefundNeedsReview
		reason := fmt.Sprintf("unrecognized refund response status %d", status)
		if err != nil {
			reason = "no definitive refund response: " + err.Error()
		}
		s.audit(ctx, payment.ID, "refund_review", reason)
		s.review(ctx, models.ReviewAlert{
			PaymentID: payment.ID,
			RefundID:  refund.ID,
			Reason:    reason,
			Timestamp: now,
		})
		metrics.RefundsTotal.WithLabelValues("needs_review").Inc()
	}

	if err := s.store.UpdateRefund(ctx, refund); err != nil {
		return nil, err
	}

	if refund.Status == models.RefundDone && amount.Equal(payment.Amount) {
		if err := s.store.MarkPaymentRefunded(ctx, payment.ID); err != nil {
			return nil, err
		}
		s.publish(ctx, payment, models.PaymentRefunded)
	}

	return refund, nil
}

// ListAudit exposes the operator-facing history of a payment.
func (s *Service) ListAudit(ctx context.Context, paymentID string) ([]models.AuditEntry, error) {
	return s.store.ListAudit(ctx, paymentID)
}

// orderURL builds the return/callback URL advertised to the gateway. The
// shape must match the registered routes exactly; webhook senders do not
// follow redirects on POST.
func (s *Service) orderURL(brand, kind string, order *models.Order, paymentID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s",
		s.baseURL, brand, kind, order.Code, OrderHash(order.Secret), paymentID)
}

func (s *Service) publish(ctx context.Context, payment *models.Payment, state models.PaymentStatus) {
	err := s.publisher.PublishStateChange(ctx, models.StateChange{
		PaymentID:     payment.ID,
		OrderCode:     payment.OrderCode,
		State:         string(state),
		PreviousState: string(payment.Status),
		Timestamp:     time.Now(),
	})
	if err != nil {
		s.logger.Error("failed to publish state change",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
}

func (s *Service) review(ctx context.Context, alert models.ReviewAlert) {
	metrics.ReviewFlagsTotal.Inc()
	if err := s.reviews.NotifyReview(ctx, alert); err != nil {
		s.logger.Error("failed to publish review alert",
			zap.String("payment_id", alert.PaymentID), zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, paymentID, kind, message string) {
	err := s.store.AppendAudit(ctx, &models.AuditEntry{
		PaymentID: paymentID,
		Kind:      kind,
		Message:   message,
	})
	if err != nil {
		s.logger.Error("failed to append audit entry",
			zap.String("payment_id", paymentID), zap.Error(err))
	}
}
