package repository

import (
	"context"
	"sync"
	"time"

	"github.com/eventtix/paygate/internal/interfaces"
	"github.com/eventtix/paygate/internal/models"
)

// Memory is an in-memory Store used in tests. It mirrors the Postgres
// compare-and-set semantics, including ErrStaleState on lost races.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	payments map[string]*models.Payment
	refunds  map[string]*models.Refund
	audit    map[string][]models.AuditEntry
	settings map[string]*models.EventSettings
	auditSeq int64
}

func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[string]*models.Order),
		payments: make(map[string]*models.Payment),
		refunds:  make(map[string]*models.Refund),
		audit:    make(map[string][]models.AuditEntry),
		settings: make(map[string]*models.EventSettings),
	}
}

func (m *Memory) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.orders[order.Code] = &cp
	return nil
}

func (m *Memory) GetOrder(_ context.Context, code string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[code]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *order
	return &cp, nil
}

func (m *Memory) MarkOrderPaid(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[code]
	if !ok {
		return interfaces.ErrNotFound
	}
	order.Status = models.OrderPaid
	return nil
}

func (m *Memory) CreatePayment(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *payment
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.payments[payment.ID] = &cp
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *payment
	return &cp, nil
}

func (m *Memory) SetRemote(_ context.Context, paymentID string, remoteID int64, remoteState string, info []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[paymentID]
	if !ok {
		return interfaces.ErrNotFound
	}
	payment.RemoteID = remoteID
	payment.RemoteState = remoteState
	payment.Info = append([]byte(nil), info...)
	payment.Status = models.PaymentPending
	payment.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateSnapshot(_ context.Context, paymentID, fromState, toState string, info []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cas(paymentID, fromState, toState, info, "")
}

func (m *Memory) ConfirmPayment(_ context.Context, paymentID, fromState, toState string, info []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.cas(paymentID, fromState, toState, info, models.PaymentConfirmed); err != nil {
		return err
	}
	if order, ok := m.orders[m.payments[paymentID].OrderCode]; ok {
		order.Status = models.OrderPaid
	}
	return nil
}

func (m *Memory) FailPayment(_ context.Context, paymentID, fromState, toState string, info []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cas(paymentID, fromState, toState, info, models.PaymentFailed)
}

func (m *Memory) cas(paymentID, fromState, toState string, info []byte, status models.PaymentStatus) error {
	payment, ok := m.payments[paymentID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if payment.RemoteState != fromState {
		return interfaces.ErrStaleState
	}
	payment.RemoteState = toState
	payment.Info = append([]byte(nil), info...)
	if status != "" {
		payment.Status = status
	}
	payment.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkPaymentRefunded(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[paymentID]
	if !ok {
		return interfaces.ErrNotFound
	}
	payment.Status = models.PaymentRefunded
	payment.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) CreateRefund(_ context.Context, refund *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *refund
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.refunds[refund.ID] = &cp
	return nil
}

func (m *Memory) GetRefund(_ context.Context, id string) (*models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refund, ok := m.refunds[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *refund
	return &cp, nil
}

func (m *Memory) UpdateRefund(_ context.Context, refund *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.refunds[refund.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	stored.Status = refund.Status
	stored.ExecutedAt = refund.ExecutedAt
	stored.Info = append([]byte(nil), refund.Info...)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditSeq++
	entry.ID = m.auditSeq
	entry.CreatedAt = time.Now()
	m.audit[entry.PaymentID] = append(m.audit[entry.PaymentID], *entry)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, paymentID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditEntry(nil), m.audit[paymentID]...), nil
}

func (m *Memory) GetSettings(_ context.Context, eventSlug string) (*models.EventSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.settings[eventSlug]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *settings
	return &cp, nil
}

func (m *Memory) SaveSettings(_ context.Context, settings *models.EventSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *settings
	m.settings[settings.EventSlug] = &cp
	return nil
}
