package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/eventtix/paygate/internal/interfaces"
	"github.com/eventtix/paygate/internal/models"
)

// Postgres implements interfaces.Store on top of database/sql.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (r *Postgres) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			code VARCHAR(255) PRIMARY KEY,
			event_slug VARCHAR(255) NOT NULL,
			secret VARCHAR(255) NOT NULL,
			status VARCHAR(50) NOT NULL,
			total DECIMAL(15,3) NOT NULL,
			currency VARCHAR(3) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id VARCHAR(255) PRIMARY KEY,
			order_code VARCHAR(255) NOT NULL REFERENCES orders(code),
			provider VARCHAR(255) NOT NULL,
			amount DECIMAL(15,3) NOT NULL,
			currency VARCHAR(3) NOT NULL,
			status VARCHAR(50) NOT NULL,
			remote_id BIGINT DEFAULT 0,
			remote_state VARCHAR(50) DEFAULT '',
			info JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order_code ON payments(order_code)`,
		`CREATE TABLE IF NOT EXISTS refunds (
			id VARCHAR(255) PRIMARY KEY,
			payment_id VARCHAR(255) NOT NULL REFERENCES payments(id),
			amount DECIMAL(15,3) NOT NULL,
			status VARCHAR(50) NOT NULL,
			executed_at TIMESTAMP,
			info JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refunds_payment_id ON refunds(payment_id)`,
		`CREATE TABLE IF NOT EXISTS payment_audit (
			id BIGSERIAL PRIMARY KEY,
			payment_id VARCHAR(255) NOT NULL,
			kind VARCHAR(50) NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_audit_payment_id ON payment_audit(payment_id)`,
		`CREATE TABLE IF NOT EXISTS event_settings (
			event_slug VARCHAR(255) PRIMARY KEY,
			brand VARCHAR(50) NOT NULL,
			api_key VARCHAR(255) NOT NULL,
			private_key VARCHAR(255) NOT NULL,
			enabled JSONB NOT NULL DEFAULT '{}'
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (r *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (code, event_slug, secret, status, total, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.Code, order.EventSlug, order.Secret, order.Status, order.Total, order.Currency)
	return err
}

func (r *Postgres) GetOrder(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	err := r.db.QueryRowContext(ctx, `
		SELECT code, event_slug, secret, status, total, currency, created_at
		FROM orders WHERE code = $1
	`, code).Scan(&order.Code, &order.EventSlug, &order.Secret, &order.Status,
		&order.Total, &order.Currency, &order.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Postgres) MarkOrderPaid(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE code = $2`, models.OrderPaid, code)
	return err
}

func (r *Postgres) CreatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_code, provider, amount, currency, status, remote_id, remote_state, info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, payment.ID, payment.OrderCode, payment.Provider, payment.Amount, payment.Currency,
		payment.Status, payment.RemoteID, payment.RemoteState, nullableJSON(payment.Info))
	return err
}

func (r *Postgres) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return r.scanPayment(r.db.QueryRowContext(ctx, `
		SELECT id, order_code, provider, amount, currency, status, remote_id, remote_state, info, created_at, updated_at
		FROM payments WHERE id = $1
	`, id))
}

func (r *Postgres) scanPayment(row *sql.Row) (*models.Payment, error) {
	var payment models.Payment
	var info []byte
	err := row.Scan(&payment.ID, &payment.OrderCode, &payment.Provider, &payment.Amount,
		&payment.Currency, &payment.Status, &payment.RemoteID, &payment.RemoteState,
		&info, &payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	payment.Info = info
	return &payment, nil
}

func (r *Postgres) SetRemote(ctx context.Context, paymentID string, remoteID int64, remoteState string, info []byte) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET remote_id = $1, remote_state = $2, info = $3, status = $4, updated_at = NOW()
		WHERE id = $5
	`, remoteID, remoteState, nullableJSON(info), models.PaymentPending, paymentID)
	if err != nil {
		return err
	}
	return requireRow(result, interfaces.ErrNotFound)
}

func (r *Postgres) UpdateSnapshot(ctx context.Context, paymentID, fromState, toState string, info []byte) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET remote_state = $1, info = $2, updated_at = NOW()
		WHERE id = $3 AND remote_state = $4
	`, toState, nullableJSON(info), paymentID, fromState)
	if err != nil {
		return err
	}
	return r.casResult(ctx, result, paymentID)
}

func (r *Postgres) ConfirmPayment(ctx context.Context, paymentID, fromState, toState string, info []byte) error {
	return r.transition(ctx, paymentID, fromState, toState, info, models.PaymentConfirmed, true)
}

func (r *Postgres) FailPayment(ctx context.Context, paymentID, fromState, toState string, info []byte) error {
	return r.transition(ctx, paymentID, fromState, toState, info, models.PaymentFailed, false)
}

// transition applies a terminal status change under a compare-and-set on the
// stored remote-state string; the owning order is marked paid in the same
// transaction when the payment confirms.
func (r *Postgres) transition(ctx context.Context, paymentID, fromState, toState string, info []byte, status models.PaymentStatus, markPaid bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, remote_state = $2, info = $3, updated_at = NOW()
		WHERE id = $4 AND remote_state = $5
	`, status, toState, nullableJSON(info), paymentID, fromState)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return r.casMiss(ctx, paymentID)
	}

	if markPaid {
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $1
			WHERE code = (SELECT order_code FROM payments WHERE id = $2)
		`, models.OrderPaid, paymentID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Postgres) MarkPaymentRefunded(ctx context.Context, paymentID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2`,
		models.PaymentRefunded, paymentID)
	if err != nil {
		return err
	}
	return requireRow(result, interfaces.ErrNotFound)
}

func (r *Postgres) CreateRefund(ctx context.Context, refund *models.Refund) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refunds (id, payment_id, amount, status, executed_at, info)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, refund.ID, refund.PaymentID, refund.Amount, refund.Status, refund.ExecutedAt, nullableJSON(refund.Info))
	return err
}

func (r *Postgres) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	var refund models.Refund
	var info []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, payment_id, amount, status, executed_at, info, created_at
		FROM refunds WHERE id = $1
	`, id).Scan(&refund.ID, &refund.PaymentID, &refund.Amount, &refund.Status,
		&refund.ExecutedAt, &info, &refund.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	refund.Info = info
	return &refund, nil
}

func (r *Postgres) UpdateRefund(ctx context.Context, refund *models.Refund) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refunds SET status = $1, executed_at = $2, info = $3
		WHERE id = $4
	`, refund.Status, refund.ExecutedAt, nullableJSON(refund.Info), refund.ID)
	if err != nil {
		return err
	}
	return requireRow(result, interfaces.ErrNotFound)
}

func (r *Postgres) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO payment_audit (payment_id, kind, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, entry.PaymentID, entry.Kind, entry.Message).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *Postgres) ListAudit(ctx context.Context, paymentID string) ([]models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, kind, message, created_at
		FROM payment_audit WHERE payment_id = $1
		ORDER BY created_at ASC
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.PaymentID, &entry.Kind, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *Postgres) GetSettings(ctx context.Context, eventSlug string) (*models.EventSettings, error) {
	var settings models.EventSettings
	var enabled []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT event_slug, brand, api_key, private_key, enabled
		FROM event_settings WHERE event_slug = $1
	`, eventSlug).Scan(&settings.EventSlug, &settings.Brand, &settings.APIKey,
		&settings.PrivateKey, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(enabled, &settings.Enabled); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *Postgres) SaveSettings(ctx context.Context, settings *models.EventSettings) error {
	enabled, err := json.Marshal(settings.Enabled)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO event_settings (event_slug, brand, api_key, private_key, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_slug) DO UPDATE
		SET brand = EXCLUDED.brand, api_key = EXCLUDED.api_key,
		    private_key = EXCLUDED.private_key, enabled = EXCLUDED.enabled
	`, settings.EventSlug, settings.Brand, settings.APIKey, settings.PrivateKey, enabled)
	return err
}

// casMiss tells ErrStaleState apart from ErrNotFound after a zero-row CAS
// update.
func (r *Postgres) casMiss(ctx context.Context, paymentID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM payments WHERE id = $1`, paymentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return err
	}
	return interfaces.ErrStaleState
}

func (r *Postgres) casResult(ctx context.Context, result sql.Result, paymentID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return r.casMiss(ctx, paymentID)
	}
	return nil
}

func requireRow(result sql.Result, missing error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return missing
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
