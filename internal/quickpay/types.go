package quickpay

import "time"

// Remote payment lifecycle states as reported by the gateway.
const (
	StateInitial   = "initial"
	StateNew       = "new"
	StatePending   = "pending"
	StateProcessed = "processed"
	StateRejected  = "rejected"
)

// Operation types on a remote payment.
const (
	OpAuthorize = "authorize"
	OpCapture   = "capture"
	OpRefund    = "refund"
)

// Payment is the gateway-side representation of a payment. Balance is the
// captured amount in the currency's minor unit.
type Payment struct {
	ID         int64       `json:"id"`
	OrderID    string      `json:"order_id"`
	State      string      `json:"state"`
	Balance    int64       `json:"balance"`
	Currency   string      `json:"currency"`
	Accepted   bool        `json:"accepted"`
	TestMode   bool        `json:"test_mode"`
	Operations []Operation `json:"operations"`
	Link       *Link       `json:"link,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AcceptedAuthorization reports whether the payment carries an accepted
// authorize operation, i.e. funds are reserved and capturable.
func (p *Payment) AcceptedAuthorization() bool {
	for _, op := range p.Operations {
		if op.Type == OpAuthorize && op.Accepted {
			return true
		}
	}
	return false
}

// Operation is a single authorize/capture/refund step on a remote payment.
type Operation struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Accepted  bool      `json:"accepted"`
	Pending   bool      `json:"pending"`
	StatusMsg string    `json:"qp_status_msg"`
	CreatedAt time.Time `json:"created_at"`
}

// Link is the hosted payment page resource attached to a remote payment.
type Link struct {
	URL string `json:"url"`
}

// LinkParams describes the hosted payment page requested for a payment.
// Amount is in minor units; PaymentMethods is a comma-separated filter of
// gateway method codes.
type LinkParams struct {
	Amount         int64  `json:"amount"`
	ContinueURL    string `json:"continue_url"`
	CancelURL      string `json:"cancel_url"`
	CallbackURL    string `json:"callback_url"`
	PaymentMethods string `json:"payment_methods,omitempty"`
	Language       string `json:"language,omitempty"`
	AutoCapture    bool   `json:"auto_capture"`
}
