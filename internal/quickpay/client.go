// Package quickpay is an HTTP client for the Quickpay-style payment gateway
// API: create payment, hosted link, fetch, capture, refund.
package quickpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const acceptVersion = "v10"

const (
	defaultTimeout = 10 * time.Second
	getMaxRetries  = 3
)

// Client talks to the gateway on behalf of a single merchant account.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a client authenticating with the given API key. Every
// call carries a bounded timeout through the underlying HTTP client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// CreatePayment creates a remote payment resource tagged with the
// merchant-side order code.
func (c *Client) CreatePayment(ctx context.Context, orderID, currency string) (*Payment, error) {
	body := map[string]string{"order_id": orderID, "currency": currency}

	var payment Payment
	status, err := c.do(ctx, http.MethodPost, "/payments", body, &payment)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, fmt.Errorf("create payment: unexpected status %d", status)
	}
	return &payment, nil
}

// CreateLink requests a hosted payment page for the payment and returns its
// URL.
func (c *Client) CreateLink(ctx context.Context, paymentID int64, params LinkParams) (string, error) {
	var link Link
	status, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/payments/%d/link", paymentID), params, &link)
	if err != nil {
		return "", fmt.Errorf("create link: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("create link: unexpected status %d", status)
	}
	if link.URL == "" {
		return "", errors.New("create link: gateway returned no url")
	}
	return link.URL, nil
}

// GetPayment fetches the current remote payment object. The read is
// idempotent, so transient failures are retried with exponential backoff.
func (c *Client) GetPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	var payment *Payment

	op := func() error {
		var p Payment
		status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/payments/%d", paymentID), nil, &p)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Class() != ClassTransient {
				return backoff.Permanent(err)
			}
			return err
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("get payment: unexpected status %d", status))
		}
		payment = &p
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), getMaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// Capture settles an authorized payment for the given minor-unit amount.
// Not idempotent: sent exactly once, never retried.
func (c *Client) Capture(ctx context.Context, paymentID, amount int64, callbackURL string) (*Payment, error) {
	body := map[string]interface{}{"amount": amount}
	var payment Payment
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/capture", paymentID), body, &payment,
		withHeader("QuickPay-Callback-Url", callbackURL))
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return nil, fmt.Errorf("capture: unexpected status %d", status)
	}
	return &payment, nil
}

// Refund returns funds for the given minor-unit amount. The raw HTTP status
// is returned alongside the body so callers can partition outcomes; err is
// only non-nil when no response was received at all. Not idempotent.
func (c *Client) Refund(ctx context.Context, paymentID, amount int64) (int, *Payment, error) {
	body := map[string]interface{}{"amount": amount}
	var payment Payment
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/refund", paymentID), body, &payment)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Status, nil, nil
		}
		return 0, nil, fmt.Errorf("refund: %w", err)
	}
	return status, &payment, nil
}

type reqOption func(*http.Request)

func withHeader(key, value string) reqOption {
	return func(r *http.Request) {
		if value != "" {
			r.Header.Set(key, value)
		}
	}
}

// do performs one request. A non-2xx response is returned as *APIError; the
// status code is also returned directly for callers that branch on it.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, opts ...reqOption) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth("", c.apiKey)
	req.Header.Set("Accept-Version", acceptVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
