package quickpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "v10", r.Header.Get("Accept-Version"))

		_, key, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "test-api-key", key)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ORDER1", body["order_id"])
		assert.Equal(t, "EUR", body["currency"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Payment{ID: 42, OrderID: "ORDER1", State: StateInitial})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-api-key")
	payment, err := client.CreatePayment(context.Background(), "ORDER1", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(42), payment.ID)
	assert.Equal(t, StateInitial, payment.State)
}

func TestCreatePaymentRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid order id"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.CreatePayment(context.Background(), "ORDER1", "EUR")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, ClassClient, apiErr.Class())
}

func TestCreateLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/payments/42/link", r.URL.Path)

		var params LinkParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, int64(1000), params.Amount)
		assert.Equal(t, "https://shop.example/return", params.ContinueURL)
		assert.Equal(t, "visa,mastercard", params.PaymentMethods)

		json.NewEncoder(w).Encode(Link{URL: "https://pay.example/link/abc"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	url, err := client.CreateLink(context.Background(), 42, LinkParams{
		Amount:         1000,
		ContinueURL:    "https://shop.example/return",
		CancelURL:      "https://shop.example/cancel",
		CallbackURL:    "https://shop.example/callback",
		PaymentMethods: "visa,mastercard",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/link/abc", url)
}

func TestCreateLinkEmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Link{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.CreateLink(context.Background(), 42, LinkParams{Amount: 1000})
	require.Error(t, err)
}

func TestGetPaymentRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Payment{ID: 42, State: StateProcessed, Balance: 1000})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	payment, err := client.GetPayment(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateProcessed, payment.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetPaymentDoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.GetPayment(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ClassAuth, apiErr.Class())
}

func TestCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/42/capture", r.URL.Path)
		assert.Equal(t, "https://shop.example/callback", r.Header.Get("Quickpay-Callback-Url"))

		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1000), body["amount"])

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(Payment{ID: 42, State: StatePending})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	payment, err := client.Capture(context.Background(), 42, 1000, "https://shop.example/callback")
	require.NoError(t, err)
	assert.Equal(t, StatePending, payment.State)
}

func TestRefundReturnsRawStatus(t *testing.T) {
	tests := []struct {
		name       string
		respStatus int
	}{
		{"accepted", http.StatusAccepted},
		{"bad request", http.StatusBadRequest},
		{"forbidden", http.StatusForbidden},
		{"teapot", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.respStatus)
				if tt.respStatus == http.StatusAccepted {
					json.NewEncoder(w).Encode(Payment{ID: 42})
				}
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "key")
			status, _, err := client.Refund(context.Background(), 42, 500)
			require.NoError(t, err)
			assert.Equal(t, tt.respStatus, status)
		})
	}
}

func TestAPIErrorClass(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassAuth},
		{403, ClassAuth},
		{400, ClassClient},
		{404, ClassClient},
		{422, ClassClient},
		{500, ClassTransient},
		{503, ClassTransient},
		{418, ClassUnknown},
	}

	for _, tt := range tests {
		err := &APIError{Status: tt.status}
		assert.Equal(t, tt.want, err.Class(), "status %d", tt.status)
	}
}

func TestVerifyChecksum(t *testing.T) {
	body := []byte(`{"id":42,"state":"processed"}`)

	sig := Checksum(body, "private-key")
	assert.True(t, VerifyChecksum(body, "private-key", sig))
	assert.False(t, VerifyChecksum(body, "other-key", sig))
	assert.False(t, VerifyChecksum([]byte(`{"id":43}`), "private-key", sig))
	assert.False(t, VerifyChecksum(body, "private-key", ""))
}
