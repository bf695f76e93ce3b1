package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventtix/paygate/internal/dedup"
	"github.com/eventtix/paygate/internal/events"
	"github.com/eventtix/paygate/internal/handlers"
	"github.com/eventtix/paygate/internal/locks"
	"github.com/eventtix/paygate/internal/models"
	"github.com/eventtix/paygate/internal/provider"
	"github.com/eventtix/paygate/internal/quickpay"
	"github.com/eventtix/paygate/internal/repository"
)

type stubGateway struct {
	remote     *quickpay.Payment
	getCalls   int
	linkURL    string
	linkParams quickpay.LinkParams
}

func (g *stubGateway) CreatePayment(_ context.Context, orderID, currency string) (*quickpay.Payment, error) {
	return &quickpay.Payment{ID: 9001, OrderID: orderID, Currency: currency, State: quickpay.StateInitial}, nil
}

func (g *stubGateway) CreateLink(_ context.Context, _ int64, params quickpay.LinkParams) (string, error) {
	g.linkParams = params
	return g.linkURL, nil
}

func (g *stubGateway) GetPayment(context.Context, int64) (*quickpay.Payment, error) {
	g.getCalls++
	return g.remote, nil
}

func (g *stubGateway) Capture(context.Context, int64, int64, string) (*quickpay.Payment, error) {
	return g.remote, nil
}

func (g *stubGateway) Refund(context.Context, int64, int64) (int, *quickpay.Payment, error) {
	return 202, g.remote, nil
}

type fixture struct {
	router  *gin.Engine
	store   *repository.Memory
	gateway *stubGateway
	order   *models.Order
	payment *models.Payment
	hash    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemory()
	gw := &stubGateway{linkURL: "https://pay.example/link/abc"}

	svc := provider.NewService(store, locks.NewMemory(), events.NoopPublisher{}, events.NoopNotifier{},
		func(string) provider.Gateway { return gw },
		"https://paygate.example/pay", zap.NewNop())

	h := handlers.New(store, svc, dedup.NewMemory(), "https://shop.example/order", zap.NewNop())
	router := gin.New()
	h.RegisterRoutes(router)

	ctx := context.Background()
	order := &models.Order{
		Code:      "ABC12",
		EventSlug: "democon",
		Secret:    "s3cret",
		Status:    models.OrderPending,
		Total:     decimal.RequireFromString("10.00"),
		Currency:  "EUR",
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	require.NoError(t, store.SaveSettings(ctx, &models.EventSettings{
		EventSlug:  "democon",
		Brand:      "quickpay",
		APIKey:     "api-key",
		PrivateKey: "private-key",
		Enabled:    map[string]bool{"method_creditcard": true},
	}))

	payment := &models.Payment{
		ID:        "pay-1",
		OrderCode: "ABC12",
		Provider:  "quickpay_creditcard",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "EUR",
		Status:    models.PaymentPending,
	}
	require.NoError(t, store.CreatePayment(ctx, payment))
	require.NoError(t, store.SetRemote(ctx, payment.ID, 9001, quickpay.StateNew, []byte(`{}`)))

	return &fixture{
		router:  router,
		store:   store,
		gateway: gw,
		order:   order,
		payment: payment,
		hash:    provider.OrderHash("s3cret"),
	}
}

func (f *fixture) callback(body []byte, hash, checksum string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost,
		"/pay/quickpay/callback/"+f.order.Code+"/"+hash+"/"+f.payment.ID, bytes.NewReader(body))
	if checksum != "" {
		req.Header.Set(quickpay.ChecksumHeader, checksum)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCallbackConfirmsPayment(t *testing.T) {
	f := setup(t)
	f.gateway.remote = &quickpay.Payment{ID: 9001, OrderID: "ABC12", State: quickpay.StateProcessed, Balance: 1000}

	body := []byte(`{"id":9001,"state":"processed"}`)
	w := f.callback(body, f.hash, quickpay.Checksum(body, "private-key"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[accepted]", w.Body.String())

	stored, err := f.store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentConfirmed, stored.Status)
}

func TestCallbackRejectsBadChecksum(t *testing.T) {
	f := setup(t)
	f.gateway.remote = &quickpay.Payment{ID: 9001, OrderID: "ABC12", State: quickpay.StateProcessed, Balance: 1000}

	body := []byte(`{"id":9001}`)
	w := f.callback(body, f.hash, quickpay.Checksum(body, "wrong-key"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, f.gateway.getCalls, "gateway must not be consulted for unverified callbacks")

	stored, err := f.store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.Status)
}

func TestCallbackAccessControlIndistinguishable(t *testing.T) {
	f := setup(t)
	body := []byte(`{"id":9001}`)
	checksum := quickpay.Checksum(body, "private-key")

	wrongHash := f.callback(body, provider.OrderHash("other-secret"), checksum)

	req := httptest.NewRequest(http.MethodPost,
		"/pay/quickpay/callback/NOPE1/"+f.hash+"/"+f.payment.ID, bytes.NewReader(body))
	req.Header.Set(quickpay.ChecksumHeader, checksum)
	unknownOrder := httptest.NewRecorder()
	f.router.ServeHTTP(unknownOrder, req)

	assert.Equal(t, http.StatusNotFound, wrongHash.Code)
	assert.Equal(t, http.StatusNotFound, unknownOrder.Code)
	assert.Equal(t, wrongHash.Body.String(), unknownOrder.Body.String(),
		"wrong hash and unknown order must be indistinguishable")
}

func TestCallbackDuplicateDeliveryAcked(t *testing.T) {
	f := setup(t)
	f.gateway.remote = &quickpay.Payment{ID: 9001, OrderID: "ABC12", State: quickpay.StateProcessed, Balance: 1000}

	body := []byte(`{"id":9001,"state":"processed"}`)
	checksum := quickpay.Checksum(body, "private-key")

	first := f.callback(body, f.hash, checksum)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, 1, f.gateway.getCalls)

	second := f.callback(body, f.hash, checksum)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "[accepted]", second.Body.String())
	assert.Equal(t, 1, f.gateway.getCalls, "duplicate body must not be reprocessed")
}

// The callback URL handed to the gateway must be served directly: webhook
// senders do not follow redirects on POST, so a route mismatch (e.g. a
// trailing slash) silently drops every notification.
func TestCallbackURLGivenToGatewayIsRoutable(t *testing.T) {
	f := setup(t)

	payload, _ := json.Marshal(gin.H{"method": "quickpay_creditcard"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders/ABC12/pay", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	callbackURL := f.gateway.linkParams.CallbackURL
	require.NotEmpty(t, callbackURL)
	path := strings.TrimPrefix(callbackURL, "https://paygate.example")
	require.NotEqual(t, callbackURL, path)

	f.gateway.remote = &quickpay.Payment{ID: 9001, OrderID: "ABC12", State: quickpay.StateProcessed, Balance: 1000}
	body := []byte(`{"id":9001,"state":"processed"}`)
	cb := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	cb.Header.Set(quickpay.ChecksumHeader, quickpay.Checksum(body, "private-key"))
	cbw := httptest.NewRecorder()
	f.router.ServeHTTP(cbw, cb)

	assert.Equal(t, http.StatusOK, cbw.Code)
	assert.Equal(t, "[accepted]", cbw.Body.String())
}

func TestCallbackUnauthorizedReplayStaysRejected(t *testing.T) {
	f := setup(t)
	body := []byte(`{"id":9001,"state":"processed"}`)
	wrongHash := provider.OrderHash("other-secret")

	first := f.callback(body, wrongHash, "")
	second := f.callback(body, wrongHash, "")

	assert.Equal(t, http.StatusNotFound, first.Code)
	assert.Equal(t, http.StatusNotFound, second.Code,
		"a rejected delivery must be rejected identically on replay")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Zero(t, f.gateway.getCalls)
}

func TestCallbackRejectedBodyDoesNotBlockGenuineDelivery(t *testing.T) {
	f := setup(t)
	f.gateway.remote = &quickpay.Payment{ID: 9001, OrderID: "ABC12", State: quickpay.StateProcessed, Balance: 1000}

	body := []byte(`{"id":9001,"state":"processed"}`)
	rejected := f.callback(body, f.hash, quickpay.Checksum(body, "wrong-key"))
	require.Equal(t, http.StatusForbidden, rejected.Code)

	genuine := f.callback(body, f.hash, quickpay.Checksum(body, "private-key"))
	assert.Equal(t, http.StatusOK, genuine.Code)
	assert.Equal(t, 1, f.gateway.getCalls,
		"an identical authenticated delivery must still be processed")

	stored, err := f.store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentConfirmed, stored.Status)
}

func TestCallbackUnknownPayment(t *testing.T) {
	f := setup(t)
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost,
		"/pay/quickpay/callback/ABC12/"+f.hash+"/other-payment", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReturnRedirect(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet,
		"/pay/quickpay/return/ABC12/"+f.hash+"/pay-1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://shop.example/order/ABC12/s3cret/", w.Header().Get("Location"))
}

func TestReturnRedirectPaid(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.MarkOrderPaid(context.Background(), "ABC12"))

	req := httptest.NewRequest(http.MethodPost,
		"/pay/quickpay/return/ABC12/"+f.hash+"/pay-1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://shop.example/order/ABC12/s3cret/?paid=yes", w.Header().Get("Location"))
}

func TestReturnRejectsWrongHash(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet,
		"/pay/quickpay/return/ABC12/"+provider.OrderHash("bad")+"/pay-1", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePaymentLinkEndpoint(t *testing.T) {
	f := setup(t)

	payload, _ := json.Marshal(gin.H{"method": "quickpay_creditcard"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders/ABC12/pay", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		PaymentID string `json:"payment_id"`
		URL       string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example/link/abc", resp.URL)
	assert.NotEmpty(t, resp.PaymentID)
}

func TestCreatePaymentLinkUnknownMethod(t *testing.T) {
	f := setup(t)

	payload, _ := json.Marshal(gin.H{"method": "quickpay_doesnotexist"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders/ABC12/pay", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := setup(t)

	payload, _ := json.Marshal(gin.H{"event": "democon", "total": "25.50", "currency": "dkk"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Code   string `json:"code"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Code, 5)
	assert.NotEmpty(t, resp.Secret)

	order, err := f.store.GetOrder(context.Background(), resp.Code)
	require.NoError(t, err)
	assert.Equal(t, "DKK", order.Currency)
}

func TestRefundEndpoint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Confirm the payment first so it is refundable.
	f.gateway.remote = &quickpay.Payment{ID: 9001, OrderID: "ABC12", State: quickpay.StateProcessed, Balance: 1000}
	body := []byte(`{"id":9001}`)
	require.Equal(t, http.StatusOK, f.callback(body, f.hash, quickpay.Checksum(body, "private-key")).Code)

	payload, _ := json.Marshal(gin.H{"amount": "10.00"})
	req := httptest.NewRequest(http.MethodPost, "/api/payments/pay-1/refund", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var refund models.Refund
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refund))
	assert.Equal(t, models.RefundDone, refund.Status)

	stored, err := f.store.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Status)
}
