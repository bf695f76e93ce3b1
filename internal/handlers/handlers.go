package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eventtix/paygate/internal/dedup"
	"github.com/eventtix/paygate/internal/interfaces"
	"github.com/eventtix/paygate/internal/metrics"
	"github.com/eventtix/paygate/internal/models"
	"github.com/eventtix/paygate/internal/provider"
	"github.com/eventtix/paygate/internal/quickpay"
)

// Handler holds the HTTP layer's dependencies.
type Handler struct {
	store        interfaces.Store
	svc          *provider.Service
	deduper      dedup.Deduper
	orderBaseURL string
	logger       *zap.Logger

	registries map[string]*provider.Registry
}

func New(store interfaces.Store, svc *provider.Service, deduper dedup.Deduper, orderBaseURL string, logger *zap.Logger) *Handler {
	registries := make(map[string]*provider.Registry)
	for _, brand := range []string{"quickpay", "unzer", "unzerdirect"} {
		registries[brand] = provider.NewRegistry(brand)
	}
	return &Handler{
		store:        store,
		svc:          svc,
		deduper:      deduper,
		orderBaseURL: strings.TrimRight(orderBaseURL, "/"),
		logger:       logger,
		registries:   registries,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	pay := r.Group("/pay/:provider")
	pay.POST("/callback/:order/:hash/:payment", h.Callback)
	pay.GET("/return/:order/:hash/:payment", h.Return)
	pay.POST("/return/:order/:hash/:payment", h.Return)

	api := r.Group("/api")
	api.POST("/orders", h.CreateOrder)
	api.POST("/orders/:code/pay", h.CreatePaymentLink)
	api.GET("/payments/:id", h.GetPayment)
	api.POST("/payments/:id/capture", h.Capture)
	api.POST("/payments/:id/refund", h.Refund)
	api.PUT("/settings/:event", h.SaveSettings)
}

// resolveOrder checks the order code and secret hash from the URL. Unknown
// order and wrong hash answer identically, and the unknown-order path still
// performs a hash comparison so the two cannot be told apart by timing.
func (h *Handler) resolveOrder(c *gin.Context) (*models.Order, bool) {
	code := c.Param("order")
	hash := strings.ToLower(c.Param("hash"))

	order, err := h.store.GetOrder(c.Request.Context(), code)
	if err != nil {
		subtle.ConstantTimeCompare([]byte(provider.OrderHash("decoy-secret")), []byte(hash))
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return nil, false
	}

	if subtle.ConstantTimeCompare([]byte(provider.OrderHash(order.Secret)), []byte(hash)) != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return nil, false
	}
	return order, true
}

// resolvePayment loads the payment from the URL and checks it belongs to the
// order and to the provider named in the path.
func (h *Handler) resolvePayment(c *gin.Context, order *models.Order) (*models.Payment, bool) {
	payment, err := h.store.GetPayment(c.Request.Context(), c.Param("payment"))
	if err != nil ||
		payment.OrderCode != order.Code ||
		!strings.HasPrefix(payment.Provider, c.Param("provider")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment"})
		return nil, false
	}
	return payment, true
}

// Callback handles the asynchronous gateway notification. The body is only
// used for checksum verification; reconciliation re-fetches gateway state.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	order, ok := h.resolveOrder(c)
	if !ok {
		metrics.CallbackRejectedTotal.WithLabelValues("auth").Inc()
		return
	}
	payment, ok := h.resolvePayment(c, order)
	if !ok {
		metrics.CallbackRejectedTotal.WithLabelValues("auth").Inc()
		return
	}

	settings, err := h.store.GetSettings(ctx, order.EventSlug)
	if err != nil {
		h.logger.Error("no settings for event",
			zap.String("event", order.EventSlug), zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "provider not configured"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !quickpay.VerifyChecksum(body, settings.PrivateKey, c.GetHeader(quickpay.ChecksumHeader)) {
		metrics.CallbackRejectedTotal.WithLabelValues("checksum").Inc()
		h.logger.Warn("callback checksum verification failed",
			zap.String("payment_id", payment.ID))
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid checksum"})
		return
	}

	// Only authenticated deliveries are recorded; a repeat within the TTL is
	// acknowledged without reprocessing. The dedup store fails open, the
	// remote-state CAS stays the correctness guarantee.
	seen, err := h.deduper.Seen(ctx, dedup.Key(c.Request.URL.Path, body), dedup.CallbackTTL)
	if err != nil {
		h.logger.Warn("callback dedup check failed, processing anyway",
			zap.String("payment_id", payment.ID), zap.Error(err))
	} else if seen {
		c.String(http.StatusOK, "[accepted]")
		return
	}

	if err := h.svc.HandleCallback(ctx, payment.ID, settings); err != nil {
		h.logger.Error("callback reconciliation failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	c.String(http.StatusOK, "[accepted]")
}

// Return handles the payer landing back from the hosted payment page. No
// state change; the callback is authoritative.
func (h *Handler) Return(c *gin.Context) {
	order, ok := h.resolveOrder(c)
	if !ok {
		return
	}

	target := h.orderBaseURL + "/" + order.Code + "/" + order.Secret + "/"
	if order.Status == models.OrderPaid {
		target += "?paid=yes"
	}
	c.Redirect(http.StatusFound, target)
}

type createOrderRequest struct {
	EventSlug string `json:"event" binding:"required"`
	Total     string `json:"total" binding:"required"`
	Currency  string `json:"currency" binding:"required"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil || total.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid total"})
		return
	}

	order := &models.Order{
		Code:      newOrderCode(),
		EventSlug: req.EventSlug,
		Secret:    newSecret(),
		Status:    models.OrderPending,
		Total:     total,
		Currency:  strings.ToUpper(req.Currency),
	}
	if err := h.store.CreateOrder(c.Request.Context(), order); err != nil {
		h.logger.Error("failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":   order.Code,
		"secret": order.Secret,
		"status": order.Status,
	})
}

type payRequest struct {
	Method string `json:"method" binding:"required"` // provider identifier, e.g. "quickpay_creditcard"
}

// CreatePaymentLink starts a payment for an order and returns the hosted
// payment page URL.
func (h *Handler) CreatePaymentLink(c *gin.Context) {
	ctx := c.Request.Context()

	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.store.GetOrder(ctx, c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return
	}

	settings, registry, ok := h.eventSetup(c, order.EventSlug)
	if !ok {
		return
	}
	descriptor, ok := registry.Resolve(req.Method)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment method"})
		return
	}

	payment, url, err := h.svc.CreatePaymentLink(ctx, order, settings, descriptor)
	if errors.Is(err, provider.ErrMethodDisabled) {
		c.JSON(http.StatusConflict, gin.H{"error": "payment method not enabled"})
		return
	}
	if err != nil {
		h.logger.Error("link creation failed",
			zap.String("order_code", order.Code), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not create payment link"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment_id": payment.ID, "url": url})
}

func (h *Handler) GetPayment(c *gin.Context) {
	ctx := c.Request.Context()

	payment, err := h.store.GetPayment(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment"})
		return
	}

	audit, err := h.svc.ListAudit(ctx, payment.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit trail"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": payment, "audit": audit})
}

func (h *Handler) Capture(c *gin.Context) {
	ctx := c.Request.Context()

	payment, err := h.store.GetPayment(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment"})
		return
	}
	order, err := h.store.GetOrder(ctx, payment.OrderCode)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return
	}
	settings, _, ok := h.eventSetup(c, order.EventSlug)
	if !ok {
		return
	}

	err = h.svc.Capture(ctx, payment.ID, settings)
	switch {
	case errors.Is(err, provider.ErrNotCapturable), errors.Is(err, provider.ErrOrderMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("capture failed", zap.String("payment_id", payment.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "capture failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "payment_id": payment.ID})
	}
}

type refundRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) Refund(c *gin.Context) {
	ctx := c.Request.Context()

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	payment, err := h.store.GetPayment(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment"})
		return
	}
	order, err := h.store.GetOrder(ctx, payment.OrderCode)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return
	}
	settings, _, ok := h.eventSetup(c, order.EventSlug)
	if !ok {
		return
	}

	refund, err := h.svc.ExecuteRefund(ctx, payment.ID, amount, settings)
	switch {
	case errors.Is(err, provider.ErrNotRefundable):
		c.JSON(http.StatusConflict, gin.H{"error": "refund exceeds refundable balance"})
	case err != nil:
		h.logger.Error("refund failed", zap.String("payment_id", payment.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "refund failed"})
	default:
		c.JSON(http.StatusOK, refund)
	}
}

type settingsRequest struct {
	Brand      string          `json:"brand" binding:"required"`
	APIKey     string          `json:"api_key" binding:"required"`
	PrivateKey string          `json:"private_key" binding:"required"`
	Enabled    map[string]bool `json:"enabled"`
}

func (h *Handler) SaveSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.registries[req.Brand]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown brand"})
		return
	}

	settings := &models.EventSettings{
		EventSlug:  c.Param("event"),
		Brand:      req.Brand,
		APIKey:     req.APIKey,
		PrivateKey: req.PrivateKey,
		Enabled:    req.Enabled,
	}
	if settings.Enabled == nil {
		settings.Enabled = map[string]bool{}
	}

	if err := h.store.SaveSettings(c.Request.Context(), settings); err != nil {
		h.logger.Error("failed to save settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": settings.EventSlug, "brand": settings.Brand})
}

// eventSetup loads the event settings and the registry for its brand.
func (h *Handler) eventSetup(c *gin.Context, eventSlug string) (*models.EventSettings, *provider.Registry, bool) {
	settings, err := h.store.GetSettings(c.Request.Context(), eventSlug)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "provider not configured for event"})
		return nil, nil, false
	}
	registry, ok := h.registries[settings.Brand]
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "unknown brand configured"})
		return nil, nil, false
	}
	return settings, registry, true
}

func newOrderCode() string {
	// The alphabet length must divide 256, or the byte modulo below skews
	// the code distribution.
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return strings.ToUpper(uuid.New().String()[:5])
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}

func newSecret() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}
