// Package http serves public invoice receipts over HTTP.
//
// The router is read only: it verifies invoices directly against the ledger
// and never touches a local cache.
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	pixflow "github.com/arcdeck/pixflow/go"
	"github.com/arcdeck/pixflow/go/payload"
)

// DefaultVerifyTimeout bounds a single ledger read made on behalf of a
// request.
const DefaultVerifyTimeout = 15 * time.Second

// Verifier reads one invoice from the ledger. *pixflow.Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*pixflow.InvoiceRecord, error)
}

// ReceiptView is the public JSON shape of a verified invoice.
type ReceiptView struct {
	ID          string `json:"id"`
	Merchant    string `json:"merchant"`
	Token       string `json:"token"`
	AmountCents string `json:"amountCents"`
	AmountLabel string `json:"amountLabel"`
	DueAt       uint64 `json:"dueAt"`
	RefID       string `json:"refId"`
	Status      string `json:"status"`
	StatusCode  uint8  `json:"statusCode"`
	CreatedAt   string `json:"createdAt,omitempty"`
	PaidAt      string `json:"paidAt,omitempty"`
	MerchantURL string `json:"merchantUrl,omitempty"`
	TokenURL    string `json:"tokenUrl,omitempty"`
}

// NewReceiptView projects a verified record.
func NewReceiptView(rec pixflow.InvoiceRecord) ReceiptView {
	view := ReceiptView{
		ID:          rec.Label(),
		Merchant:    rec.Merchant,
		Token:       rec.Token,
		AmountCents: rec.AmountCents,
		AmountLabel: pixflow.FormatAmount(rec.AmountCents),
		DueAt:       rec.DueAt,
		RefID:       rec.RefID,
		Status:      rec.Status.String(),
		StatusCode:  rec.Status.Code(),
	}
	if !rec.CreatedAt.IsZero() {
		view.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !rec.PaidAt.IsZero() {
		view.PaidAt = rec.PaidAt.UTC().Format(time.RFC3339)
	}
	return view
}

type routerConfig struct {
	logger        zerolog.Logger
	verifyTimeout time.Duration
	addressURL    func(string) string
}

// RouterOption configures the receipt router.
type RouterOption func(*routerConfig)

func WithRouterLogger(logger zerolog.Logger) RouterOption {
	return func(c *routerConfig) {
		c.logger = logger
	}
}

// WithVerifyTimeout overrides DefaultVerifyTimeout.
func WithVerifyTimeout(d time.Duration) RouterOption {
	return func(c *routerConfig) {
		if d > 0 {
			c.verifyTimeout = d
		}
	}
}

// WithAddressURL links the merchant and token of a receipt to a block
// explorer. fn receives an address.
func WithAddressURL(fn func(string) string) RouterOption {
	return func(c *routerConfig) {
		c.addressURL = fn
	}
}

// NewReceiptRouter builds the gin engine serving:
//
//	GET  /health
//	GET  /r/:invoiceId
//	POST /payload/decode
func NewReceiptRouter(verifier Verifier, opts ...RouterOption) *gin.Engine {
	cfg := &routerConfig{
		logger:        zerolog.Nop(),
		verifyTimeout: DefaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(cfg.logger))

	h := &handlers{verifier: verifier, cfg: cfg}
	r.GET("/health", h.health)
	r.GET("/r/:invoiceId", h.receipt)
	r.POST("/payload/decode", h.decodePayload)
	return r
}

type handlers struct {
	verifier Verifier
	cfg      *routerConfig
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) receipt(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.verifyTimeout)
	defer cancel()

	raw := c.Param("invoiceId")
	rec, err := h.verifier.Verify(ctx, raw)
	if err != nil {
		status, msg := classify(err)
		if status >= http.StatusInternalServerError {
			h.cfg.logger.Warn().Err(err).Str("invoiceId", raw).Msg("receipt verification failed")
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	if rec.Status == pixflow.StatusNone {
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice " + rec.Label() + " does not exist"})
		return
	}

	view := NewReceiptView(*rec)
	if h.cfg.addressURL != nil {
		if rec.Merchant != "" {
			view.MerchantURL = h.cfg.addressURL(rec.Merchant)
		}
		if rec.Token != "" {
			view.TokenURL = h.cfg.addressURL(rec.Token)
		}
	}
	c.JSON(http.StatusOK, view)
}

type decodeRequest struct {
	Payload string `json:"payload" binding:"required"`
}

func (h *handlers) decodePayload(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be {\"payload\": \"...\"}"})
		return
	}
	p, err := payload.Decode(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// classify maps an engine error to a status code and a client-safe message.
func classify(err error) (int, string) {
	var verr *pixflow.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ledger did not answer in time"
	case pixflow.IsRemoteCallError(err):
		return http.StatusBadGateway, "ledger unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/health") {
			return
		}
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
