// Package httpapi exposes the causepay services over HTTP. Handlers parse
// and validate requests, translate service errors to status codes, and
// keep all business rules in the services they call.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	causepay "github.com/causepay/causepay-go"
	"github.com/causepay/causepay-go/funds"
	"github.com/causepay/causepay-go/ledger"
	"github.com/causepay/causepay-go/payment"
	"github.com/causepay/causepay-go/vault"
)

// Handler serves the causepay HTTP API.
type Handler struct {
	payments *payment.Service
	funds    *funds.Processor
	ledger   *ledger.Ledger
	causes   causepay.CauseCatalog
	custody  *vault.Custody
	logger   *slog.Logger
}

// NewHandler wires the API over its services.
func NewHandler(
	payments *payment.Service,
	processor *funds.Processor,
	led *ledger.Ledger,
	causes causepay.CauseCatalog,
	custody *vault.Custody,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		payments: payments,
		funds:    processor,
		ledger:   led,
		causes:   causes,
		custody:  custody,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/payments", h.createPayment)
	r.POST("/payments/:id/supplement", h.supplementPayment)
	r.GET("/payments/:id", h.getPayment)
	r.GET("/causes", h.listCauses)
	r.GET("/wallets/:address/activity", h.walletActivity)
	r.POST("/webhooks/funds", h.fundsWebhook)
	r.GET("/vaults", h.listVaults)
	return r
}

type createPaymentRequest struct {
	Wallet    string  `json:"wallet" binding:"required"`
	Cause     string  `json:"cause"`
	AmountUSD float64 `json:"amountUsd" binding:"required"`
}

func (h *Handler) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, causepay.NewError(causepay.ErrCodeValidation, "invalid request body", err))
		return
	}

	p, err := h.payments.Create(c.Request.Context(),
		causepay.WalletAddress(req.Wallet), causepay.CauseID(req.Cause), req.AmountUSD)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) supplementPayment(c *gin.Context) {
	p, err := h.payments.Supplement(c.Request.Context(), causepay.PaymentID(c.Param("id")))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getPayment(c *gin.Context) {
	p, err := h.payments.Get(causepay.PaymentID(c.Param("id")))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type causeView struct {
	causepay.Cause
	RaisedUSD float64 `json:"raisedUsd"`
}

func (h *Handler) listCauses(c *gin.Context) {
	ctx := c.Request.Context()

	views := make([]causeView, 0)
	for _, cause := range h.causes.Causes() {
		raised, err := h.ledger.RaisedByCause(ctx, cause.ID)
		if err != nil {
			h.serviceError(c, err)
			return
		}
		views = append(views, causeView{Cause: cause, RaisedUSD: raised})
	}
	c.JSON(http.StatusOK, gin.H{"causes": views})
}

func (h *Handler) walletActivity(c *gin.Context) {
	items, err := h.payments.Activity(c.Request.Context(),
		causepay.WalletAddress(c.Param("address")))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": items})
}

// fundsWebhookRequest is the normalized event shape delivered by the
// webhook verification layer. Raw provider payloads and signatures never
// reach this handler.
type fundsWebhookRequest struct {
	PaymentID       string `json:"paymentId"`
	Wallet          string `json:"wallet"`
	Cause           string `json:"cause"`
	AmountCents     int64  `json:"amountCents" binding:"required"`
	SourceReference string `json:"sourceReference" binding:"required"`
}

func (h *Handler) fundsWebhook(c *gin.Context) {
	var req fundsWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, causepay.NewError(causepay.ErrCodeValidation, "invalid request body", err))
		return
	}

	event := causepay.ExternalFundsEvent{
		PaymentID:       causepay.PaymentID(req.PaymentID),
		Wallet:          causepay.WalletAddress(req.Wallet),
		Cause:           causepay.CauseID(req.Cause),
		AmountCents:     req.AmountCents,
		SourceReference: req.SourceReference,
	}

	// Events carrying a payment id confirm a bundled payment; plain events
	// are deposits.
	if event.PaymentID != "" {
		p, err := h.payments.Confirm(c.Request.Context(), event)
		if err != nil {
			h.serviceError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
		return
	}

	receipt, err := h.funds.Process(c.Request.Context(), event)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) listVaults(c *gin.Context) {
	type vaultView struct {
		ID      causepay.VaultID `json:"id"`
		Address string           `json:"address"`
	}

	views := make([]vaultView, 0)
	for _, id := range h.custody.VaultIDs() {
		address, err := h.custody.Address(id)
		if err != nil {
			h.serviceError(c, err)
			return
		}
		views = append(views, vaultView{ID: id, Address: address})
	}
	c.JSON(http.StatusOK, gin.H{"vaults": views})
}

// serviceError maps service errors to HTTP responses. Insufficient funds
// carries the shortfall so clients can prompt for a top-up.
func (h *Handler) serviceError(c *gin.Context, err error) {
	var shortfall *causepay.InsufficientFundsError
	if errors.As(err, &shortfall) {
		writeError(c, causepay.NewError(causepay.ErrCodeInsufficientFunds, shortfall.Error(), nil).
			WithDetails("shortfallUsd", shortfall.Shortfall()).
			WithDetails("availableUsd", shortfall.AvailableUSD))
		return
	}

	switch {
	case errors.Is(err, causepay.ErrValidation):
		writeError(c, causepay.NewError(causepay.ErrCodeValidation, err.Error(), nil))
	case errors.Is(err, causepay.ErrPaymentNotFound), errors.Is(err, causepay.ErrVaultNotFound):
		writeError(c, causepay.NewError(causepay.ErrCodeNotFound, err.Error(), nil))
	case errors.Is(err, causepay.ErrInvalidTransition),
		errors.Is(err, causepay.ErrSupplementInFlight),
		errors.Is(err, causepay.ErrPaymentExpired):
		writeError(c, causepay.NewError(causepay.ErrCodePaymentState, err.Error(), nil))
	case errors.Is(err, causepay.ErrSigningFailed), errors.Is(err, causepay.ErrVaultLocked):
		writeError(c, causepay.NewError(causepay.ErrCodeVaultError, err.Error(), nil))
	case errors.Is(err, causepay.ErrSubmitFailed), errors.Is(err, causepay.ErrExecutorUnavailable):
		writeError(c, causepay.NewError(causepay.ErrCodeSubmitError, err.Error(), nil))
	default:
		h.logger.Error("unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code": "INTERNAL", "message": "internal error",
		}})
	}
}

var statusByCode = map[causepay.ErrorCode]int{
	causepay.ErrCodeValidation:        http.StatusBadRequest,
	causepay.ErrCodeInsufficientFunds: http.StatusPaymentRequired,
	causepay.ErrCodeNotFound:          http.StatusNotFound,
	causepay.ErrCodePaymentState:      http.StatusConflict,
	causepay.ErrCodeVaultError:        http.StatusBadGateway,
	causepay.ErrCodeSubmitError:       http.StatusBadGateway,
}

func writeError(c *gin.Context, e *causepay.Error) {
	status, ok := statusByCode[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": gin.H{
		"code":    e.Code,
		"message": e.Message,
		"details": e.Details,
	}})
}
