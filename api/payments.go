package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jetsetgo/travelpay/internal/service/checkout"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	service checkout.CheckoutUseCase
}

type startCheckoutRequest struct {
	QuoteID       string          `json:"quote_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Currency      string          `json:"currency" binding:"required"`
	CustomerEmail string          `json:"customer_email" binding:"required"`
	CustomerName  string          `json:"customer_name"`
	ReturnURL     string          `json:"return_url" binding:"required"`
	CancelURL     string          `json:"cancel_url"`
	Description   string          `json:"description"`
	TravelType    string          `json:"travel_type"`
}

type startCheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	PaymentID   string `json:"payment_id"`
}

type callbackResponse struct {
	Status           string `json:"status"`
	PaymentID        string `json:"payment_id"`
	BookingReference string `json:"booking_reference,omitempty"`
}

func NewPaymentHandler(service checkout.CheckoutUseCase) *PaymentHandler {
	return &PaymentHandler{service: service}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.POST("/checkout", h.startCheckout)
	router.GET("/callback", h.callback)
	router.POST("/:id/reconcile", h.reconcile)
}

func (h *PaymentHandler) startCheckout(c *gin.Context) {
	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := h.service.Start(c.Request.Context(), checkout.StartInput{
		QuoteID:       req.QuoteID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		ReturnURL:     req.ReturnURL,
		CancelURL:     req.CancelURL,
		Description:   req.Description,
		TravelType:    req.TravelType,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, checkout.ErrAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, checkout.ErrPaymentInitiationFailed):
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "payment initiation failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, startCheckoutResponse{
		CheckoutURL: result.CheckoutURL,
		SessionID:   result.SessionID,
		PaymentID:   result.PaymentID,
	})
}

// callback is the browser return URL after hosted checkout. The query
// parameters only locate the payment; the service re-verifies with the
// gateway before anything is finalized.
func (h *PaymentHandler) callback(c *gin.Context) {
	params := checkout.CallbackParams{
		PaymentID:       firstQuery(c, "paymentId", "payment_id", "orderId"),
		SessionID:       firstQuery(c, "sessionId", "session_id", "session.id"),
		ResultIndicator: firstQuery(c, "resultIndicator", "result_indicator"),
	}

	result, err := h.service.HandleCallback(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, checkout.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "payment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	switch result.Outcome {
	case checkout.OutcomeCompleted:
		c.JSON(http.StatusOK, callbackResponse{
			Status:           "confirmed",
			PaymentID:        result.PaymentID,
			BookingReference: result.BookingReference,
		})
	case checkout.OutcomeFailed:
		c.JSON(http.StatusPaymentRequired, callbackResponse{
			Status:    "failed",
			PaymentID: result.PaymentID,
		})
	default:
		// Stuck and in-flight states are presented as processing; the
		// back office resolves them via reconciliation.
		c.JSON(http.StatusOK, callbackResponse{
			Status:    "processing",
			PaymentID: result.PaymentID,
		})
	}
}

func (h *PaymentHandler) reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "payment not found"})
		case errors.Is(err, checkout.ErrInconsistentState):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   err.Error(),
				"report":  reportBody(report),
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": reportBody(report)})
}

func reportBody(report *checkout.ReconcileReport) gin.H {
	if report == nil {
		return nil
	}
	return gin.H{
		"payment_id":        report.PaymentID,
		"action":            string(report.Action),
		"gateway_status":    report.GatewayStatus,
		"captured_amount":   report.CapturedAmount.StringFixed(2),
		"booking_reference": report.BookingReference,
		"error":             report.Error,
	}
}

func firstQuery(c *gin.Context, names ...string) string {
	for _, name := range names {
		if v := c.Query(name); v != "" {
			return v
		}
	}
	return ""
}
