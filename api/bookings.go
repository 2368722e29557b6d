package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jetsetgo/travelpay/internal/domain"
	"github.com/jetsetgo/travelpay/internal/repository"
	"github.com/jetsetgo/travelpay/internal/service/cancellation"
)

type BookingHandler struct {
	bookings repository.BookingRepository
	service  cancellation.CancellationUseCase
}

type cancelBookingRequest struct {
	BookingReference string `json:"booking_reference" binding:"required"`
	Email            string `json:"email"`
	Reason           string `json:"reason"`
}

type bookingResponse struct {
	Reference     string         `json:"reference"`
	Status        string         `json:"status"`
	PaymentStatus string         `json:"payment_status"`
	TravelType    string         `json:"travel_type"`
	PNR           string         `json:"pnr,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

func NewBookingHandler(bookings repository.BookingRepository, service cancellation.CancellationUseCase) *BookingHandler {
	return &BookingHandler{bookings: bookings, service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.GET("/:reference", h.get)
	router.POST("/cancel", h.cancel)
}

func (h *BookingHandler) get(c *gin.Context) {
	booking, err := h.bookings.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	actor := "customer"
	if req.Email == "" {
		actor = "admin"
	}

	result, err := h.service.Cancel(c.Request.Context(), cancellation.CancelInput{
		BookingReference: req.BookingReference,
		Reason:           req.Reason,
		Actor:            actor,
	})
	if err != nil {
		if errors.Is(err, cancellation.ErrBookingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"cancellation": result.Steps,
		"booking":      toBookingResponse(result.Booking),
	})
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		Reference:     b.Reference,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		TravelType:    b.TravelType,
		PNR:           b.PNR,
		Details:       b.Details,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
}
