package domain

import (
	"fmt"
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusFailed    BookingStatus = "FAILED"
)

type BookingPaymentStatus string

const (
	BookingPaymentPaid          BookingPaymentStatus = "PAID"
	BookingPaymentRefunded      BookingPaymentStatus = "REFUNDED"
	BookingPaymentRefundPending BookingPaymentStatus = "REFUND_PENDING"
)

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch BookingStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case BookingStatusConfirmed:
		return BookingStatusConfirmed, nil
	case BookingStatusCancelled:
		return BookingStatusCancelled, nil
	case BookingStatusFailed:
		return BookingStatusFailed, nil
	default:
		return "", fmt.Errorf("unknown booking status %q", s)
	}
}

func ParseBookingPaymentStatus(s string) (BookingPaymentStatus, error) {
	switch BookingPaymentStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case BookingPaymentPaid:
		return BookingPaymentPaid, nil
	case BookingPaymentRefunded:
		return BookingPaymentRefunded, nil
	case BookingPaymentRefundPending:
		return BookingPaymentRefundPending, nil
	default:
		return "", fmt.Errorf("unknown booking payment status %q", s)
	}
}

// Cancellation records why and by whom a booking was cancelled, and whether
// the provider-side cancel actually went through.
type Cancellation struct {
	Reason            string    `json:"reason"`
	Actor             string    `json:"actor"`
	CancelledAt       time.Time `json:"cancelled_at"`
	ProviderCancelled bool      `json:"provider_cancelled"`
	ProviderError     string    `json:"provider_error,omitempty"`
}

type Booking struct {
	Reference       string
	ProviderOrderID string
	PNR             string
	TravelType      string
	Status          BookingStatus
	PaymentStatus   BookingPaymentStatus
	PaymentID       string
	Details         map[string]any
	Cancellation    *Cancellation
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
