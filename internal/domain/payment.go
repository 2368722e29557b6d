package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusAuthenticated PaymentStatus = "AUTHENTICATED"
	PaymentStatusCompleted     PaymentStatus = "COMPLETED"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
	PaymentStatusVoided        PaymentStatus = "VOIDED"
)

// ParsePaymentStatus normalizes values coming back from the store or from
// gateway responses. Unknown values are rejected rather than stored.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case PaymentStatusPending:
		return PaymentStatusPending, nil
	case PaymentStatusAuthenticated:
		return PaymentStatusAuthenticated, nil
	case PaymentStatusCompleted:
		return PaymentStatusCompleted, nil
	case PaymentStatusFailed:
		return PaymentStatusFailed, nil
	case PaymentStatusRefundPending:
		return PaymentStatusRefundPending, nil
	case PaymentStatusRefunded:
		return PaymentStatusRefunded, nil
	case PaymentStatusVoided:
		return PaymentStatusVoided, nil
	default:
		return "", fmt.Errorf("unknown payment status %q", s)
	}
}

// Terminal reports whether the status may no longer change outside of the
// cancellation saga or reconciliation.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusVoided:
		return true
	}
	return false
}

type Payment struct {
	ID               string
	QuoteID          string
	Amount           decimal.Decimal
	Currency         string
	Status           PaymentStatus
	SessionID        string
	SuccessIndicator string
	GatewayOrderID   string
	CustomerEmail    string
	CustomerName     string
	ReturnURL        string
	CancelURL        string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}
