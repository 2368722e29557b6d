package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jetsetgo/travelpay/internal/domain"
	"github.com/jetsetgo/travelpay/internal/gateway/arcpay"
	"github.com/jetsetgo/travelpay/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInconsistentState = errors.New("payment state inconsistent with gateway")

type ReconcileAction string

const (
	// ActionCaptured means the stuck authorization was captured now.
	ActionCaptured ReconcileAction = "CAPTURED"
	// ActionAlreadyCaptured means funds had moved; no mutation was issued
	// at the gateway, only the local record was repaired if behind.
	ActionAlreadyCaptured ReconcileAction = "ALREADY_CAPTURED"
	ActionCaptureFailed   ReconcileAction = "CAPTURE_FAILED"
	ActionNone            ReconcileAction = "NO_ACTION"
)

type ReconcileReport struct {
	PaymentID        string
	Action           ReconcileAction
	GatewayStatus    string
	CapturedAmount   decimal.Decimal
	BookingReference string
	Error            string
}

// Reconcile drives a payment suspected stuck in AUTHENTICATED to
// completion or reports why it cannot. Capture-after-3DS is not guaranteed
// to be triggered by every redirect path, so this is a first-class
// operation, not a repair script.
func (s *CheckoutService) Reconcile(ctx context.Context, paymentID string) (*ReconcileReport, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	details, err := s.gateway.RetrieveOrder(ctx, s.gatewayOrderID(payment))
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		PaymentID:      payment.ID,
		GatewayStatus:  details.Status,
		CapturedAmount: details.TotalCapturedAmount,
	}

	if details.Captured() {
		report.Action = ActionAlreadyCaptured
		if payment.Status != domain.PaymentStatusCompleted {
			report.BookingReference = s.repairCompleted(ctx, payment)
		} else if booking, err := s.bookings.GetByPaymentID(ctx, payment.ID); err == nil {
			report.BookingReference = booking.Reference
		}
		return report, nil
	}

	if details.Status != arcpay.StatusAuthenticated {
		report.Action = ActionNone
		return report, nil
	}

	authTxnID := details.AuthenticationTransactionID()
	if authTxnID == "" {
		report.Action = ActionNone
		report.Error = "no authentication transaction in order history"
		return report, ErrInconsistentState
	}
	s.logger.Info("capturing stuck authenticated payment",
		zap.String("payment_id", payment.ID),
		zap.String("auth_txn_id", authTxnID),
		zap.String("amount", details.Amount.StringFixed(2)))

	// The amount is always the order's own recorded amount, never a guess.
	txnID := uuid.NewString()
	if _, err := s.gateway.Capture(ctx, s.gatewayOrderID(payment), txnID, details.Amount, details.Currency); err != nil {
		report.Action = ActionCaptureFailed
		report.Error = err.Error()
		return report, nil
	}

	report.Action = ActionCaptured
	report.CapturedAmount = details.Amount
	report.BookingReference = s.repairCompleted(ctx, payment)
	return report, nil
}

// ReconcileStuck sweeps payments sitting in AUTHENTICATED beyond the
// configured threshold. Invoked by the worker and on demand.
func (s *CheckoutService) ReconcileStuck(ctx context.Context) ([]ReconcileReport, error) {
	stuck, err := s.payments.ListStuckAuthenticated(ctx, time.Now().Add(-s.stuckAfter))
	if err != nil {
		return nil, err
	}

	var reports []ReconcileReport
	for _, p := range stuck {
		report, err := s.Reconcile(ctx, p.ID)
		if err != nil {
			s.logger.Warn("reconcile sweep entry failed", zap.String("payment_id", p.ID), zap.Error(err))
			if report == nil {
				continue
			}
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (s *CheckoutService) repairCompleted(ctx context.Context, payment *domain.Payment) string {
	updated, err := s.payments.UpdateStatusIf(ctx, payment.ID, payment.Status, domain.PaymentStatusCompleted)
	if errors.Is(err, repository.ErrPreconditionFailed) {
		current, getErr := s.payments.GetByID(ctx, payment.ID)
		if getErr != nil {
			return ""
		}
		updated = current
	} else if err != nil {
		s.logger.Error("failed to mark payment completed during reconcile", zap.String("payment_id", payment.ID), zap.Error(err))
		return ""
	}

	reference, err := s.finalizeBooking(ctx, updated)
	if err != nil {
		s.logger.Error("booking finalization failed during reconcile", zap.String("payment_id", payment.ID), zap.Error(err))
		return ""
	}
	s.publish(ctx, "payment_reconciled", updated, reference)
	return reference
}
