package cancellation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jetsetgo/travelpay/internal/domain"
	"github.com/jetsetgo/travelpay/internal/gateway/arcpay"
	"github.com/jetsetgo/travelpay/internal/kafka"
	"github.com/jetsetgo/travelpay/internal/provider/amadeus"
	"github.com/jetsetgo/travelpay/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrBookingNotFound = errors.New("booking not found")

type CancellationUseCase interface {
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
}

type Gateway interface {
	RetrieveOrder(ctx context.Context, orderID string) (*arcpay.OrderDetails, error)
	Void(ctx context.Context, orderID, txnID, targetTxnID string) (*arcpay.OperationResult, error)
	Refund(ctx context.Context, orderID, txnID string, amount decimal.Decimal, currency string) (*arcpay.OperationResult, error)
}

type Provider interface {
	CancelOrder(ctx context.Context, orderID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type CancellationService struct {
	bookings           repository.BookingRepository
	payments           repository.PaymentRepository
	gateway            Gateway
	provider           Provider
	producer           Producer
	paymentsTopic      string
	notificationsTopic string
	logger             *zap.Logger
}

type CancellationServiceOption func(*CancellationService)

func WithNotificationsTopic(topic string) CancellationServiceOption {
	return func(s *CancellationService) {
		s.notificationsTopic = topic
	}
}

func NewCancellationService(
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	gateway Gateway,
	provider Provider,
	producer Producer,
	paymentsTopic string,
	logger *zap.Logger,
	opts ...CancellationServiceOption,
) *CancellationService {
	service := &CancellationService{
		bookings:      bookings,
		payments:      payments,
		gateway:       gateway,
		provider:      provider,
		producer:      producer,
		paymentsTopic: paymentsTopic,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type CancelInput struct {
	BookingReference string
	Reason           string
	Actor            string
}

// Steps reports which side of the distributed cancellation actually went
// through, so callers can tell "fully reconciled" from "refund pending".
type Steps struct {
	Provider bool `json:"amadeus"`
	Gateway  bool `json:"arcPay"`
}

type CancelResult struct {
	Booking *domain.Booking
	Steps   Steps
}

// Cancel runs the cancellation saga: release the order at the booking
// provider, compensate the money movement at the gateway, and always leave
// the booking in a terminal cancelled state. Partial failure is a modeled
// outcome, never a rollback: the trip is off once the customer asked, and
// refund_pending marks the follow-up for the back office.
func (s *CancellationService) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	booking, err := s.bookings.GetByReference(ctx, input.BookingReference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if booking.Status == domain.BookingStatusCancelled {
		result := &CancelResult{Booking: booking}
		if booking.Cancellation != nil {
			result.Steps.Provider = booking.Cancellation.ProviderCancelled
		}
		result.Steps.Gateway = booking.PaymentStatus == domain.BookingPaymentRefunded
		return result, nil
	}

	meta := domain.Cancellation{
		Reason:      input.Reason,
		Actor:       input.Actor,
		CancelledAt: time.Now().UTC(),
	}

	providerOK := s.cancelAtProvider(ctx, booking, &meta)
	gatewayOK := s.compensateAtGateway(ctx, booking)

	paymentStatus := domain.BookingPaymentRefundPending
	if gatewayOK {
		paymentStatus = domain.BookingPaymentRefunded
	}

	cancelled, err := s.bookings.MarkCancelled(ctx, booking.Reference, paymentStatus, meta)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_cancelled", cancelled)

	return &CancelResult{
		Booking: cancelled,
		Steps:   Steps{Provider: providerOK, Gateway: gatewayOK},
	}, nil
}

// cancelAtProvider releases the inventory-side order. NOT_FOUND means the
// order is already gone and is tolerated; any other failure is recorded
// but never blocks the financial compensation.
func (s *CancellationService) cancelAtProvider(ctx context.Context, booking *domain.Booking, meta *domain.Cancellation) bool {
	orderID := s.providerOrderID(booking)
	err := s.provider.CancelOrder(ctx, orderID)
	switch {
	case err == nil:
		meta.ProviderCancelled = true
		return true
	case errors.Is(err, amadeus.ErrOrderNotFound):
		s.logger.Info("provider order already gone", zap.String("reference", booking.Reference), zap.String("order_id", orderID))
		meta.ProviderError = "order not found at provider"
		return false
	default:
		s.logger.Warn("provider cancel failed, proceeding to gateway compensation",
			zap.String("reference", booking.Reference), zap.Error(err))
		meta.ProviderError = err.Error()
		return false
	}
}

func (s *CancellationService) providerOrderID(booking *domain.Booking) string {
	if booking.ProviderOrderID != "" {
		return booking.ProviderOrderID
	}
	if booking.Details != nil {
		if id, ok := booking.Details["provider_order_id"].(string); ok && id != "" {
			return id
		}
	}
	return booking.Reference
}

// compensateAtGateway picks void or refund off the payment's capture
// state: completed means funds moved and must be refunded, authenticated
// means only an authorization exists and is voided.
func (s *CancellationService) compensateAtGateway(ctx context.Context, booking *domain.Booking) bool {
	if booking.PaymentID == "" {
		s.logger.Warn("booking has no linked payment, nothing to compensate", zap.String("reference", booking.Reference))
		return false
	}
	payment, err := s.payments.GetByID(ctx, booking.PaymentID)
	if err != nil {
		s.logger.Error("linked payment lookup failed", zap.String("reference", booking.Reference), zap.Error(err))
		return false
	}

	switch payment.Status {
	case domain.PaymentStatusCompleted:
		return s.refund(ctx, payment)
	case domain.PaymentStatusAuthenticated:
		return s.void(ctx, payment)
	case domain.PaymentStatusRefunded, domain.PaymentStatusVoided:
		// Compensation already happened on a previous attempt.
		return true
	case domain.PaymentStatusRefundPending:
		return s.retryRefund(ctx, payment)
	default:
		s.logger.Warn("payment not in a compensatable state",
			zap.String("payment_id", payment.ID), zap.String("status", string(payment.Status)))
		return false
	}
}

func (s *CancellationService) refund(ctx context.Context, payment *domain.Payment) bool {
	pending, err := s.payments.UpdateStatusIf(ctx, payment.ID, domain.PaymentStatusCompleted, domain.PaymentStatusRefundPending)
	if err != nil {
		s.logger.Error("failed to mark refund pending", zap.String("payment_id", payment.ID), zap.Error(err))
		return false
	}
	return s.issueRefund(ctx, pending)
}

func (s *CancellationService) retryRefund(ctx context.Context, payment *domain.Payment) bool {
	return s.issueRefund(ctx, payment)
}

func (s *CancellationService) issueRefund(ctx context.Context, payment *domain.Payment) bool {
	amount := payment.Amount
	currency := payment.Currency
	// Refund exactly what the gateway recorded as captured when it
	// disagrees with the local amount (partial capture).
	if details, err := s.gateway.RetrieveOrder(ctx, s.gatewayOrderID(payment)); err == nil {
		if details.TotalCapturedAmount.IsPositive() && details.TotalCapturedAmount.LessThan(amount) {
			amount = details.TotalCapturedAmount
		}
		if details.Currency != "" {
			currency = details.Currency
		}
	}

	txnID := uuid.NewString()
	if _, err := s.gateway.Refund(ctx, s.gatewayOrderID(payment), txnID, amount, currency); err != nil {
		// Never claim a refund the gateway did not confirm. The payment
		// stays refund_pending for the back office.
		s.logger.Warn("gateway refund failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return false
	}

	if _, err := s.payments.UpdateStatusIf(ctx, payment.ID, domain.PaymentStatusRefundPending, domain.PaymentStatusRefunded); err != nil {
		s.logger.Error("refund succeeded but status write failed", zap.String("payment_id", payment.ID), zap.Error(err))
	}
	return true
}

func (s *CancellationService) void(ctx context.Context, payment *domain.Payment) bool {
	targetTxnID := ""
	if details, err := s.gateway.RetrieveOrder(ctx, s.gatewayOrderID(payment)); err == nil {
		targetTxnID = details.AuthenticationTransactionID()
	}

	txnID := uuid.NewString()
	if _, err := s.gateway.Void(ctx, s.gatewayOrderID(payment), txnID, targetTxnID); err != nil {
		s.logger.Warn("gateway void failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return false
	}

	if _, err := s.payments.UpdateStatusIf(ctx, payment.ID, domain.PaymentStatusAuthenticated, domain.PaymentStatusVoided); err != nil {
		s.logger.Error("void succeeded but status write failed", zap.String("payment_id", payment.ID), zap.Error(err))
	}
	return true
}

func (s *CancellationService) gatewayOrderID(payment *domain.Payment) string {
	if payment.GatewayOrderID != "" {
		return payment.GatewayOrderID
	}
	return payment.ID
}

func (s *CancellationService) publish(ctx context.Context, eventType string, booking *domain.Booking) {
	if s.producer == nil || s.paymentsTopic == "" {
		return
	}
	email := ""
	if booking.Details != nil {
		if v, ok := booking.Details["customer_email"].(string); ok {
			email = v
		}
	}
	event := kafka.PaymentEvent{
		Type:             eventType,
		PaymentID:        booking.PaymentID,
		BookingReference: booking.Reference,
		Status:           string(booking.PaymentStatus),
		Email:            email,
		OccurredAt:       time.Now(),
	}
	if err := s.producer.Publish(ctx, s.paymentsTopic, booking.Reference, event); err != nil {
		s.logger.Warn("failed to publish cancellation event", zap.String("reference", booking.Reference), zap.Error(err))
		return
	}
	if s.notificationsTopic != "" {
		if err := s.producer.Publish(ctx, s.notificationsTopic, booking.Reference, event); err != nil {
			s.logger.Warn("failed to publish cancellation notification", zap.String("reference", booking.Reference), zap.Error(err))
		}
	}
}

var _ CancellationUseCase = (*CancellationService)(nil)
