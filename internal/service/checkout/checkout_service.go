package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

var (
	ErrValidation              = errors.New("invalid checkout input")
	ErrAlreadyPaid             = errors.New("quote already has a completed payment")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrPaymentNotFound         = errors.New("payment not found")
)

type CheckoutUseCase interface {
	Start(ctx context.Context, input StartInput) (*StartResult, error)
	HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error)
	Reconcile(ctx context.Context, paymentID string) (*ReconcileReport, error)
	ReconcileStuck(ctx context.Context) ([]ReconcileReport, error)
}

// Gateway is the slice of the ARC Pay client this service needs.
type Gateway interface {
	CreateSession(ctx context.Context, req arcpay.SessionRequest) (*arcpay.Session, error)
	RetrieveOrder(ctx context.Context, orderID string) (*arcpay.OrderDetails, error)
	Capture(ctx context.Context, orderID, txnID string, amount decimal.Decimal, currency string) (*arcpay.OperationResult, error)
	HostedCheckoutURL(sessionID string) string
}

type Provider interface {
	CreateOrder(ctx context.Context, payload map[string]any) (*amadeus.Order, error)
}

type Cache interface {
	AcquireCallbackLock(ctx context.Context, paymentID string, ttl time.Duration) (bool, error)
	ReleaseCallbackLock(ctx context.Context, paymentID string) error
	SetSessionPayment(ctx context.Context, sessionID, paymentID string) error
	GetSessionPayment(ctx context.Context, sessionID string) (string, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type CheckoutService struct {
	payments           repository.PaymentRepository
	bookings           repository.BookingRepository
	gateway            Gateway
	provider           Provider
	cache              Cache
	producer           Producer
	paymentsTopic      string
	notificationsTopic string
	currencies         map[string]struct{}
	callbackLockTTL    time.Duration
	stuckAfter         time.Duration
	logger             *zap.Logger
}

type CheckoutServiceOption func(*CheckoutService)

func WithNotificationsTopic(topic string) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.notificationsTopic = topic
	}
}

func WithCallbackLockTTL(ttl time.Duration) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.callbackLockTTL = ttl
	}
}

func WithStuckThreshold(d time.Duration) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.stuckAfter = d
	}
}

func NewCheckoutService(
	payments repository.PaymentRepository,
	bookings repository.BookingRepository,
	gateway Gateway,
	provider Provider,
	cache Cache,
	producer Producer,
	paymentsTopic string,
	currencies []string,
	logger *zap.Logger,
	opts ...CheckoutServiceOption,
) *CheckoutService {
	allowed := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		allowed[strings.ToUpper(c)] = struct{}{}
	}
	service := &CheckoutService{
		payments:        payments,
		bookings:        bookings,
		gateway:         gateway,
		provider:        provider,
		cache:           cache,
		producer:        producer,
		paymentsTopic:   paymentsTopic,
		currencies:      allowed,
		callbackLockTTL: 30 * time.Second,
		stuckAfter:      30 * time.Minute,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

type StartInput struct {
	QuoteID       string          `json:"quote_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name"`
	ReturnURL     string          `json:"return_url"`
	CancelURL     string          `json:"cancel_url"`
	Description   string          `json:"description"`
	TravelType    string          `json:"travel_type"`
}

type StartResult struct {
	CheckoutURL string
	SessionID   string
	PaymentID   string
}

// Start opens a hosted-checkout session and persists the pending payment.
// No booking exists at this point: an abandoned checkout leaves only a
// pending payment row behind.
func (s *CheckoutService) Start(ctx context.Context, input StartInput) (*StartResult, error) {
	if input.QuoteID == "" {
		return nil, fmt.Errorf("%w: quote id is required", ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	currency := strings.ToUpper(input.Currency)
	if _, ok := s.currencies[currency]; !ok {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrValidation, input.Currency)
	}
	if input.CustomerEmail == "" {
		return nil, fmt.Errorf("%w: customer email is required", ErrValidation)
	}

	if existing, err := s.payments.GetCompletedByQuoteID(ctx, input.QuoteID); err == nil && existing != nil {
		return nil, ErrAlreadyPaid
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	paymentID := uuid.NewString()
	session, err := s.gateway.CreateSession(ctx, arcpay.SessionRequest{
		OrderID:     paymentID,
		Amount:      input.Amount,
		Currency:    currency,
		ReturnURL:   input.ReturnURL,
		CancelURL:   input.CancelURL,
		Description: input.Description,
	})
	if err != nil {
		s.logger.Error("session create failed", zap.String("quote_id", input.QuoteID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}

	payment := &domain.Payment{
		ID:               paymentID,
		QuoteID:          input.QuoteID,
		Amount:           input.Amount,
		Currency:         currency,
		Status:           domain.PaymentStatusPending,
		SessionID:        session.SessionID,
		SuccessIndicator: session.SuccessIndicator,
		GatewayOrderID:   paymentID,
		CustomerEmail:    input.CustomerEmail,
		CustomerName:     input.CustomerName,
		ReturnURL:        input.ReturnURL,
		CancelURL:        input.CancelURL,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetSessionPayment(ctx, session.SessionID, paymentID); err != nil {
			s.logger.Warn("session cache write failed", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}
	s.publish(ctx, "payment_initiated", payment, "")

	return &StartResult{
		CheckoutURL: s.gateway.HostedCheckoutURL(session.SessionID),
		SessionID:   session.SessionID,
		PaymentID:   paymentID,
	}, nil
}

// CallbackParams are the redirect query parameters. They only locate which
// payment to re-verify; the gateway is always re-queried for ground truth.
type CallbackParams struct {
	PaymentID       string
	SessionID       string
	ResultIndicator string
}

type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
	// OutcomeAuthenticated means 3DS succeeded but the capture attempt did
	// not go through; the payment is flagged for reconciliation.
	OutcomeAuthenticated Outcome = "AUTHENTICATED"
	// OutcomeUnverified means the gateway could not be reached or the order
	// is still in flight; nothing was mutated locally.
	OutcomeUnverified Outcome = "UNVERIFIED"
	OutcomeInProgress Outcome = "IN_PROGRESS"
)

type CallbackResult struct {
	Outcome                Outcome
	PaymentID              string
	PaymentStatus          domain.PaymentStatus
	BookingReference       string
	RequiresReconciliation bool
}

// HandleCallback reconciles a payment against gateway ground truth after
// the browser returns from hosted checkout. Re-running it against an
// already-completed payment is a no-op that returns the existing booking.
func (s *CheckoutService) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	payment, err := s.locatePayment(ctx, params)
	if err != nil {
		return nil, err
	}

	if payment.Status.Terminal() {
		return s.terminalResult(ctx, payment), nil
	}

	if s.cache != nil {
		locked, err := s.cache.AcquireCallbackLock(ctx, payment.ID, s.callbackLockTTL)
		if err != nil {
			s.logger.Warn("callback lock error", zap.String("payment_id", payment.ID), zap.Error(err))
		} else if !locked {
			// Another delivery of the same redirect is in flight. Re-read
			// and report whatever it has done so far.
			current, err := s.payments.GetByID(ctx, payment.ID)
			if err != nil {
				return nil, err
			}
			if current.Status.Terminal() {
				return s.terminalResult(ctx, current), nil
			}
			return &CallbackResult{Outcome: OutcomeInProgress, PaymentID: current.ID, PaymentStatus: current.Status}, nil
		} else {
			defer func() {
				_ = s.cache.ReleaseCallbackLock(ctx, payment.ID)
			}()
		}
	}

	details, err := s.gateway.RetrieveOrder(ctx, s.gatewayOrderID(payment))
	if err != nil {
		// Unknown outcome. Never mark the payment failed off a transport
		// error; reconciliation will pick it up.
		s.logger.Warn("order retrieve failed during callback", zap.String("payment_id", payment.ID), zap.Error(err))
		return &CallbackResult{
			Outcome:                OutcomeUnverified,
			PaymentID:              payment.ID,
			PaymentStatus:          payment.Status,
			RequiresReconciliation: true,
		}, nil
	}

	switch {
	case details.Result == arcpay.ResultSuccess && details.AuthenticationStatus != arcpay.AuthenticationPending && details.Captured():
		return s.completePayment(ctx, payment, details)

	case details.Status == arcpay.StatusAuthenticated && !details.Captured():
		return s.captureAuthenticated(ctx, payment, details)

	case details.Result == arcpay.ResultFailure:
		return s.failPayment(ctx, payment)

	default:
		s.logger.Info("order not yet settled",
			zap.String("payment_id", payment.ID),
			zap.String("gateway_status", details.Status),
			zap.String("gateway_result", details.Result))
		return &CallbackResult{Outcome: OutcomeUnverified, PaymentID: payment.ID, PaymentStatus: payment.Status}, nil
	}
}

func (s *CheckoutService) locatePayment(ctx context.Context, params CallbackParams) (*domain.Payment, error) {
	if params.PaymentID != "" {
		payment, err := s.payments.GetByID(ctx, params.PaymentID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if params.SessionID != "" {
		if s.cache != nil {
			if id, err := s.cache.GetSessionPayment(ctx, params.SessionID); err == nil && id != "" {
				if payment, err := s.payments.GetByID(ctx, id); err == nil {
					return payment, nil
				}
			}
		}
		payment, err := s.payments.GetBySessionID(ctx, params.SessionID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if params.ResultIndicator != "" {
		payment, err := s.payments.GetBySuccessIndicator(ctx, params.ResultIndicator)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *CheckoutService) terminalResult(ctx context.Context, payment *domain.Payment) *CallbackResult {
	result := &CallbackResult{
		Outcome:       outcomeForStatus(payment.Status),
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
	}
	if payment.Status == domain.PaymentStatusCompleted {
		if booking, err := s.bookings.GetByPaymentID(ctx, payment.ID); err == nil {
			result.BookingReference = booking.Reference
		}
	}
	return result
}

func outcomeForStatus(status domain.PaymentStatus) Outcome {
	switch status {
	case domain.PaymentStatusCompleted:
		return OutcomeCompleted
	case domain.PaymentStatusFailed:
		return OutcomeFailed
	case domain.PaymentStatusAuthenticated:
		return OutcomeAuthenticated
	default:
		return OutcomeUnverified
	}
}

func (s *CheckoutService) completePayment(ctx context.Context, payment *domain.Payment, details *arcpay.OrderDetails) (*CallbackResult, error) {
	updated, err := s.payments.UpdateStatusIf(ctx, payment.ID, payment.Status, domain.PaymentStatusCompleted)
	if errors.Is(err, repository.ErrPreconditionFailed) {
		// Lost the race: the other writer finished the transition. No-op.
		current, err := s.payments.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		return s.terminalResult(ctx, current), nil
	}
	if err != nil {
		return nil, err
	}

	reference, err := s.finalizeBooking(ctx, updated)
	if err != nil {
		s.logger.Error("booking finalization failed", zap.String("payment_id", updated.ID), zap.Error(err))
	}
	s.publish(ctx, "payment_completed", updated, reference)

	return &CallbackResult{
		Outcome:          OutcomeCompleted,
		PaymentID:        updated.ID,
		PaymentStatus:    updated.Status,
		BookingReference: reference,
	}, nil
}

// captureAuthenticated closes the "3DS succeeded but PAY was never
// invoked" gap with exactly one capture attempt.
func (s *CheckoutService) captureAuthenticated(ctx context.Context, payment *domain.Payment, details *arcpay.OrderDetails) (*CallbackResult, error) {
	if payment.Status == domain.PaymentStatusPending {
		updated, err := s.payments.UpdateStatusIf(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentStatusAuthenticated)
		if errors.Is(err, repository.ErrPreconditionFailed) {
			current, err := s.payments.GetByID(ctx, payment.ID)
			if err != nil {
				return nil, err
			}
			if current.Status.Terminal() {
				return s.terminalResult(ctx, current), nil
			}
			payment = current
		} else if err != nil {
			return nil, err
		} else {
			payment = updated
		}
	}

	txnID := uuid.NewString()
	if _, err := s.gateway.Capture(ctx, s.gatewayOrderID(payment), txnID, details.Amount, details.Currency); err != nil {
		s.logger.Warn("capture after 3DS failed, leaving payment for reconciliation",
			zap.String("payment_id", payment.ID), zap.Error(err))
		return &CallbackResult{
			Outcome:                OutcomeAuthenticated,
			PaymentID:              payment.ID,
			PaymentStatus:          domain.PaymentStatusAuthenticated,
			RequiresReconciliation: true,
		}, nil
	}

	return s.completePayment(ctx, payment, details)
}

func (s *CheckoutService) failPayment(ctx context.Context, payment *domain.Payment) (*CallbackResult, error) {
	updated, err := s.payments.UpdateStatusIf(ctx, payment.ID, payment.Status, domain.PaymentStatusFailed)
	if errors.Is(err, repository.ErrPreconditionFailed) {
		current, err := s.payments.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		return s.terminalResult(ctx, current), nil
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "payment_failed", updated, "")
	return &CallbackResult{Outcome: OutcomeFailed, PaymentID: updated.ID, PaymentStatus: updated.Status}, nil
}

// finalizeBooking places the provider order and writes the booking record.
// Idempotent: an existing booking for the payment is returned as is.
func (s *CheckoutService) finalizeBooking(ctx context.Context, payment *domain.Payment) (string, error) {
	if existing, err := s.bookings.GetByPaymentID(ctx, payment.ID); err == nil {
		return existing.Reference, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}

	booking := &domain.Booking{
		Reference:     newBookingReference(),
		TravelType:    "flight",
		Status:        domain.BookingStatusConfirmed,
		PaymentStatus: domain.BookingPaymentPaid,
		PaymentID:     payment.ID,
		Details: map[string]any{
			"quote_id":       payment.QuoteID,
			"customer_email": payment.CustomerEmail,
			"customer_name":  payment.CustomerName,
			"amount":         payment.Amount.StringFixed(2),
			"currency":       payment.Currency,
		},
	}

	order, err := s.provider.CreateOrder(ctx, map[string]any{
		"type":    "flight-order",
		"quoteId": payment.QuoteID,
		"contact": map[string]any{
			"emailAddress": payment.CustomerEmail,
			"name":         payment.CustomerName,
		},
	})
	if err != nil {
		// Funds are captured; the trip order is not. Record the booking as
		// failed so the back office can re-place or refund it.
		s.logger.Error("provider order create failed", zap.String("payment_id", payment.ID), zap.Error(err))
		booking.Status = domain.BookingStatusFailed
		booking.Details["provider_error"] = err.Error()
	} else {
		booking.ProviderOrderID = order.OrderID
		booking.PNR = order.PNR
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return "", err
	}
	return booking.Reference, nil
}

func (s *CheckoutService) gatewayOrderID(payment *domain.Payment) string {
	if payment.GatewayOrderID != "" {
		return payment.GatewayOrderID
	}
	return payment.ID
}

func newBookingReference() string {
	return "TP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (s *CheckoutService) publish(ctx context.Context, eventType string, payment *domain.Payment, bookingReference string) {
	if s.producer == nil || s.paymentsTopic == "" {
		return
	}
	event := kafka.PaymentEvent{
		Type:             eventType,
		PaymentID:        payment.ID,
		QuoteID:          payment.QuoteID,
		BookingReference: bookingReference,
		Amount:           payment.Amount.StringFixed(2),
		Currency:         payment.Currency,
		Status:           string(payment.Status),
		Email:            payment.CustomerEmail,
		OccurredAt:       time.Now(),
	}
	if err := s.producer.Publish(ctx, s.paymentsTopic, payment.ID, event); err != nil {
		s.logger.Warn("failed to publish payment event", zap.String("type", eventType), zap.String("payment_id", payment.ID), zap.Error(err))
		return
	}
	if s.notificationsTopic != "" {
		if err := s.producer.Publish(ctx, s.notificationsTopic, payment.ID, event); err != nil {
			s.logger.Warn("failed to publish notification event", zap.String("type", eventType), zap.String("payment_id", payment.ID), zap.Error(err))
		}
	}
}

var _ CheckoutUseCase = (*CheckoutService)(nil)
