package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jetsetgo/travelpay/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Booking, error)
	MarkCancelled(ctx context.Context, reference string, paymentStatus domain.BookingPaymentStatus, cancellation domain.Cancellation) (*domain.Booking, error)
	SetPaymentStatus(ctx context.Context, reference string, paymentStatus domain.BookingPaymentStatus) error
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `reference, provider_order_id, pnr, travel_type, status, payment_status, payment_id, details, cancellation, created_at, updated_at`

func (r *PGBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	details, err := json.Marshal(b.Details)
	if err != nil {
		return err
	}
	return r.db.QueryRow(ctx, `INSERT INTO bookings (reference, provider_order_id, pnr, travel_type, status, payment_status, payment_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		b.Reference, b.ProviderOrderID, b.PNR, b.TravelType, b.Status, b.PaymentStatus, b.PaymentID, details).
		Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *PGBookingRepository) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE reference=$1`, reference))
}

func (r *PGBookingRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Booking, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_id=$1`, paymentID))
}

// MarkCancelled is the only write path that moves a booking to CANCELLED.
// The cancellation metadata keeps the audit trail the status alone cannot.
func (r *PGBookingRepository) MarkCancelled(ctx context.Context, reference string, paymentStatus domain.BookingPaymentStatus, cancellation domain.Cancellation) (*domain.Booking, error) {
	meta, err := json.Marshal(cancellation)
	if err != nil {
		return nil, err
	}
	return r.scanOne(r.db.QueryRow(ctx, `UPDATE bookings SET status=$1, payment_status=$2, cancellation=$3, updated_at=now() WHERE reference=$4 RETURNING `+bookingColumns,
		domain.BookingStatusCancelled, paymentStatus, meta, reference))
}

func (r *PGBookingRepository) SetPaymentStatus(ctx context.Context, reference string, paymentStatus domain.BookingPaymentStatus) error {
	cmd, err := r.db.Exec(ctx, `UPDATE bookings SET payment_status=$1, updated_at=now() WHERE reference=$2`, paymentStatus, reference)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGBookingRepository) scanOne(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status, paymentStatus string
	var details, cancellation []byte
	if err := row.Scan(&b.Reference, &b.ProviderOrderID, &b.PNR, &b.TravelType, &status, &paymentStatus, &b.PaymentID, &details, &cancellation, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsedStatus, err := domain.ParseBookingStatus(status)
	if err != nil {
		return nil, err
	}
	parsedPayment, err := domain.ParseBookingPaymentStatus(paymentStatus)
	if err != nil {
		return nil, err
	}
	b.Status = parsedStatus
	b.PaymentStatus = parsedPayment
	if len(details) > 0 {
		if err := json.Unmarshal(details, &b.Details); err != nil {
			return nil, err
		}
	}
	if len(cancellation) > 0 {
		var c domain.Cancellation
		if err := json.Unmarshal(cancellation, &c); err != nil {
			return nil, err
		}
		b.Cancellation = &c
	}
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
