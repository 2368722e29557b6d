package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jetsetgo/travelpay/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrPreconditionFailed means another writer changed the row's status
	// first. Callers must re-read and no-op instead of retrying the write.
	ErrPreconditionFailed = errors.New("status precondition failed")
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error)
	GetBySuccessIndicator(ctx context.Context, indicator string) (*domain.Payment, error)
	GetCompletedByQuoteID(ctx context.Context, quoteID string) (*domain.Payment, error)
	UpdateStatusIf(ctx context.Context, id string, from, to domain.PaymentStatus) (*domain.Payment, error)
	SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error
	ListStuckAuthenticated(ctx context.Context, olderThan time.Time) ([]domain.Payment, error)
}

type PGPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &PGPaymentRepository{db: db}
}

const paymentColumns = `id, quote_id, amount, currency, status, session_id, success_indicator, gateway_order_id, customer_email, customer_name, return_url, cancel_url, created_at, completed_at, updated_at`

func (r *PGPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if p.Status == "" {
		p.Status = domain.PaymentStatusPending
	}
	return r.db.QueryRow(ctx, `INSERT INTO payments (id, quote_id, amount, currency, status, session_id, success_indicator, gateway_order_id, customer_email, customer_name, return_url, cancel_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		p.ID, p.QuoteID, p.Amount, p.Currency, p.Status, p.SessionID, p.SuccessIndicator, p.GatewayOrderID, p.CustomerEmail, p.CustomerName, p.ReturnURL, p.CancelURL).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PGPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (r *PGPaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id=$1 ORDER BY created_at DESC LIMIT 1`, sessionID))
}

func (r *PGPaymentRepository) GetBySuccessIndicator(ctx context.Context, indicator string) (*domain.Payment, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE success_indicator=$1 ORDER BY created_at DESC LIMIT 1`, indicator))
}

func (r *PGPaymentRepository) GetCompletedByQuoteID(ctx context.Context, quoteID string) (*domain.Payment, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE quote_id=$1 AND status=$2`, quoteID, domain.PaymentStatusCompleted))
}

// UpdateStatusIf performs a compare-and-set transition so two concurrent
// callback deliveries cannot both move the same payment forward.
func (r *PGPaymentRepository) UpdateStatusIf(ctx context.Context, id string, from, to domain.PaymentStatus) (*domain.Payment, error) {
	completedAt := "completed_at"
	if to == domain.PaymentStatusCompleted {
		completedAt = "now()"
	}
	row := r.db.QueryRow(ctx, `UPDATE payments SET status=$1, completed_at=`+completedAt+`, updated_at=now() WHERE id=$2 AND status=$3 RETURNING `+paymentColumns, to, id, from)
	p, err := r.scanOne(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrPreconditionFailed
		}
		return nil, ErrNotFound
	}
	return p, err
}

func (r *PGPaymentRepository) SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE payments SET gateway_order_id=$1, updated_at=now() WHERE id=$2`, gatewayOrderID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGPaymentRepository) ListStuckAuthenticated(ctx context.Context, olderThan time.Time) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status=$1 AND updated_at <= $2 ORDER BY updated_at`, domain.PaymentStatusAuthenticated, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stuck []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		stuck = append(stuck, *p)
	}
	return stuck, rows.Err()
}

func (r *PGPaymentRepository) scanOne(row pgx.Row) (*domain.Payment, error) {
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var amount decimal.Decimal
	var status string
	if err := row.Scan(&p.ID, &p.QuoteID, &amount, &p.Currency, &status, &p.SessionID, &p.SuccessIndicator, &p.GatewayOrderID, &p.CustomerEmail, &p.CustomerName, &p.ReturnURL, &p.CancelURL, &p.CreatedAt, &p.CompletedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.ParsePaymentStatus(status)
	if err != nil {
		return nil, err
	}
	p.Amount = amount
	p.Status = parsed
	return &p, nil
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)
