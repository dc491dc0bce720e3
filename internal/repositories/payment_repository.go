package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/runningoffcode/Payflix-sub002/internal/db"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
)

const paymentColumns = `id, payer_wallet, recipient_wallet, video_id, amount,
        tx_signature, status, failure_reason, verified_at, created_at`

// PostgresPaymentRepository provides PostgreSQL-backed persistence for payments.
// Rows are append/update-only: settle outcomes advance status, nothing deletes.
type PostgresPaymentRepository struct {
	pool db.Pool
}

// NewPostgresPaymentRepository constructs a payment repository backed by PostgreSQL.
func NewPostgresPaymentRepository(pool db.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

// Create persists a new payment record.
func (r *PostgresPaymentRepository) Create(ctx context.Context, payment models.Payment) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO payments (id, payer_wallet, recipient_wallet, video_id, amount,
                tx_signature, status, failure_reason, created_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
    `, payment.ID, payment.PayerWallet, payment.RecipientWallet, payment.VideoID,
		payment.Amount.String(), payment.TxSignature, payment.Status,
		payment.FailureReason, payment.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// FindByID fetches a payment by its identifier.
func (r *PostgresPaymentRepository) FindByID(ctx context.Context, id string) (models.Payment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Payment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+paymentColumns+`
        FROM payments
        WHERE id = $1
    `, id)

	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Payment{}, ErrNotFound
		}
		return models.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	return payment, nil
}

// FindVerified returns the verified payment for a (payer, video) pair. This
// is the idempotency lookup: a hit means the purchase already settled and the
// original signature must be returned instead of charging again.
func (r *PostgresPaymentRepository) FindVerified(ctx context.Context, wallet, videoID string) (models.Payment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Payment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+paymentColumns+`
        FROM payments
        WHERE payer_wallet = $1 AND video_id = $2 AND status = $3
        ORDER BY created_at DESC
        LIMIT 1
    `, wallet, videoID, models.PaymentStatusVerified)

	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Payment{}, ErrNotFound
		}
		return models.Payment{}, fmt.Errorf("select verified payment: %w", err)
	}

	return payment, nil
}

// AttachSignature records the broadcast signature on a still-pending payment,
// used when settlement is indeterminate so the follow-up check has the hash.
func (r *PostgresPaymentRepository) AttachSignature(ctx context.Context, id, signature string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE payments
        SET tx_signature = $2
        WHERE id = $1
    `, id, signature)
	if err != nil {
		return fmt.Errorf("attach payment signature: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkVerified records a confirmed settlement.
func (r *PostgresPaymentRepository) MarkVerified(ctx context.Context, id, signature string, verifiedAt time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE payments
        SET status = $2, tx_signature = $3, verified_at = $4, failure_reason = ''
        WHERE id = $1
    `, id, models.PaymentStatusVerified, signature, verifiedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark payment verified: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed records a failed settlement along with the reason.
func (r *PostgresPaymentRepository) MarkFailed(ctx context.Context, id, reason string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE payments
        SET status = $2, failure_reason = $3
        WHERE id = $1
    `, id, models.PaymentStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanPayment(row pgx.Row) (models.Payment, error) {
	var (
		payment    models.Payment
		amount     pgtype.Numeric
		verifiedAt sql.NullTime
	)
	if err := row.Scan(&payment.ID, &payment.PayerWallet, &payment.RecipientWallet,
		&payment.VideoID, &amount, &payment.TxSignature, &payment.Status,
		&payment.FailureReason, &verifiedAt, &payment.CreatedAt); err != nil {
		return models.Payment{}, err
	}

	var err error
	if payment.Amount, err = decimalFromNumeric(amount); err != nil {
		return models.Payment{}, fmt.Errorf("amount: %w", err)
	}

	if verifiedAt.Valid {
		t := verifiedAt.Time.UTC()
		payment.VerifiedAt = &t
	}

	payment.CreatedAt = payment.CreatedAt.UTC()
	return payment, nil
}
