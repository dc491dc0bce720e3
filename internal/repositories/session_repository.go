package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/db"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

const sessionColumns = `id, payer_wallet, delegate_address, approval_signature,
        approved_amount, spent_amount, status, expires_at, created_at, updated_at`

// PostgresSessionRepository provides PostgreSQL-backed persistence for spending sessions.
type PostgresSessionRepository struct {
	pool db.Pool
}

// NewPostgresSessionRepository constructs a session repository backed by PostgreSQL.
func NewPostgresSessionRepository(pool db.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

// Create persists a new session record. A stale active session for the same
// wallet, one that is past expiry or fully drained, is marked expired in the
// same transaction so it cannot block its replacement. A wallet with a usable
// active session still trips the partial unique index and yields
// session.ErrDuplicateActiveSession.
func (r *PostgresSessionRepository) Create(ctx context.Context, record models.Session) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := record.CreatedAt.UTC()
	if _, err := tx.Exec(ctx, `
        UPDATE sessions
        SET status = $2, updated_at = $3
        WHERE payer_wallet = $1
          AND status = 'active'
          AND (expires_at <= $3 OR approved_amount - spent_amount <= 0)
    `, record.PayerWallet, models.SessionStatusExpired, now); err != nil {
		return fmt.Errorf("supersede stale session: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO sessions (id, payer_wallet, delegate_address, approval_signature,
                approved_amount, spent_amount, status, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)
    `, record.ID, record.PayerWallet, record.DelegateAddress, record.ApprovalSignature,
		record.ApprovedAmount.String(), record.SpentAmount.String(), record.Status,
		record.ExpiresAt.UTC(), now, record.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return session.ErrDuplicateActiveSession
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit(ctx)
}

// FindByID fetches a session by its identifier.
func (r *PostgresSessionRepository) FindByID(ctx context.Context, id string) (models.Session, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+sessionColumns+`
        FROM sessions
        WHERE id = $1
    `, id)

	found, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, session.ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("select session: %w", err)
	}

	return found, nil
}

// FindActiveByWallet returns the payer's usable session: active, unexpired,
// with remaining balance. The most recently created such session wins.
func (r *PostgresSessionRepository) FindActiveByWallet(ctx context.Context, wallet string, now time.Time) (models.Session, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+sessionColumns+`
        FROM sessions
        WHERE payer_wallet = $1
          AND status = 'active'
          AND expires_at > $2
          AND approved_amount - spent_amount > 0
        ORDER BY created_at DESC
        LIMIT 1
    `, wallet, now.UTC())

	found, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, session.ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("select active session: %w", err)
	}

	return found, nil
}

// Debit atomically moves amount from remaining to spent. The balance check
// and the update are a single conditional statement so concurrent debits can
// never jointly overdraw the session.
func (r *PostgresSessionRepository) Debit(ctx context.Context, id string, amount decimal.Decimal, now time.Time) (models.Session, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        UPDATE sessions
        SET spent_amount = spent_amount + $2::numeric,
            updated_at = $3
        WHERE id = $1
          AND status = 'active'
          AND expires_at > $3
          AND approved_amount - spent_amount >= $2::numeric
        RETURNING `+sessionColumns+`
    `, id, amount.String(), now.UTC())

	debited, err := scanSession(row)
	if err == nil {
		return debited, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, fmt.Errorf("debit session: %w", err)
	}

	// No row matched: distinguish missing, inactive, and insufficient.
	existing, findErr := r.FindByID(ctx, id)
	if findErr != nil {
		return models.Session{}, findErr
	}
	if existing.Status != models.SessionStatusActive || !now.Before(existing.ExpiresAt) {
		return models.Session{}, session.ErrSessionInactive
	}
	return models.Session{}, session.ErrInsufficientBalance
}

// Revoke marks the session revoked. Revoking twice is a no-op; the boolean
// reports whether this call performed the transition.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, id string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE sessions
        SET status = $2, updated_at = $3
        WHERE id = $1 AND status <> $2
    `, id, models.SessionStatusRevoked, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}

	if tag.RowsAffected() > 0 {
		return true, nil
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkExpired transitions all active sessions past their expiry. Returns the
// number of sessions expired.
func (r *PostgresSessionRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE sessions
        SET status = $2, updated_at = $1
        WHERE status = $3 AND expires_at <= $1
    `, now.UTC(), models.SessionStatusExpired, models.SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (models.Session, error) {
	var (
		record   models.Session
		approved pgtype.Numeric
		spent    pgtype.Numeric
	)
	if err := row.Scan(&record.ID, &record.PayerWallet, &record.DelegateAddress,
		&record.ApprovalSignature, &approved, &spent, &record.Status,
		&record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return models.Session{}, err
	}

	var err error
	if record.ApprovedAmount, err = decimalFromNumeric(approved); err != nil {
		return models.Session{}, fmt.Errorf("approved_amount: %w", err)
	}
	if record.SpentAmount, err = decimalFromNumeric(spent); err != nil {
		return models.Session{}, fmt.Errorf("spent_amount: %w", err)
	}

	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}
