package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/runningoffcode/Payflix-sub002/internal/db"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
)

// PostgresVideoRepository reads the video catalog the authorizer prices
// against. Catalog writes happen through the web app; this subsystem only
// needs the price and recipient wallet.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create stores a new catalog entry.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (id, creator_wallet, title, price, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5)
    `, video.ID, video.CreatorWallet, video.Title, video.Price.String(), video.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert video: %w", err)
	}

	return nil
}

// FindByID fetches a catalog entry by its identifier.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, creator_wallet, title, price, created_at
        FROM videos
        WHERE id = $1
    `, id)

	var (
		video models.Video
		price pgtype.Numeric
	)
	if err := row.Scan(&video.ID, &video.CreatorWallet, &video.Title, &price, &video.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}

	if video.Price, err = decimalFromNumeric(price); err != nil {
		return models.Video{}, fmt.Errorf("price: %w", err)
	}

	video.CreatedAt = video.CreatedAt.UTC()
	return video, nil
}
