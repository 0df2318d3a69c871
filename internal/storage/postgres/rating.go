package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftsip/dispatch/internal/dispatch"
)

var _ dispatch.RatingRecorder = (*RatingRepository)(nil)

// RatingRepository persists customer ratings backed by PostgreSQL.
type RatingRepository struct {
	pool *pgxpool.Pool
}

// NewRatingRepository returns a RatingRepository that uses the given pool.
func NewRatingRepository(pool *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{pool: pool}
}

const recordRatingSQL = `
INSERT INTO customer_ratings (order_id, partner_id, stars, feedback, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (order_id) DO NOTHING`

// Record stores the partner's rating for an order's customer. One rating per
// order; replays are no-ops.
func (r *RatingRepository) Record(ctx context.Context, rating dispatch.CustomerRating) error {
	_, err := r.pool.Exec(ctx, recordRatingSQL,
		rating.OrderID, rating.PartnerID,
		rating.Stars, rating.Feedback,
		rating.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "record rating for order %q", rating.OrderID)
	}
	return nil
}
