package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftsip/dispatch/internal/dispatch"
)

var _ dispatch.IssueRecorder = (*IssueRepository)(nil)

// IssueRepository persists issue reports backed by PostgreSQL.
type IssueRepository struct {
	pool *pgxpool.Pool
}

// NewIssueRepository returns an IssueRepository that uses the given pool.
func NewIssueRepository(pool *pgxpool.Pool) *IssueRepository {
	return &IssueRepository{pool: pool}
}

const recordIssueSQL = `
INSERT INTO issue_reports (id, order_id, partner_id, category, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Record stores one issue report.
func (r *IssueRepository) Record(ctx context.Context, report dispatch.IssueReport) error {
	_, err := r.pool.Exec(ctx, recordIssueSQL,
		uuid.New().String(),
		report.OrderID, report.PartnerID,
		report.Category, report.Description,
		report.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "record issue for order %q", report.OrderID)
	}
	return nil
}
