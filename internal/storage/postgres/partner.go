package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftsip/dispatch/internal/domain/partner"
)

var (
	_ partner.Repository    = (*PartnerRepository)(nil)
	_ partner.KeyRepository = (*PartnerRepository)(nil)
)

// PartnerRepository provides partner profile and API key reads backed by
// PostgreSQL.
type PartnerRepository struct {
	pool *pgxpool.Pool
}

// NewPartnerRepository returns a PartnerRepository that uses the given pool.
func NewPartnerRepository(pool *pgxpool.Pool) *PartnerRepository {
	return &PartnerRepository{pool: pool}
}

const getPartnerSQL = `
SELECT
	id, name, mobile, email,
	driving_license, liquor_license, vehicle_model, license_plate,
	verification_status, rating, total_deliveries,
	acceptance_rate, completion_rate
FROM partners
WHERE id = $1`

// GetByID loads one partner profile. Returns partner.ErrNotFound (wrapped)
// when no row matches.
func (r *PartnerRepository) GetByID(ctx context.Context, id string) (*partner.Partner, error) {
	var p partner.Partner
	err := r.pool.QueryRow(ctx, getPartnerSQL, id).Scan(
		&p.ID, &p.Name, &p.Mobile, &p.Email,
		&p.DrivingLicense, &p.LiquorLicense, &p.VehicleModel, &p.LicensePlate,
		&p.VerificationStatus, &p.Rating, &p.TotalDeliveries,
		&p.AcceptanceRate, &p.CompletionRate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(partner.ErrNotFound, "partner %q", id)
		}
		return nil, errors.Wrapf(err, "get partner %q", id)
	}
	return &p, nil
}

const getKeySQL = `
SELECT id, partner_id, key_hash, name, scopes
FROM api_keys
WHERE key_hash = $1 AND active`

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *PartnerRepository) FindByHash(ctx context.Context, hash string) (*partner.APIKey, error) {
	var k partner.APIKey
	err := r.pool.QueryRow(ctx, getKeySQL, hash).Scan(
		&k.ID, &k.PartnerID, &k.KeyHash, &k.Name, &k.Scopes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, partner.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &k, nil
}
