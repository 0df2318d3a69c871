package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftsip/dispatch/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Only
// terminal orders are written; the row is never updated afterwards.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const appendOrderSQL = `
INSERT INTO orders (
	id, partner_id, vendor_name, vendor_address,
	customer_name, customer_address, customer_phone,
	items, total_amount, delivery_fee, otp, status,
	payment_method, estimated_time, distance,
	assigned_at, accepted_at, picked_up_at, delivered_at,
	cancel_reason, cancel_cause
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (id) DO NOTHING`

// Append persists a terminal order. Line items are serialized to JSON for the
// JSONB column. A replayed append of the same order ID is a no-op, which
// keeps delivery retries idempotent.
func (r *OrderRepository) Append(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	_, err = r.pool.Exec(ctx, appendOrderSQL,
		o.ID, o.PartnerID, o.VendorName, o.VendorAddress,
		o.CustomerName, o.CustomerAddress, o.CustomerPhone,
		itemsJSON, o.TotalAmount, o.DeliveryFee, o.OTP, string(o.Status),
		o.PaymentMethod, o.EstimatedTime, o.Distance,
		o.AssignedAt, o.AcceptedAt, o.PickedUpAt, o.DeliveredAt,
		o.CancelReason, string(o.CancelCause),
	)
	if err != nil {
		return errors.Wrapf(err, "append order %q", o.ID)
	}
	return nil
}

const listOrdersSQL = `
SELECT
	id, partner_id, vendor_name, vendor_address,
	customer_name, customer_address, customer_phone,
	items, total_amount, delivery_fee, otp, status,
	payment_method, estimated_time, distance,
	assigned_at, accepted_at, picked_up_at, delivered_at,
	cancel_reason, cancel_cause
FROM orders
WHERE partner_id = $1
ORDER BY assigned_at DESC`

// ListByPartner returns the partner's order history, newest first.
func (r *OrderRepository) ListByPartner(ctx context.Context, partnerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, partnerID)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var (
			o           order.Order
			itemsJSON   []byte
			status      string
			cancelCause string
		)
		err := rows.Scan(
			&o.ID, &o.PartnerID, &o.VendorName, &o.VendorAddress,
			&o.CustomerName, &o.CustomerAddress, &o.CustomerPhone,
			&itemsJSON, &o.TotalAmount, &o.DeliveryFee, &o.OTP, &status,
			&o.PaymentMethod, &o.EstimatedTime, &o.Distance,
			&o.AssignedAt, &o.AcceptedAt, &o.PickedUpAt, &o.DeliveredAt,
			&o.CancelReason, &cancelCause,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}

		if o.Status, err = order.ParseStatus(status); err != nil {
			return nil, errors.Wrapf(err, "order %q", o.ID)
		}
		o.CancelCause = order.CancelCause(cancelCause)

		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, errors.Wrapf(err, "unmarshal items of order %q", o.ID)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
