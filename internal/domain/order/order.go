package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a delivery order.
type Status string

const (
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ErrUnknownStatus is returned when parsing an unrecognized status string.
var ErrUnknownStatus = errors.New("unknown order status")

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAssigned, StatusAccepted, StatusPickedUp, StatusDelivered, StatusCancelled:
		return Status(s), nil
	}
	return "", errors.Wrap(ErrUnknownStatus, s)
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CancelCause records how a cancelled order ended up cancelled. The
// distinction is kept on the order itself, not only in notification text, so
// history queries can separate partner rejections from expired assignments.
type CancelCause string

const (
	CancelManual  CancelCause = "manual"
	CancelTimeout CancelCause = "timeout"
)

// LineItem is a single ordered product line.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is one delivery job assigned to a partner.
//
// The OTP is known to the system and to the customer; the partner must obtain
// it at handoff. Comparison is exact-string: leading zeros are significant.
type Order struct {
	ID              string
	PartnerID       string
	VendorName      string
	VendorAddress   string
	CustomerName    string
	CustomerAddress string
	CustomerPhone   string
	Items           []LineItem
	TotalAmount     decimal.Decimal
	DeliveryFee     decimal.Decimal
	OTP             string
	Status          Status
	PaymentMethod   string
	EstimatedTime   string
	Distance        string

	AssignedAt  time.Time
	AcceptedAt  *time.Time
	PickedUpAt  *time.Time
	DeliveredAt *time.Time

	// Set only for cancelled orders.
	CancelReason string
	CancelCause  CancelCause
}

// Repository persists terminal orders. Appended orders are never mutated
// again.
type Repository interface {
	Append(ctx context.Context, o *Order) error
	ListByPartner(ctx context.Context, partnerID string) ([]Order, error)
}
