package dispatch

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/swiftsip/dispatch/internal/domain/order"
)

// Sentinel errors for dispatch operations.
var (
	// ErrOrderInProgress is returned by Assign while another order is active.
	// The model supports exactly one active job per partner.
	ErrOrderInProgress = errors.New("an order is already in progress")

	// ErrInvalidOTP is returned when the entered delivery OTP does not match
	// the order's OTP exactly. The caller may retry indefinitely.
	ErrInvalidOTP = errors.New("invalid otp")

	// ErrInvalidRating is returned for customer ratings outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// NoActiveOrderError indicates an operation referenced an order that is not
// the partner's current order: either no order is active, or the ID is stale
// (double-submit, or the order already reached a terminal state).
type NoActiveOrderError struct {
	OrderID string
}

func (e *NoActiveOrderError) Error() string {
	return fmt.Sprintf("order %s is not the active order", e.OrderID)
}

// InvalidTransitionError indicates an operation was invoked from a state that
// does not permit it, e.g. marking pickup before accepting.
type InvalidTransitionError struct {
	Op   string
	From order.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s an order in state %s", e.Op, e.From)
}
