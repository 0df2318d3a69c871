// Package dispatch implements the order lifecycle for a single delivery
// partner: assignment, the accept/reject countdown, pickup, OTP-gated
// delivery completion, and the post-delivery customer rating prompt.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftsip/dispatch/internal/domain/notification"
	"github.com/swiftsip/dispatch/internal/domain/order"
	"github.com/swiftsip/dispatch/internal/domain/partner"
)

// DefaultAcceptWindow is how long a partner has to accept a new assignment
// before it is rejected automatically.
const DefaultAcceptWindow = 30 * time.Second

// TimeoutReason is the system-generated reject reason used when the accept
// countdown expires.
const TimeoutReason = "timed out"

// IssueReport is an informational problem report attached to an active order.
// Reporting an issue never changes the order's status.
type IssueReport struct {
	OrderID     string
	PartnerID   string
	Category    string
	Description string
	CreatedAt   time.Time
}

// IssueRecorder persists issue reports.
type IssueRecorder interface {
	Record(ctx context.Context, report IssueReport) error
}

// CustomerRating is the partner's post-delivery rating of a customer.
type CustomerRating struct {
	OrderID   string
	PartnerID string
	Stars     int
	Feedback  string
	CreatedAt time.Time
}

// RatingRecorder persists customer ratings.
type RatingRecorder interface {
	Record(ctx context.Context, rating CustomerRating) error
}

// RatingPrompt asks the partner to rate the customer of a just-delivered
// order. It holds no identity of its own and is discarded once the rating is
// submitted or skipped.
type RatingPrompt struct {
	OrderID      string
	CustomerName string
}

// Config holds the dependencies and tunables for a Controller.
type Config struct {
	// AcceptWindow is the accept countdown duration. Zero means
	// DefaultAcceptWindow.
	AcceptWindow time.Duration

	History order.Repository
	Issues  IssueRecorder
	Ratings RatingRecorder
	Sink    notification.Sink
	Logger  *zap.Logger

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time

	// OnTransition, when set, is invoked with the operation name after every
	// successful state transition. Used for metrics.
	OnTransition func(op string)
}

// Controller owns the current order and countdown of one partner. All
// operations are serialized by an internal mutex: the accept/reject/pickup/
// deliver sequence requires at-most-one-winner semantics, so two concurrent
// Accept calls on the same order can never both transition it.
type Controller struct {
	partner partner.Partner
	cfg     Config
	lg      *zap.Logger

	mu       sync.Mutex
	current  *order.Order
	deadline time.Time
	timer    *time.Timer
	prompt   *RatingPrompt
}

// NewController creates a Controller for the given partner.
func NewController(p partner.Partner, cfg Config) *Controller {
	if cfg.AcceptWindow <= 0 {
		cfg.AcceptWindow = DefaultAcceptWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{
		partner: p,
		cfg:     cfg,
		lg:      cfg.Logger.With(zap.String("partner_id", p.ID)),
	}
}

// Partner returns the profile this controller dispatches for.
func (c *Controller) Partner() partner.Partner { return c.partner }

// Assign hands a new order to the partner and starts the accept countdown.
// It fails with ErrOrderInProgress while another order is active.
func (c *Controller) Assign(ctx context.Context, o order.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if c.current != nil {
		return ErrOrderInProgress
	}

	now := c.cfg.Now()
	o.PartnerID = c.partner.ID
	o.Status = order.StatusAssigned
	o.AssignedAt = now
	c.current = &o
	c.deadline = now.Add(c.cfg.AcceptWindow)

	// The timer is a wake-up call, not the source of truth: expiry is always
	// re-checked against the deadline with the current clock, so a stale
	// timer can never reject a newer order that reused this slot.
	id := o.ID
	c.timer = time.AfterFunc(c.cfg.AcceptWindow, func() {
		c.expire(id)
	})

	c.transitionLocked(ctx, "assign", notification.Event{
		Title:    "New Order",
		Message:  fmt.Sprintf("Order %s from %s, ₹%s delivery fee", o.ID, o.VendorName, o.DeliveryFee.String()),
		Category: notification.CategoryOrder,
		Priority: notification.PriorityHigh,
	})
	return nil
}

// Accept confirms the assignment and stops the countdown. Accepting an order
// that is already accepted is a successful no-op, so client retries under
// network failure do not surface errors.
func (c *Controller) Accept(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if err := c.matchLocked(orderID); err != nil {
		return err
	}
	if c.current.Status == order.StatusAccepted {
		return nil
	}
	if c.current.Status != order.StatusAssigned {
		return &InvalidTransitionError{Op: "accept", From: c.current.Status}
	}

	c.stopCountdownLocked()
	now := c.cfg.Now()
	c.current.Status = order.StatusAccepted
	c.current.AcceptedAt = &now

	c.transitionLocked(ctx, "accept", notification.Event{
		Title:    "Order Accepted",
		Message:  fmt.Sprintf("Order %s accepted", orderID),
		Category: notification.CategoryOrder,
		Priority: notification.PriorityMedium,
	})
	return nil
}

// Reject declines the current assignment. The countdown expiry path calls
// this internally with TimeoutReason.
func (c *Controller) Reject(ctx context.Context, orderID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if err := c.matchLocked(orderID); err != nil {
		return err
	}
	if c.current.Status != order.StatusAssigned {
		return &InvalidTransitionError{Op: "reject", From: c.current.Status}
	}

	c.cancelLocked(ctx, reason, order.CancelManual)
	return nil
}

// MarkPickedUp records that the partner collected the order from the vendor.
// Marking an already picked-up order again is a successful no-op.
func (c *Controller) MarkPickedUp(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if err := c.matchLocked(orderID); err != nil {
		return err
	}
	if c.current.Status == order.StatusPickedUp {
		return nil
	}
	if c.current.Status != order.StatusAccepted {
		return &InvalidTransitionError{Op: "mark picked up", From: c.current.Status}
	}

	now := c.cfg.Now()
	c.current.Status = order.StatusPickedUp
	c.current.PickedUpAt = &now

	c.transitionLocked(ctx, "pickup", notification.Event{
		Title:    "Order Picked Up",
		Message:  fmt.Sprintf("Order %s picked up from %s", orderID, c.current.VendorName),
		Category: notification.CategoryOrder,
		Priority: notification.PriorityLow,
	})
	return nil
}

// MarkDelivered completes the delivery. The entered OTP must equal the
// order's OTP exactly; no normalization is applied, so "0099" never matches
// "99". On a mismatch the order stays picked_up, nothing is emitted, and the
// partner may retry.
//
// On success the order is appended to history, the current slot is cleared,
// and a rating prompt for the customer is opened.
func (c *Controller) MarkDelivered(ctx context.Context, orderID, enteredOTP string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if err := c.matchLocked(orderID); err != nil {
		return err
	}
	if c.current.Status != order.StatusPickedUp {
		return &InvalidTransitionError{Op: "mark delivered", From: c.current.Status}
	}
	if enteredOTP != c.current.OTP {
		return ErrInvalidOTP
	}

	now := c.cfg.Now()
	completed := *c.current
	completed.Status = order.StatusDelivered
	completed.DeliveredAt = &now

	// History is part of the delivery transition: if the append fails the
	// order stays picked_up and the partner can retry with the same OTP.
	if c.cfg.History != nil {
		if err := c.cfg.History.Append(ctx, &completed); err != nil {
			return errors.Wrap(err, "append delivered order")
		}
	}

	c.current = nil
	c.prompt = &RatingPrompt{
		OrderID:      completed.ID,
		CustomerName: completed.CustomerName,
	}

	c.transitionLocked(ctx, "deliver", notification.Event{
		Title:    "Delivery Complete!",
		Message:  fmt.Sprintf("₹%s earned from delivery", completed.DeliveryFee.String()),
		Category: notification.CategoryEarning,
		Priority: notification.PriorityMedium,
	})
	return nil
}

// ReportIssue attaches an informational issue report to the active order.
// The order's status is never changed by a report.
func (c *Controller) ReportIssue(ctx context.Context, orderID, description, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if err := c.matchLocked(orderID); err != nil {
		return err
	}

	if c.cfg.Issues != nil {
		report := IssueReport{
			OrderID:     orderID,
			PartnerID:   c.partner.ID,
			Category:    category,
			Description: description,
			CreatedAt:   c.cfg.Now(),
		}
		if err := c.cfg.Issues.Record(ctx, report); err != nil {
			c.lg.Warn("record issue report", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	c.emitLocked(ctx, notification.Event{
		Title:    "Issue Reported",
		Message:  fmt.Sprintf("Your issue has been reported: %s", category),
		Category: notification.CategorySystem,
		Priority: notification.PriorityMedium,
	})
	return nil
}

// RateCustomer submits the customer rating for the open prompt and clears it.
// Calling it after the prompt is gone is a no-op.
func (c *Controller) RateCustomer(ctx context.Context, orderID string, stars int, feedback string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prompt == nil {
		return nil
	}
	if c.prompt.OrderID != orderID {
		return &NoActiveOrderError{OrderID: orderID}
	}
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}

	customer := c.prompt.CustomerName
	if c.cfg.Ratings != nil {
		rating := CustomerRating{
			OrderID:   orderID,
			PartnerID: c.partner.ID,
			Stars:     stars,
			Feedback:  feedback,
			CreatedAt: c.cfg.Now(),
		}
		if err := c.cfg.Ratings.Record(ctx, rating); err != nil {
			return errors.Wrap(err, "record customer rating")
		}
	}

	c.prompt = nil
	c.emitLocked(ctx, notification.Event{
		Title:    "Customer Rated",
		Message:  fmt.Sprintf("You rated %s %d stars", customer, stars),
		Category: notification.CategorySystem,
		Priority: notification.PriorityLow,
	})
	return nil
}

// SkipRating discards the open rating prompt without recording a rating.
// It is a no-op when no prompt is open.
func (c *Controller) SkipRating() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = nil
}

// Current returns a copy of the active order, or nil when the partner is
// idle. Polling Current also settles an expired countdown, so callers always
// observe the post-expiry state even if the timer goroutine has not run yet.
func (c *Controller) Current(ctx context.Context) *order.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if c.current == nil {
		return nil
	}
	o := *c.current
	return &o
}

// Remaining returns the whole seconds left on the accept countdown, and
// whether a countdown is running. The value is derived from the stored
// deadline and the clock, never from tick counting, so missed timer fires
// cannot stretch the window.
func (c *Controller) Remaining(ctx context.Context) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireDueLocked(ctx)

	if c.current == nil || c.current.Status != order.StatusAssigned {
		return 0, false
	}
	left := c.deadline.Sub(c.cfg.Now())
	if left < 0 {
		left = 0
	}
	secs := int((left + time.Second - 1) / time.Second)
	return secs, true
}

// PendingRating returns the open rating prompt, or nil.
func (c *Controller) PendingRating() *RatingPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prompt == nil {
		return nil
	}
	p := *c.prompt
	return &p
}

// expire is the countdown timer callback.
func (c *Controller) expire(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Identity check, not a boolean flag: the timer must never act on a
	// different order than the one it was armed for.
	if c.current == nil || c.current.ID != orderID {
		return
	}
	c.expireDueLocked(context.Background())
}

// expireDueLocked settles an overdue countdown before the caller's operation
// proceeds. It fires at most once per assignment: the timeout reject clears
// the current order, so a second call finds nothing to do.
func (c *Controller) expireDueLocked(ctx context.Context) {
	if c.current == nil || c.current.Status != order.StatusAssigned {
		return
	}
	if c.cfg.Now().Before(c.deadline) {
		return
	}
	c.cancelLocked(ctx, TimeoutReason, order.CancelTimeout)
}

// cancelLocked moves the current order to cancelled, persists the record, and
// clears the slot.
func (c *Controller) cancelLocked(ctx context.Context, reason string, cause order.CancelCause) {
	c.stopCountdownLocked()

	cancelled := *c.current
	cancelled.Status = order.StatusCancelled
	cancelled.CancelReason = reason
	cancelled.CancelCause = cause

	// Best effort: the cancellation itself does not depend on the record
	// being written.
	if c.cfg.History != nil {
		if err := c.cfg.History.Append(ctx, &cancelled); err != nil {
			c.lg.Warn("append cancelled order", zap.String("order_id", cancelled.ID), zap.Error(err))
		}
	}

	c.current = nil
	c.transitionLocked(ctx, "reject", notification.Event{
		Title:    "Order Rejected",
		Message:  fmt.Sprintf("Reason: %s", reason),
		Category: notification.CategoryOrder,
		Priority: notification.PriorityLow,
	})
}

// stopCountdownLocked stops and discards the countdown timer. The timer is
// never revived for the same order.
func (c *Controller) stopCountdownLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.deadline = time.Time{}
}

// transitionLocked reports a completed transition and emits its single
// notification event.
func (c *Controller) transitionLocked(ctx context.Context, op string, ev notification.Event) {
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(op)
	}
	c.emitLocked(ctx, ev)
}

// emitLocked delivers one event to the sink. Sink failures are logged and
// never propagate: an unavailable sink must not fail the transition that
// produced the event.
func (c *Controller) emitLocked(ctx context.Context, ev notification.Event) {
	if c.cfg.Sink == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.PartnerID = c.partner.ID
	ev.CreatedAt = c.cfg.Now()
	if err := c.cfg.Sink.Consume(ctx, ev); err != nil {
		c.lg.Warn("notification sink", zap.String("title", ev.Title), zap.Error(err))
	}
}

// matchLocked verifies orderID names the active order.
func (c *Controller) matchLocked(orderID string) error {
	if c.current == nil || c.current.ID != orderID {
		return &NoActiveOrderError{OrderID: orderID}
	}
	return nil
}
