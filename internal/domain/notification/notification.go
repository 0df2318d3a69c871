package notification

import (
	"context"
	"time"
)

// Category classifies an event for badge and toast rendering.
type Category string

const (
	CategoryOrder   Category = "order"
	CategoryEarning Category = "earning"
	CategorySystem  Category = "system"
)

// Priority hints how prominently an event should be surfaced.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Event is one lifecycle notification delivered to a partner. The dispatch
// core emits exactly one per successful transition; delivery and ordering of
// consumption are the sink's concern.
type Event struct {
	ID        string
	PartnerID string
	Title     string
	Message   string
	Category  Category
	Priority  Priority
	CreatedAt time.Time
}

// Sink receives lifecycle events. Consume must be cheap and non-blocking;
// callers treat failures as fire-and-forget and never fail the transition
// that produced the event.
type Sink interface {
	Consume(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Consume(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Fanout duplicates every event to each of the given sinks. An error from one
// sink does not stop delivery to the others; the first error is returned.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) error {
		var first error
		for _, s := range sinks {
			if err := s.Consume(ctx, ev); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
