package notification

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// maxFeedEvents caps each partner's inbox. The oldest events are dropped
// beyond it, together with their read marks, keeping the feed's memory
// bounded over the process lifetime.
const maxFeedEvents = 200

// Feed is an in-memory per-partner notification inbox. It implements Sink and
// backs the badge / unread-count API. Newest events come first, matching how
// the partner app renders its notification center.
type Feed struct {
	mu     sync.Mutex
	events map[string][]Event // partnerID -> newest-first
	read   map[string]bool    // event ID -> read
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		events: make(map[string][]Event),
		read:   make(map[string]bool),
	}
}

var _ Sink = (*Feed)(nil)

// Consume stores the event at the head of the partner's inbox, assigning an
// ID when the producer left it empty.
func (f *Feed) Consume(_ context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	evs := append([]Event{ev}, f.events[ev.PartnerID]...)
	if len(evs) > maxFeedEvents {
		for _, dropped := range evs[maxFeedEvents:] {
			delete(f.read, dropped.ID)
		}
		evs = evs[:maxFeedEvents]
	}
	f.events[ev.PartnerID] = evs
	return nil
}

// List returns a copy of the partner's inbox, newest first.
func (f *Feed) List(partnerID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	evs := f.events[partnerID]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// UnreadCount returns the number of events the partner has not marked read.
func (f *Feed) UnreadCount(partnerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, ev := range f.events[partnerID] {
		if !f.read[ev.ID] {
			n++
		}
	}
	return n
}

// MarkRead marks a single event as read. It reports whether the event exists
// in the partner's inbox.
func (f *Feed) MarkRead(partnerID, eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ev := range f.events[partnerID] {
		if ev.ID == eventID {
			f.read[eventID] = true
			return true
		}
	}
	return false
}

// IsRead reports whether the given event has been marked read.
func (f *Feed) IsRead(eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read[eventID]
}
