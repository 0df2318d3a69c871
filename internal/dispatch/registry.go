package dispatch

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/swiftsip/dispatch/internal/domain/partner"
)

// Registry hands out one Controller per partner, creating them lazily on
// first use. It replaces the single ambient "app context" of the partner app
// with an explicit dependency the transport layer is handed.
type Registry struct {
	partners partner.Repository
	cfg      Config

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates a Registry. Each controller it creates shares the same
// Config (history repository, sinks, accept window).
func NewRegistry(partners partner.Repository, cfg Config) *Registry {
	return &Registry{
		partners:    partners,
		cfg:         cfg,
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the dispatch controller for the given partner, creating
// it on first use. It fails with partner.ErrNotFound (wrapped) when the
// partner does not exist.
func (r *Registry) Controller(ctx context.Context, partnerID string) (*Controller, error) {
	r.mu.Lock()
	if c, ok := r.controllers[partnerID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	// Profile lookup happens outside the registry lock: a slow or failing
	// repository must not stall controllers of other partners.
	p, err := r.partners.GetByID(ctx, partnerID)
	if err != nil {
		return nil, errors.Wrap(err, "get partner")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[partnerID]; ok {
		return c, nil
	}
	c := NewController(*p, r.cfg)
	r.controllers[partnerID] = c
	return c, nil
}
