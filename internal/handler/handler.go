// Package handler exposes the dispatch controller over a JSON HTTP API
// consumed by the partner app.
package handler

import (
	"net/http"

	"github.com/swiftsip/dispatch/internal/dispatch"
	"github.com/swiftsip/dispatch/internal/domain/notification"
	"github.com/swiftsip/dispatch/internal/domain/order"
)

// Handler routes partner app requests to the per-partner dispatch
// controllers.
type Handler struct {
	registry *dispatch.Registry
	history  order.Repository
	feed     *notification.Feed
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(registry *dispatch.Registry, history order.Repository, feed *notification.Feed) *Handler {
	return &Handler{
		registry: registry,
		history:  history,
		feed:     feed,
	}
}

// Register mounts all API routes on mux under /api.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/partners/{id}/orders", h.AssignOrder)
	mux.HandleFunc("GET /api/partners/{id}/orders", h.ListOrders)
	mux.HandleFunc("GET /api/partners/{id}/orders/current", h.CurrentOrder)
	mux.HandleFunc("POST /api/partners/{id}/orders/{orderID}/accept", h.AcceptOrder)
	mux.HandleFunc("POST /api/partners/{id}/orders/{orderID}/reject", h.RejectOrder)
	mux.HandleFunc("POST /api/partners/{id}/orders/{orderID}/pickup", h.MarkPickedUp)
	mux.HandleFunc("POST /api/partners/{id}/orders/{orderID}/deliver", h.MarkDelivered)
	mux.HandleFunc("POST /api/partners/{id}/orders/{orderID}/issues", h.ReportIssue)
	mux.HandleFunc("POST /api/partners/{id}/orders/{orderID}/rating", h.RateCustomer)
	mux.HandleFunc("GET /api/partners/{id}/rating", h.PendingRating)
	mux.HandleFunc("DELETE /api/partners/{id}/rating", h.SkipRating)
	mux.HandleFunc("GET /api/partners/{id}/notifications", h.ListNotifications)
	mux.HandleFunc("POST /api/partners/{id}/notifications/{eventID}/read", h.MarkNotificationRead)
}
