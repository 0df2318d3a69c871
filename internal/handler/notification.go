package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// checkPartnerAccess enforces that the API key may act for the partner in the
// path. Returns false when the response has already been written.
func (h *Handler) checkPartnerAccess(w http.ResponseWriter, r *http.Request) bool {
	if key := KeyFromContext(r.Context()); key != nil && !key.CanActFor(r.PathValue("id")) {
		writeError(w, r, http.StatusForbidden, "api key may not act for this partner")
		return false
	}
	return true
}

// ListNotifications returns the partner's notification feed, newest first,
// with the unread count.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if !h.checkPartnerAccess(w, r) {
		return
	}
	partnerID := r.PathValue("id")

	events := h.feed.List(partnerID)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("unread_count")
	e.Int(h.feed.UnreadCount(partnerID))
	e.FieldStart("notifications")
	e.ArrStart()
	for _, ev := range events {
		encodeEvent(&e, ev, h.feed.IsRead(ev.ID))
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, r, http.StatusOK, &e)
}

// MarkNotificationRead marks a single notification as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !h.checkPartnerAccess(w, r) {
		return
	}
	if !h.feed.MarkRead(r.PathValue("id"), r.PathValue("eventID")) {
		writeError(w, r, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
