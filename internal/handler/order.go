package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swiftsip/dispatch/internal/dispatch"
	"github.com/swiftsip/dispatch/internal/domain/order"
	"github.com/swiftsip/dispatch/internal/domain/partner"
)

// assignRequest is the payload the platform's assigner posts for a new order.
type assignRequest struct {
	ID              string `json:"id"`
	VendorName      string `json:"vendor_name"`
	VendorAddress   string `json:"vendor_address"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	CustomerPhone   string `json:"customer_phone"`
	Items           []struct {
		Name      string          `json:"name"`
		Quantity  int             `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	} `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	OTP           string          `json:"otp"`
	PaymentMethod string          `json:"payment_method"`
	EstimatedTime string          `json:"estimated_time"`
	Distance      string          `json:"distance"`
}

// controller resolves the dispatch controller for the partner in the path,
// enforcing that the API key may act for that partner. A nil return means the
// response has already been written.
func (h *Handler) controller(w http.ResponseWriter, r *http.Request) *dispatch.Controller {
	if !h.checkPartnerAccess(w, r) {
		return nil
	}

	partnerID := r.PathValue("id")
	ctrl, err := h.registry.Controller(r.Context(), partnerID)
	if err != nil {
		if errors.Is(err, partner.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "partner not found")
			return nil
		}
		zctx.From(r.Context()).Error("resolve controller", zap.String("partner_id", partnerID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return nil
	}
	return ctrl
}

// writeDispatchError maps controller errors to the API error bodies. Every
// failure mode carries a specific recovery message for the app to render.
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		noActive *dispatch.NoActiveOrderError
		invalid  *dispatch.InvalidTransitionError
	)
	switch {
	case errors.Is(err, dispatch.ErrOrderInProgress):
		writeError(w, r, http.StatusConflict, "an order is already in progress")
	case errors.As(err, &noActive):
		writeError(w, r, http.StatusNotFound, noActive.Error())
	case errors.As(err, &invalid):
		writeError(w, r, http.StatusConflict, "complete the previous step first: "+invalid.Error())
	case errors.Is(err, dispatch.ErrInvalidOTP):
		writeError(w, r, http.StatusUnprocessableEntity, "Invalid OTP! Please check and try again.")
	case errors.Is(err, dispatch.ErrInvalidRating):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("dispatch operation", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// AssignOrder hands a new order to a partner. Only admin (assigner) keys may
// call it.
func (h *Handler) AssignOrder(w http.ResponseWriter, r *http.Request) {
	if key := KeyFromContext(r.Context()); key != nil && !key.HasScope(partner.ScopeAdmin) {
		writeError(w, r, http.StatusForbidden, "assigning orders requires an admin key")
		return
	}

	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.OTP == "" {
		writeError(w, r, http.StatusBadRequest, "order id and otp are required")
		return
	}

	o := order.Order{
		ID:              req.ID,
		VendorName:      req.VendorName,
		VendorAddress:   req.VendorAddress,
		CustomerName:    req.CustomerName,
		CustomerAddress: req.CustomerAddress,
		CustomerPhone:   req.CustomerPhone,
		TotalAmount:     req.TotalAmount,
		DeliveryFee:     req.DeliveryFee,
		OTP:             req.OTP,
		PaymentMethod:   req.PaymentMethod,
		EstimatedTime:   req.EstimatedTime,
		Distance:        req.Distance,
	}
	for _, it := range req.Items {
		o.Items = append(o.Items, order.LineItem{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	if err := ctrl.Assign(r.Context(), o); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// AcceptOrder confirms the current assignment.
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	if err := ctrl.Accept(r.Context(), r.PathValue("orderID")); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectOrder declines the current assignment with a reason.
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeError(w, r, http.StatusBadRequest, "reason is required")
		return
	}

	if err := ctrl.Reject(r.Context(), r.PathValue("orderID"), req.Reason); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkPickedUp records vendor pickup.
func (h *Handler) MarkPickedUp(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	if err := ctrl.MarkPickedUp(r.Context(), r.PathValue("orderID")); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkDelivered completes the delivery with the customer's OTP.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	var req struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ctrl.MarkDelivered(r.Context(), r.PathValue("orderID"), req.OTP); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReportIssue files an informational issue against the active order.
func (h *Handler) ReportIssue(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	var req struct {
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Category == "" || req.Description == "" {
		writeError(w, r, http.StatusBadRequest, "category and description are required")
		return
	}

	if err := ctrl.ReportIssue(r.Context(), r.PathValue("orderID"), req.Description, req.Category); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RateCustomer submits the post-delivery customer rating.
func (h *Handler) RateCustomer(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ctrl.RateCustomer(r.Context(), r.PathValue("orderID"), req.Rating, req.Feedback); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PendingRating returns the open rating prompt, if any.
func (h *Handler) PendingRating(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	prompt := ctrl.PendingRating()
	if prompt == nil {
		writeError(w, r, http.StatusNotFound, "no rating prompt open")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(prompt.OrderID)
	e.FieldStart("customer_name")
	e.Str(prompt.CustomerName)
	e.ObjEnd()
	writeJSON(w, r, http.StatusOK, &e)
}

// SkipRating discards the open rating prompt.
func (h *Handler) SkipRating(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}
	ctrl.SkipRating()
	w.WriteHeader(http.StatusNoContent)
}

// CurrentOrder returns the active order plus the accept countdown.
func (h *Handler) CurrentOrder(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	cur := ctrl.Current(r.Context())
	if cur == nil {
		writeError(w, r, http.StatusNotFound, "no current order")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order")
	encodeOrder(&e, cur)
	if secs, running := ctrl.Remaining(r.Context()); running {
		e.FieldStart("countdown_seconds")
		e.Int(secs)
	}
	e.ObjEnd()
	writeJSON(w, r, http.StatusOK, &e)
}

// ListOrders returns the partner's order history, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(w, r)
	if ctrl == nil {
		return
	}

	orders, err := h.history.ListByPartner(r.Context(), r.PathValue("id"))
	if err != nil {
		zctx.From(r.Context()).Error("list orders", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for i := range orders {
		encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	writeJSON(w, r, http.StatusOK, &e)
}
