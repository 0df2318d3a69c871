package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/swiftsip/dispatch/internal/domain/notification"
	"github.com/swiftsip/dispatch/internal/domain/order"
)

// writeJSON streams an encoded body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("write response", zap.Error(err))
	}
}

// writeError emits the {code, message} error body shared by all endpoints.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, r, status, &e)
}

func encodeTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(field)
	e.Str(t.Format(time.RFC3339))
}

// encodeOrder writes one order object. The OTP is deliberately absent: it is
// delivery proof held by the customer, not data for the partner app.
func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("vendor_name")
	e.Str(o.VendorName)
	e.FieldStart("vendor_address")
	e.Str(o.VendorAddress)
	e.FieldStart("customer_name")
	e.Str(o.CustomerName)
	e.FieldStart("customer_address")
	e.Str(o.CustomerAddress)
	e.FieldStart("customer_phone")
	e.Str(o.CustomerPhone)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.Float64(it.UnitPrice.InexactFloat64())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("total_amount")
	e.Float64(o.TotalAmount.InexactFloat64())
	e.FieldStart("delivery_fee")
	e.Float64(o.DeliveryFee.InexactFloat64())
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_method")
	e.Str(o.PaymentMethod)
	e.FieldStart("estimated_time")
	e.Str(o.EstimatedTime)
	e.FieldStart("distance")
	e.Str(o.Distance)

	assigned := o.AssignedAt
	encodeTime(e, "assigned_at", &assigned)
	encodeTime(e, "accepted_at", o.AcceptedAt)
	encodeTime(e, "picked_up_at", o.PickedUpAt)
	encodeTime(e, "delivered_at", o.DeliveredAt)

	if o.Status == order.StatusCancelled {
		e.FieldStart("cancel_reason")
		e.Str(o.CancelReason)
		e.FieldStart("cancel_cause")
		e.Str(string(o.CancelCause))
	}
	e.ObjEnd()
}

func encodeEvent(e *jx.Encoder, ev notification.Event, read bool) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(ev.ID)
	e.FieldStart("title")
	e.Str(ev.Title)
	e.FieldStart("message")
	e.Str(ev.Message)
	e.FieldStart("category")
	e.Str(string(ev.Category))
	e.FieldStart("priority")
	e.Str(string(ev.Priority))
	e.FieldStart("created_at")
	e.Str(ev.CreatedAt.Format(time.RFC3339))
	e.FieldStart("read")
	e.Bool(read)
	e.ObjEnd()
}
