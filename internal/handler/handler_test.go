package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftsip/dispatch/internal/dispatch"
	"github.com/swiftsip/dispatch/internal/domain/notification"
	"github.com/swiftsip/dispatch/internal/domain/order"
	"github.com/swiftsip/dispatch/internal/domain/partner"
)

type memHistory struct {
	mu     sync.Mutex
	orders []order.Order
}

func (m *memHistory) Append(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append([]order.Order{*o}, m.orders...)
	return nil
}

func (m *memHistory) ListByPartner(_ context.Context, partnerID string) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.PartnerID == partnerID {
			out = append(out, o)
		}
	}
	return out, nil
}

type memPartners struct {
	byID map[string]partner.Partner
}

func (m *memPartners) GetByID(_ context.Context, id string) (*partner.Partner, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, partner.ErrNotFound
	}
	return &p, nil
}

type memKeys struct {
	byHash map[string]partner.APIKey
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*partner.APIKey, error) {
	k, ok := m.byHash[hash]
	if !ok {
		return nil, partner.ErrKeyNotFound
	}
	return &k, nil
}

type testServer struct {
	srv     *httptest.Server
	history *memHistory
	feed    *notification.Feed
}

func newTestServer(t *testing.T, mw ...func(http.Handler) http.Handler) *testServer {
	t.Helper()

	history := &memHistory{}
	feed := notification.NewFeed()
	partners := &memPartners{byID: map[string]partner.Partner{
		"DP001": {ID: "DP001", Name: "Rajesh Kumar"},
	}}

	registry := dispatch.NewRegistry(partners, dispatch.Config{
		History: history,
		Sink:    feed,
	})
	h := NewHandler(registry, history, feed)

	mux := http.NewServeMux()
	h.Register(mux)

	var root http.Handler = mux
	for i := len(mw) - 1; i >= 0; i-- {
		root = mw[i](root)
	}

	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, history: history, feed: feed}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func assignBody(id string) map[string]any {
	return map[string]any{
		"id":               id,
		"vendor_name":      "Wine & Spirits Store",
		"vendor_address":   "Shop 12, MG Road",
		"customer_name":    "Amit Sharma",
		"customer_address": "Flat 4B, Green Park",
		"customer_phone":   "+91 98765 12345",
		"items": []map[string]any{
			{"name": "Red Wine", "quantity": 2, "unit_price": 850},
		},
		"total_amount":   2100,
		"delivery_fee":   80,
		"otp":            "4567",
		"payment_method": "Prepaid",
		"estimated_time": "25 min",
		"distance":       "3.2 km",
	}
}

func TestHandler_LifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/partners/DP001"

	resp := ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/orders/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			OTP    string `json:"otp"`
		} `json:"order"`
		CountdownSeconds int `json:"countdown_seconds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&current))
	assert.Equal(t, "ORD1", current.Order.ID)
	assert.Equal(t, "assigned", current.Order.Status)
	assert.Empty(t, current.Order.OTP, "OTP must never be exposed to the app")
	assert.Equal(t, 30, current.CountdownSeconds)

	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/accept", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/pickup", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Wrong OTP is rejected wholesale, not partially matched.
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/deliver", map[string]any{"otp": "1111"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/deliver", map[string]any{"otp": "4567"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "delivered", orders[0].Status)

	resp = ts.do(t, http.MethodGet, base+"/rating", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var prompt struct {
		OrderID      string `json:"order_id"`
		CustomerName string `json:"customer_name"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prompt))
	assert.Equal(t, "ORD1", prompt.OrderID)
	assert.Equal(t, "Amit Sharma", prompt.CustomerName)

	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/rating", map[string]any{"rating": 5, "feedback": "polite"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/rating", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/partners/DP001"

	resp := ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Second assignment while one is active.
	resp = ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD2"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Pickup before accept is an invalid transition.
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/pickup", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Operating on a different order id.
	resp = ts.do(t, http.MethodPost, base+"/orders/NOPE/accept", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Unknown partner.
	resp = ts.do(t, http.MethodGet, "/api/partners/DP999/orders/current", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Reject without a reason.
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/reject", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Out-of-range rating after delivery.
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/accept", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/pickup", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/deliver", map[string]any{"otp": "4567"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/rating", map[string]any{"rating": 6})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandler_RejectRecordsReason(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/partners/DP001"

	resp := ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/reject", map[string]any{"reason": "too far"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/orders", nil)
	var orders []struct {
		Status       string `json:"status"`
		CancelReason string `json:"cancel_reason"`
		CancelCause  string `json:"cancel_cause"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "cancelled", orders[0].Status)
	assert.Equal(t, "too far", orders[0].CancelReason)
	assert.Equal(t, "manual", orders[0].CancelCause)
}

func TestHandler_Notifications(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/partners/DP001"

	resp := ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/accept", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feed struct {
		UnreadCount   int `json:"unread_count"`
		Notifications []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Read  bool   `json:"read"`
		} `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	require.Len(t, feed.Notifications, 2)
	assert.Equal(t, 2, feed.UnreadCount)
	assert.Equal(t, "Order Accepted", feed.Notifications[0].Title)
	assert.Equal(t, "New Order", feed.Notifications[1].Title)

	resp = ts.do(t, http.MethodPost, base+"/notifications/"+feed.Notifications[0].ID+"/read", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/notifications", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&feed))
	assert.Equal(t, 1, feed.UnreadCount)
	assert.True(t, feed.Notifications[0].Read)

	resp = ts.do(t, http.MethodPost, base+"/notifications/ghost/read", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	const pepper = "test-pepper"
	keys := &memKeys{byHash: map[string]partner.APIKey{}}
	addKey := func(raw, partnerID string, scopes ...string) {
		hash := HashAPIKey(raw, pepper)
		keys.byHash[hash] = partner.APIKey{
			ID:        raw + "-id",
			PartnerID: partnerID,
			KeyHash:   hash,
			Scopes:    scopes,
		}
	}
	addKey("partner-key", "DP001")
	addKey("admin-key", "", partner.ScopeAdmin)

	ts := newTestServer(t, APIKeyAuth(keys, pepper))
	base := "/api/partners/DP001"

	// No key at all.
	resp := ts.do(t, http.MethodGet, base+"/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown key.
	resp = ts.do(t, http.MethodGet, base+"/orders", nil, "api_key", "bogus")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Partner keys cannot assign orders.
	resp = ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD1"), "api_key", "partner-key")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Admin keys can.
	resp = ts.do(t, http.MethodPost, base+"/orders", assignBody("ORD1"), "api_key", "admin-key")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Partner keys work on their own partner.
	resp = ts.do(t, http.MethodPost, base+"/orders/ORD1/accept", nil, "api_key", "partner-key")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// But not on anyone else's.
	resp = ts.do(t, http.MethodGet, "/api/partners/DP777/orders", nil, "api_key", "partner-key")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_AssignValidation(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/partners/DP001"

	body := assignBody("ORD1")
	delete(body, "otp")
	resp := ts.do(t, http.MethodPost, base+"/orders", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/orders/current", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
