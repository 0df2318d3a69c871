//go:build integration

package integration

import (
	"net/http"
	"testing"
)

// TestOrderLifecycle drives one order end to end against the real server and
// database: assign, accept, pickup, a failed OTP attempt, delivery, rating.
func TestOrderLifecycle(t *testing.T) {
	base := "/api/partners/DP001"

	resp := doPost(t, base+"/orders", assignPayload("IT-ORD-1"), adminKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign: expected 201, got %d", resp.StatusCode)
	}

	resp = doGet(t, base+"/orders/current", partnerKey)
	current := decodeJSON[currentResponse](t, resp)
	resp.Body.Close()
	if current.Order.ID != "IT-ORD-1" || current.Order.Status != "assigned" {
		t.Fatalf("current: got id=%q status=%q", current.Order.ID, current.Order.Status)
	}
	if current.CountdownSeconds <= 0 || current.CountdownSeconds > 30 {
		t.Fatalf("countdown out of range: %d", current.CountdownSeconds)
	}

	resp = doPost(t, base+"/orders/IT-ORD-1/accept", nil, partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("accept: expected 204, got %d", resp.StatusCode)
	}

	resp = doPost(t, base+"/orders/IT-ORD-1/pickup", nil, partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("pickup: expected 204, got %d", resp.StatusCode)
	}

	// Wrong OTP leaves the order picked up.
	resp = doPost(t, base+"/orders/IT-ORD-1/deliver", map[string]any{"otp": "1111"}, partnerKey)
	errBody := decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("wrong otp: expected 422, got %d (%s)", resp.StatusCode, errBody.Message)
	}

	resp = doPost(t, base+"/orders/IT-ORD-1/deliver", map[string]any{"otp": "4567"}, partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deliver: expected 204, got %d", resp.StatusCode)
	}

	// Delivered order is in history, read back from postgres.
	resp = doGet(t, base+"/orders", partnerKey)
	orders := decodeJSON[[]orderResponse](t, resp)
	resp.Body.Close()
	if len(orders) == 0 || orders[0].ID != "IT-ORD-1" || orders[0].Status != "delivered" {
		t.Fatalf("history: got %+v", orders)
	}

	// Rating prompt is open for the delivered order's customer.
	resp = doGet(t, base+"/rating", partnerKey)
	prompt := decodeJSON[ratingPromptResponse](t, resp)
	resp.Body.Close()
	if prompt.OrderID != "IT-ORD-1" || prompt.CustomerName != "Amit Sharma" {
		t.Fatalf("prompt: got %+v", prompt)
	}

	resp = doPost(t, base+"/orders/IT-ORD-1/rating", map[string]any{"rating": 5, "feedback": "smooth handoff"}, partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("rating: expected 204, got %d", resp.StatusCode)
	}
}

func TestRejectedOrderInHistory(t *testing.T) {
	base := "/api/partners/DP002"

	resp := doPost(t, base+"/orders", assignPayload("IT-ORD-2"), adminKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign: expected 201, got %d", resp.StatusCode)
	}

	resp = doPost(t, base+"/orders/IT-ORD-2/reject", map[string]any{"reason": "vehicle breakdown"}, partner2Key)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reject: expected 204, got %d", resp.StatusCode)
	}

	resp = doGet(t, base+"/orders", partner2Key)
	orders := decodeJSON[[]orderResponse](t, resp)
	resp.Body.Close()
	if len(orders) == 0 {
		t.Fatal("history empty after reject")
	}
	got := orders[0]
	if got.Status != "cancelled" || got.CancelReason != "vehicle breakdown" || got.CancelCause != "manual" {
		t.Fatalf("history row: got %+v", got)
	}
}

func TestNotificationsAccumulate(t *testing.T) {
	base := "/api/partners/DP001"

	resp := doGet(t, base+"/notifications", partnerKey)
	feed := decodeJSON[feedResponse](t, resp)
	resp.Body.Close()
	if len(feed.Notifications) == 0 {
		t.Fatal("no notifications after lifecycle test")
	}

	first := feed.Notifications[0]
	resp = doPost(t, base+"/notifications/"+first.ID+"/read", nil, partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: expected 204, got %d", resp.StatusCode)
	}

	resp = doGet(t, base+"/notifications", partnerKey)
	after := decodeJSON[feedResponse](t, resp)
	resp.Body.Close()
	if after.UnreadCount != feed.UnreadCount-1 {
		t.Fatalf("unread count: got %d, want %d", after.UnreadCount, feed.UnreadCount-1)
	}
}

func TestAuthBoundaries(t *testing.T) {
	// Missing key.
	resp := doGet(t, "/api/partners/DP001/orders", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", resp.StatusCode)
	}

	// Partner key cannot assign.
	resp = doPost(t, "/api/partners/DP001/orders", assignPayload("IT-ORD-X"), partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("partner assign: expected 403, got %d", resp.StatusCode)
	}

	// Partner key cannot read another partner's data.
	resp = doGet(t, "/api/partners/DP002/orders", partnerKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross partner: expected 403, got %d", resp.StatusCode)
	}
}
