package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyEndpoint_NotReadyByDefault(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProbe_FailureThreshold(t *testing.T) {
	p := &probe{name: "db", timeout: time.Second, check: func(context.Context) error {
		return errors.New("connection refused")
	}}
	p.healthy.Store(true)

	ctx := context.Background()
	p.run(ctx)
	p.run(ctx)
	assert.True(t, p.healthy.Load(), "two failures stay healthy")

	p.run(ctx)
	assert.False(t, p.healthy.Load(), "third consecutive failure flips")

	// Single success recovers.
	p.check = func(context.Context) error { return nil }
	p.run(ctx)
	assert.True(t, p.healthy.Load())
}

func TestLiveEndpoint_ReportsFailure(t *testing.T) {
	h := New()
	h.AddLivenessCheck("stuck", time.Second, func(context.Context) error {
		return errors.New("deadlock")
	})

	// Drive the probe to its threshold directly.
	for i := 0; i < failureThreshold; i++ {
		h.liveness[0].run(context.Background())
	}

	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "deadlock", resp.Checks["stuck"])
}

func TestIsReady_FailingReadinessCheck(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		return errors.New("down")
	})
	require.True(t, h.IsReady(), "healthy until threshold reached")

	for i := 0; i < failureThreshold; i++ {
		h.readiness[0].run(context.Background())
	}
	assert.False(t, h.IsReady())
}
