package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorTracksCheckState(t *testing.T) {
	var fail atomic.Bool
	hm := NewHealthMonitor()
	hm.RegisterCheck(&HealthCheck{
		Name:     "database",
		Interval: 10 * time.Millisecond,
		Critical: true,
		Check: func(ctx context.Context) error {
			if fail.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hm.Start(ctx)
	defer hm.Stop()

	require.Eventually(t, func() bool {
		status, ok := hm.GetCheckStatus("database")
		return ok && status == StatusHealthy
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusHealthy, hm.GetOverallStatus())

	fail.Store(true)
	require.Eventually(t, func() bool {
		return hm.GetOverallStatus() == StatusUnhealthy
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := hm.GetCheckStatus("missing")
	assert.False(t, ok)
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	hm := NewHealthMonitor()
	check := &HealthCheck{
		Name:  "s3_storage",
		Check: func(ctx context.Context) error { return errors.New("timeout") },
	}
	hm.RegisterCheck(check)
	hm.ctx = context.Background()

	hm.performCheck(check)
	assert.Equal(t, StatusUnhealthy, check.Status, "every check failed")
	assert.Equal(t, StatusDegraded, hm.GetOverallStatus())
}

func TestPanickingCheckIsUnhealthy(t *testing.T) {
	hm := NewHealthMonitor()
	check := &HealthCheck{
		Name:     "database",
		Critical: true,
		Check:    func(ctx context.Context) error { panic("boom") },
	}
	hm.RegisterCheck(check)
	hm.ctx = context.Background()

	hm.performCheck(check)
	assert.Equal(t, StatusUnhealthy, hm.GetOverallStatus())
	assert.ErrorContains(t, check.LastError, "boom")
}

func TestHandler(t *testing.T) {
	hm := NewHealthMonitor()
	check := CreateDatabaseHealthCheck(func(ctx context.Context) error { return errors.New("down") })
	hm.RegisterCheck(check)
	hm.ctx = context.Background()

	rec := httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	hm.performCheck(check)
	rec = httptest.NewRecorder()
	hm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "down", report.Components["database"].LastError)
}
