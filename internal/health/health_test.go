package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	c := NewChecker("1.2.3")
	rec := httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     map[string]Check
		wantStatus Status
		wantCode   int
	}{
		{
			name:       "no checks",
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "degraded",
			checks: map[string]Check{
				"a": {Status: StatusHealthy},
				"b": {Status: StatusDegraded},
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name: "unhealthy wins",
			checks: map[string]Check{
				"a": {Status: StatusDegraded},
				"b": {Status: StatusUnhealthy, Message: "down"},
			},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewChecker("test")
			for name, check := range tt.checks {
				check := check
				c.RegisterCheck(name, func(context.Context) Check { return check })
			}

			rec := httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestReadyCheck(t *testing.T) {
	t.Parallel()

	var ready atomic.Bool
	check := ReadyCheck(ready.Load, "not loaded")

	got := check(context.Background())
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, "not loaded", got.Message)

	ready.Store(true)
	assert.Equal(t, Check{Status: StatusHealthy}, check(context.Background()))
}

func TestChecker_Names(t *testing.T) {
	t.Parallel()

	c := NewChecker("test")
	c.RegisterCheck("zeta", ReadyCheck(func() bool { return true }, ""))
	c.RegisterCheck("alpha", ReadyCheck(func() bool { return true }, ""))
	assert.Equal(t, []string{"alpha", "zeta"}, c.Names())
}
