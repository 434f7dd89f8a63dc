package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.TransitionApplied("vacation_standard", "approve", "completed")
	m.TransitionApplied("vacation_standard", "approve", "completed")
	m.TransitionRejected("vacation_standard", "approve", fmt.Errorf("wrap: %w", workflow.ErrUnauthorized))
	m.Conflict("vacation_standard")
	m.Escalated("vacation_standard", "escalated")
	m.SweepCompleted(150 * time.Millisecond)
	m.Delivered("notify")
	m.DeliveryFailed("notify", false)
	m.DeliveryFailed("notify", true)
	m.CalendarDegraded()
	m.ObserveRequest(http.MethodPost, "/api/v1/instances", http.StatusCreated, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("vacation_standard", "approve", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("vacation_standard", "unauthorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("vacation_standard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations.WithLabelValues("vacation_standard", "escalated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("notify", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("notify", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calendarDegraded))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpRequests))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TransitionApplied("overtime", "submit", "transitioned")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wfm_transitions_total{status="transitioned",transition="submit",workflow="overtime"} 1`)
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{workflow.ErrConcurrentModification, "conflict"},
		{&workflow.ConditionError{Transition: "approve", Condition: "always"}, "condition_not_met"},
		{fmt.Errorf("x: %w", workflow.ErrInvalidTransition), "invalid_transition"},
		{workflow.ErrNotFound, "not_found"},
		{appwf.ErrInvalidRequest, "invalid_request"},
		{&workflow.ConfigError{Workflow: "w"}, "config"},
		{errors.New("disk full"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err))
	}
}
