package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"started", TypeInstanceStarted, true},
		{"transitioned", TypeInstanceTransitioned, true},
		{"vote", TypeVoteRecorded, true},
		{"completed", TypeInstanceCompleted, true},
		{"escalated", TypeAssignmentEscalated, true},
		{"action", TypeActionRequested, true},
		{"unknown", Type("instance.deleted"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.IsValid())
		})
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(TypeInstanceStarted, 7, "vacation_standard", nil)

	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, e.CorrelationID)
	assert.NotEqual(t, e.ID, e.CorrelationID)
	assert.Equal(t, int64(7), e.InstanceID)
	assert.Equal(t, "vacation_standard", e.Workflow)
	assert.NotNil(t, e.Payload)
	assert.False(t, e.Timestamp.IsZero())
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeInstanceTransitioned, 1, "wf", map[string]interface{}{"from": "a"})
	updated := original.WithPayload("to", "b")

	assert.Equal(t, "b", updated.GetPayloadString("to"))
	assert.Equal(t, "a", updated.GetPayloadString("from"))
	assert.Empty(t, original.GetPayloadString("to"))
	assert.Equal(t, original.ID, updated.ID)
}

func TestEvent_GetPayloadInt(t *testing.T) {
	e := NewEvent(TypeVoteRecorded, 1, "wf", map[string]interface{}{
		"a": 3, "b": int64(4), "c": float64(5), "d": "x",
	})

	assert.Equal(t, int64(3), e.GetPayloadInt("a"))
	assert.Equal(t, int64(4), e.GetPayloadInt("b"))
	assert.Equal(t, int64(5), e.GetPayloadInt("c"))
	assert.Equal(t, int64(0), e.GetPayloadInt("d"))
	assert.Equal(t, int64(0), e.GetPayloadInt("missing"))
}
