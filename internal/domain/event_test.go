package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeUserText, "user_text"},
		{EventTypeAssistantText, "assistant_text"},
		{EventTypeToolCall, "tool_call"},
		{EventTypePlan, "plan"},
		{EventTypeTaskFinished, "task_finished"},
		{EventTypeError, "error"},
		{EventType(999), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.eventType.String(), "EventType(%d)", tt.eventType)
	}
}

func TestNewAssistantTextEvent(t *testing.T) {
	before := time.Now()
	e := NewAssistantTextEvent("session-123", "Hello, world!")
	after := time.Now()

	assert.Equal(t, EventTypeAssistantText, e.Type)
	assert.Equal(t, "session-123", e.SessionID)
	assert.False(t, e.Timestamp.Before(before) || e.Timestamp.After(after), "timestamp out of expected range")

	text, ok := e.Text()
	require.True(t, ok)
	assert.Equal(t, "Hello, world!", text)
}

func TestTextOnNonTextEvent(t *testing.T) {
	_, ok := NewTaskFinishedEvent("s", "completed").Text()
	assert.False(t, ok)
}

func TestNewToolCallEvent(t *testing.T) {
	e := NewToolCallEvent("s", "call-1", "Read file", "pending")

	data, ok := e.Data.(ToolCallData)
	require.True(t, ok, "expected ToolCallData, got %T", e.Data)
	assert.Equal(t, ToolCallData{ID: "call-1", Name: "Read file", Status: "pending"}, data)
}

func TestNewErrorEvent(t *testing.T) {
	e := NewErrorEvent("s", -32000, "boom", map[string]any{"method": "session/prompt"})

	assert.Equal(t, EventTypeError, e.Type)
	data, ok := e.Data.(ErrorData)
	require.True(t, ok)
	assert.Equal(t, -32000, data.Code)
	assert.Equal(t, "boom", data.Message)
	assert.Equal(t, "session/prompt", data.Details["method"])
}

func TestParsePlanValues(t *testing.T) {
	assert.Equal(t, PlanPriorityHigh, ParsePlanPriority("high"))
	assert.Equal(t, PlanPriorityLow, ParsePlanPriority("low"))
	assert.Equal(t, PlanPriorityMedium, ParsePlanPriority("medium"))
	assert.Equal(t, PlanPriorityMedium, ParsePlanPriority("urgent"))

	assert.Equal(t, PlanStatusInProgress, ParsePlanStatus("in_progress"))
	assert.Equal(t, PlanStatusCompleted, ParsePlanStatus("completed"))
	assert.Equal(t, PlanStatusPending, ParsePlanStatus(""))
	assert.Equal(t, PlanStatusPending, ParsePlanStatus("blocked"))

	assert.Equal(t, "in_progress", PlanStatusInProgress.String())
	assert.Equal(t, "low", PlanPriorityLow.String())
}
