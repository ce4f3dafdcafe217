package domain

import "time"

type EventType int

const (
	EventTypeUserText EventType = iota
	EventTypeAssistantText
	EventTypeToolCall
	EventTypePlan
	EventTypeTaskFinished
	EventTypeError
)

func (t EventType) String() string {
	switch t {
	case EventTypeUserText:
		return "user_text"
	case EventTypeAssistantText:
		return "assistant_text"
	case EventTypeToolCall:
		return "tool_call"
	case EventTypePlan:
		return "plan"
	case EventTypeTaskFinished:
		return "task_finished"
	case EventTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the caller-facing representation of protocol activity. Data holds
// exactly one of the *Data types below, selected by Type.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      any
}

type TextData struct {
	Content string
}

type ToolCallData struct {
	ID     string
	Name   string
	Status string
}

type PlanData struct {
	Entries []PlanEntry
}

type TaskFinishedData struct {
	// Reason is empty when the peer reported none.
	Reason string
}

type ErrorData struct {
	Code    int
	Message string
	Details map[string]any
}

// Text returns the text carried by UserText and AssistantText events.
func (e Event) Text() (string, bool) {
	d, ok := e.Data.(TextData)
	return d.Content, ok
}

func NewUserTextEvent(sessionID, content string) Event {
	return Event{
		Type:      EventTypeUserText,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      TextData{Content: content},
	}
}

func NewAssistantTextEvent(sessionID, content string) Event {
	return Event{
		Type:      EventTypeAssistantText,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      TextData{Content: content},
	}
}

func NewToolCallEvent(sessionID, id, name, status string) Event {
	return Event{
		Type:      EventTypeToolCall,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: ToolCallData{
			ID:     id,
			Name:   name,
			Status: status,
		},
	}
}

func NewPlanEvent(sessionID string, entries []PlanEntry) Event {
	return Event{
		Type:      EventTypePlan,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      PlanData{Entries: entries},
	}
}

func NewTaskFinishedEvent(sessionID, reason string) Event {
	return Event{
		Type:      EventTypeTaskFinished,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      TaskFinishedData{Reason: reason},
	}
}

func NewErrorEvent(sessionID string, code int, message string, details map[string]any) Event {
	return Event{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: ErrorData{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
