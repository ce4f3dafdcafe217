package protocol

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/domain"
)

const unknownText = "<unknown>"

// ackedUpdates get an empty success reply when the peer sends them with an id.
var ackedUpdates = map[string]bool{
	UpdateToolCallUpdate: true,
	UpdateTaskFinish:     true,
}

// UpdateKind returns update.sessionUpdate, or "" if absent.
func UpdateKind(update json.RawMessage) string {
	var u struct {
		SessionUpdate string `json:"sessionUpdate"`
	}
	_ = json.Unmarshal(update, &u)
	return u.SessionUpdate
}

// NeedsAck reports whether an update kind is acknowledged when it has an id.
func NeedsAck(kind string) bool {
	return ackedUpdates[kind]
}

// MapUpdate converts one session/update payload (the "update" object) into a
// domain event. Missing fields get defaults instead of failing. The bool is
// false for kinds that do not produce events.
func MapUpdate(sessionID string, update json.RawMessage, logger *zap.Logger) (domain.Event, bool) {
	kind := UpdateKind(update)

	switch kind {
	case UpdateAgentMessage:
		return domain.NewAssistantTextEvent(sessionID, contentText(update, logger)), true

	case UpdateUserMessage:
		return domain.NewUserTextEvent(sessionID, contentText(update, logger)), true

	case UpdateToolCall:
		id, name, status := toolCallFields(update)
		return domain.NewToolCallEvent(sessionID, id, name, status), true

	case UpdatePlan:
		return domain.NewPlanEvent(sessionID, planEntries(update, logger)), true

	case UpdateToolCallUpdate, UpdateTaskFinish, UpdateAgentThought, UpdateCurrentMode, UpdateAvailableCommands:
		return domain.Event{}, false

	default:
		logger.Debug("ignoring unknown session update", zap.String("kind", kind))
		return domain.Event{}, false
	}
}

func contentText(update json.RawMessage, logger *zap.Logger) string {
	var u struct {
		Content struct {
			Text *string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(update, &u); err != nil || u.Content.Text == nil {
		logger.Warn("session update has no content text", zap.String("kind", UpdateKind(update)))
		return unknownText
	}
	return *u.Content.Text
}

type toolCallWire struct {
	ID         string `json:"id"`
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title"`
	Status     string `json:"status"`
}

// toolCallFields reads update.toolCall.{id,title,status}, falling back to the
// same fields flattened onto the update itself.
func toolCallFields(update json.RawMessage) (id, name, status string) {
	var u struct {
		ToolCall *toolCallWire `json:"toolCall"`
		toolCallWire
	}
	_ = json.Unmarshal(update, &u)

	tc := u.toolCallWire
	if u.ToolCall != nil {
		tc = *u.ToolCall
	}

	id = tc.ID
	if id == "" {
		id = tc.ToolCallID
	}
	name = tc.Title
	if name == "" {
		name = "Unknown"
	}
	status = tc.Status
	if status == "" {
		status = "unknown"
	}
	return id, name, status
}

func planEntries(update json.RawMessage, logger *zap.Logger) []domain.PlanEntry {
	var u struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(update, &u); err != nil {
		logger.Warn("malformed plan update", zap.Error(err))
		return nil
	}

	entries := make([]domain.PlanEntry, 0, len(u.Entries))
	for i, raw := range u.Entries {
		// Type mismatches leave the field zero; only content is required.
		var e struct {
			Content  *string `json:"content"`
			Priority string  `json:"priority"`
			Status   string  `json:"status"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Content == nil {
			logger.Warn("dropping plan entry without content", zap.Int("index", i))
			continue
		}
		entries = append(entries, domain.PlanEntry{
			Content:  *e.Content,
			Priority: domain.ParsePlanPriority(e.Priority),
			Status:   domain.ParsePlanStatus(e.Status),
		})
	}
	return entries
}
