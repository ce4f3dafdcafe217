package protocol

import (
	"encoding/json"

	"github.com/ricochet1k/iflowacp/internal/config"
)

const (
	OptionProceedOnce   = "proceed_once"
	OptionProceedAlways = "proceed_always"
)

// readOnlyTools are approved in selective mode.
var readOnlyTools = map[string]bool{
	"read":  true,
	"fetch": true,
	"list":  true,
}

// PermissionRequest is the part of a session/request_permission call the
// policy looks at.
type PermissionRequest struct {
	ToolTitle string
	ToolType  string
	Options   []string
}

// ParsePermissionRequest reads params.toolCall.{title,type} and
// params.options[].optionId. Missing fields stay empty. Peers that follow the
// newer schema send the tool type as "kind", which is accepted as well.
func ParsePermissionRequest(params json.RawMessage) PermissionRequest {
	var p struct {
		ToolCall struct {
			Title string `json:"title"`
			Type  string `json:"type"`
			Kind  string `json:"kind"`
		} `json:"toolCall"`
		Options []struct {
			OptionID string `json:"optionId"`
		} `json:"options"`
	}
	_ = json.Unmarshal(params, &p)

	req := PermissionRequest{
		ToolTitle: p.ToolCall.Title,
		ToolType:  p.ToolCall.Type,
	}
	if req.ToolType == "" {
		req.ToolType = p.ToolCall.Kind
	}
	for _, o := range p.Options {
		if o.OptionID != "" {
			req.Options = append(req.Options, o.OptionID)
		}
	}
	return req
}

// Approves is the permission policy.
func Approves(mode config.PermissionMode, toolType string) bool {
	switch mode {
	case config.PermissionAuto:
		return true
	case config.PermissionSelective:
		return readOnlyTools[toolType]
	default:
		return false
	}
}

// SelectOption picks the reply option for an approval: proceed_once, then
// proceed_always, then the first offered option.
func SelectOption(options []string) string {
	if len(options) == 0 {
		return OptionProceedOnce
	}
	for _, want := range []string{OptionProceedOnce, OptionProceedAlways} {
		for _, o := range options {
			if o == want {
				return o
			}
		}
	}
	return options[0]
}

// PermissionOutcome is the reply to one permission request.
type PermissionOutcome struct {
	Approved bool
	OptionID string
}

func Decide(mode config.PermissionMode, req PermissionRequest) PermissionOutcome {
	if !Approves(mode, req.ToolType) {
		return PermissionOutcome{}
	}
	return PermissionOutcome{Approved: true, OptionID: SelectOption(req.Options)}
}

// Result is the JSON-RPC result for the outcome.
func (o PermissionOutcome) Result() map[string]any {
	if !o.Approved {
		return map[string]any{
			"outcome": map[string]any{"outcome": "cancelled"},
		}
	}
	return map[string]any{
		"outcome": map[string]any{
			"outcome":  "selected",
			"optionId": o.OptionID,
		},
	}
}
