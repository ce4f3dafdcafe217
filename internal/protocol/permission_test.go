package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochet1k/iflowacp/internal/config"
)

func TestApproves(t *testing.T) {
	tools := []string{"read", "fetch", "list", "write", "edit", "execute", ""}

	for _, tool := range tools {
		assert.True(t, Approves(config.PermissionAuto, tool), "auto %q", tool)
		assert.False(t, Approves(config.PermissionManual, tool), "manual %q", tool)
	}

	for tool, want := range map[string]bool{
		"read":    true,
		"fetch":   true,
		"list":    true,
		"write":   false,
		"edit":    false,
		"execute": false,
		"Read":    false,
		"":        false,
	} {
		assert.Equal(t, want, Approves(config.PermissionSelective, tool), "selective %q", tool)
	}
}

func TestSelectOption(t *testing.T) {
	tests := []struct {
		name    string
		options []string
		want    string
	}{
		{"none offered", nil, OptionProceedOnce},
		{"proceed once wins", []string{"reject", "proceed_always", "proceed_once"}, OptionProceedOnce},
		{"proceed always next", []string{"reject", "proceed_always"}, OptionProceedAlways},
		{"first otherwise", []string{"allow", "deny"}, "allow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectOption(tt.options))
		})
	}
}

func TestParsePermissionRequest(t *testing.T) {
	req := ParsePermissionRequest(json.RawMessage(`{
		"sessionId": "s",
		"toolCall": {"toolCallId": "t1", "title": "Read file", "type": "read"},
		"options": [{"optionId": "proceed_always", "name": "Always"}, {"optionId": "cancel"}, {"name": "no id"}]
	}`))
	assert.Equal(t, "Read file", req.ToolTitle)
	assert.Equal(t, "read", req.ToolType)
	assert.Equal(t, []string{"proceed_always", "cancel"}, req.Options)

	kind := ParsePermissionRequest(json.RawMessage(`{"toolCall": {"kind": "fetch"}}`))
	assert.Equal(t, "fetch", kind.ToolType)
	assert.Empty(t, kind.Options)

	empty := ParsePermissionRequest(json.RawMessage(`not json`))
	assert.Equal(t, PermissionRequest{}, empty)
}

func TestDecideResult(t *testing.T) {
	req := PermissionRequest{ToolType: "write", Options: []string{"proceed_always"}}

	approved := Decide(config.PermissionAuto, req)
	require.True(t, approved.Approved)
	data, err := json.Marshal(approved.Result())
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":{"outcome":"selected","optionId":"proceed_always"}}`, string(data))

	declined := Decide(config.PermissionSelective, req)
	require.False(t, declined.Approved)
	data, err = json.Marshal(declined.Result())
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":{"outcome":"cancelled"}}`, string(data))
}
