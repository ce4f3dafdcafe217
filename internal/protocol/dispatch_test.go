package protocol

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/fsaccess"
)

type replies struct {
	frames []string
}

func (r *replies) send(_ context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, string(data))
	return nil
}

func newTestDispatcher(t *testing.T, mode config.PermissionMode, files *fsaccess.Handler) (*Dispatcher, *replies, *recorder) {
	r := &replies{}
	rec := &recorder{}
	return newDispatcher(r.send, rec, mode, files, zaptest.NewLogger(t)), r, rec
}

func TestDispatchUnknownMethod(t *testing.T) {
	d, r, rec := newTestDispatcher(t, config.PermissionAuto, nil)
	ctx := context.Background()

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":12,"method":"terminal/create","params":{}}`))
	require.Len(t, r.frames, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":12,"error":{"code":-32601,"message":"Method not found"}}`, r.frames[0])

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","method":"terminal/create","params":{}}`))
	assert.Len(t, r.frames, 1, "notifications are never answered")
	assert.Empty(t, rec.events)
}

func TestDispatchAcknowledgesUpdates(t *testing.T) {
	d, r, rec := newTestDispatcher(t, config.PermissionAuto, nil)
	ctx := context.Background()

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":"u1","method":"session/update","params":{"sessionId":"s","update":{"sessionUpdate":"tool_call_update","toolCallId":"t1","status":"completed"}}}`))
	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":"u2","method":"session/update","params":{"sessionId":"s","update":{"sessionUpdate":"notifyTaskFinish"}}}`))
	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"s","update":{"sessionUpdate":"tool_call_update"}}}`))
	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":"u3","method":"session/update","params":{"sessionId":"s","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"x"}}}}`))

	require.Len(t, r.frames, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"u1","result":null}`, r.frames[0])
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"u2","result":null}`, r.frames[1])

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventTypeAssistantText, rec.events[0].Type)
	assert.Equal(t, "s", rec.events[0].SessionID)
}

func TestDispatchMalformedUpdateKeepsGoing(t *testing.T) {
	d, r, rec := newTestDispatcher(t, config.PermissionAuto, nil)
	ctx := context.Background()

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","method":"session/update","params":"nope"}`))
	d.Dispatch(ctx, Classify(`garbage`))
	d.Dispatch(ctx, Classify(`//heartbeat`))
	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"tool_call","toolCall":{"id":"t9"}}}}`))

	assert.Empty(t, r.frames)
	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.ToolCallData{ID: "t9", Name: "Unknown", Status: "unknown"}, rec.events[0].Data)
}

func TestHandlePermissionRepliesOnce(t *testing.T) {
	tests := []struct {
		mode   config.PermissionMode
		tool   string
		result string
	}{
		{config.PermissionAuto, "write", `{"outcome":{"outcome":"selected","optionId":"proceed_once"}}`},
		{config.PermissionManual, "read", `{"outcome":{"outcome":"cancelled"}}`},
		{config.PermissionSelective, "read", `{"outcome":{"outcome":"selected","optionId":"proceed_once"}}`},
		{config.PermissionSelective, "write", `{"outcome":{"outcome":"cancelled"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String()+"/"+tt.tool, func(t *testing.T) {
			d, r, rec := newTestDispatcher(t, tt.mode, nil)
			d.Dispatch(context.Background(), Classify(`{"jsonrpc":"2.0","id":5,"method":"session/request_permission","params":{"toolCall":{"title":"T","type":"`+tt.tool+`"},"options":[{"optionId":"proceed_always"},{"optionId":"proceed_once"}]}}`))

			require.Len(t, r.frames, 1)
			reply := Classify(r.frames[0])
			assert.Equal(t, KindResponse, reply.Kind)
			assert.JSONEq(t, `5`, string(reply.ID))
			assert.JSONEq(t, tt.result, string(reply.Result))
			assert.Empty(t, rec.events)
		})
	}
}

func TestDispatchFileAccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("one\ntwo\nthree\n"), 0o644))

	files := fsaccess.New(config.FileAccess{Enabled: true, AllowedDirs: []string{dir}, MaxSize: 1 << 20}, dir)
	d, r, _ := newTestDispatcher(t, config.PermissionAuto, files)
	ctx := context.Background()

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":1,"method":"fs/read_text_file","params":{"sessionId":"s","path":"notes.txt","line":2,"limit":1}}`))
	require.Len(t, r.frames, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"content":"two"}}`, r.frames[0])

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":2,"method":"fs/write_text_file","params":{"sessionId":"s","path":"out/new.txt","content":"hello"}}`))
	require.Len(t, r.frames, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":null}`, r.frames[1])
	written, err := os.ReadFile(filepath.Join(dir, "out", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(written))

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":3,"method":"fs/read_text_file","params":{"path":"/etc/passwd"}}`))
	require.Len(t, r.frames, 3)
	failed := Classify(r.frames[2])
	require.NotNil(t, failed.Error)
	assert.Equal(t, ErrCodeInternalError, failed.Error.Code)

	d.Dispatch(ctx, Classify(`{"jsonrpc":"2.0","id":4,"method":"fs/read_text_file","params":{}}`))
	require.Len(t, r.frames, 4)
	invalid := Classify(r.frames[3])
	require.NotNil(t, invalid.Error)
	assert.Equal(t, ErrCodeInvalidParams, invalid.Error.Code)
}

func TestDispatchFileAccessDisabled(t *testing.T) {
	d, r, _ := newTestDispatcher(t, config.PermissionAuto, nil)

	d.Dispatch(context.Background(), Classify(`{"jsonrpc":"2.0","id":1,"method":"fs/read_text_file","params":{"path":"/tmp/x"}}`))
	require.Len(t, r.frames, 1)
	msg := Classify(r.frames[0])
	require.NotNil(t, msg.Error)
	assert.Equal(t, ErrCodeMethodNotFound, msg.Error.Code)
}
