package iflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ricochet1k/iflowacp/internal/mockpeer"
)

func startPeer(t *testing.T, script mockpeer.Script) *mockpeer.Server {
	t.Helper()
	srv := mockpeer.New(script, zaptest.NewLogger(t))
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(srv.Close)
	return srv
}

func peerOptions(url string) Options {
	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	opts.Process.AutoStart = false
	opts.WebSocket = &WebSocket{URL: url, ReconnectAttempts: 1, ReconnectInterval: 10 * time.Millisecond}
	return opts
}

// nextUntilFinished reads events up to and including the next TaskFinished.
func nextUntilFinished(t *testing.T, c *Client) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed early")
			out = append(out, ev)
			if ev.Type == EventTypeTaskFinished {
				return out
			}
		case <-timeout:
			t.Fatal("no TaskFinished event")
		}
	}
}

func TestClientConversation(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{
		SessionID: "conv",
		Updates: func(prompt string) []map[string]any {
			return []map[string]any{
				mockpeer.Plan([3]string{"answer", "high", "in_progress"}),
				mockpeer.ToolCall("call-1", "lookup", "pending"),
				mockpeer.TextChunk("re: " + prompt),
			}
		},
	})
	c := New(peerOptions(srv.URL()), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Send(ctx, "first"))
	assert.Equal(t, "conv", c.SessionID())
	events := nextUntilFinished(t, c)
	require.Len(t, events, 4)
	assert.Equal(t, EventTypePlan, events[0].Type)
	assert.Equal(t, ToolCallData{ID: "call-1", Name: "lookup", Status: "pending"}, events[1].Data)
	text, ok := events[2].Text()
	require.True(t, ok)
	assert.Equal(t, "re: first", text)
	assert.Equal(t, TaskFinishedData{Reason: "completed"}, events[3].Data)

	require.NoError(t, c.Send(ctx, "second"))
	nextUntilFinished(t, c)

	assert.Equal(t, []string{"initialize", "session/new", "session/prompt", "session/prompt"}, srv.Methods())
	assert.Equal(t, []string{"first", "second"}, srv.Prompts())
}

func TestClientRequiresConnect(t *testing.T) {
	c := New(peerOptions("ws://127.0.0.1:1/acp"), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })

	assert.ErrorIs(t, c.Send(context.Background(), "hi"), ErrNotConnected)
	assert.ErrorIs(t, c.Interrupt(), ErrNotConnected)
	assert.Empty(t, c.SessionID())
}

func TestClientInterrupt(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{})
	c := New(peerOptions(srv.URL()), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Interrupt())

	ev := <-c.Events()
	assert.Equal(t, EventTypeTaskFinished, ev.Type)
	assert.Equal(t, TaskFinishedData{Reason: InterruptedReason}, ev.Data)
}

func TestClientReconnect(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{})
	c := New(peerOptions(srv.URL()), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Send(ctx, "one"))
	nextUntilFinished(t, c)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Send(ctx, "lost"), ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Send(ctx, "two"))
	nextUntilFinished(t, c)
	assert.Equal(t, []string{"one", "two"}, srv.Prompts())
}

func TestClientCloseDrainsEvents(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{})
	c := New(peerOptions(srv.URL()), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Send(ctx, "bye"))
	require.NoError(t, c.Close())

	var types []EventType
	for ev := range c.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventTypeAssistantText, EventTypeTaskFinished}, types)
	assert.ErrorIs(t, c.Connect(ctx), ErrNotConnected)
}

func TestClientRejectsInvalidOptions(t *testing.T) {
	c := New(peerOptions(""), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = c.Close() })

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, c.IsConnected())
}
