package connection

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/fsaccess"
	"github.com/ricochet1k/iflowacp/internal/mockpeer"
)

func stdioOptions() config.Options {
	opts := config.Default()
	opts.Timeout = 5 * time.Second
	opts.Cwd = "/work"
	opts.Process.AutoStart = false
	return opts
}

// echoPipes serves an EchoAgent on in-memory pipes and returns the client
// ends.
func echoPipes(t *testing.T) (*mockpeer.EchoAgent, io.WriteCloser, io.ReadCloser) {
	t.Helper()
	toAgentR, toAgentW := io.Pipe()
	fromAgentR, fromAgentW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	agent := &mockpeer.EchoAgent{}
	go agent.Serve(ctx, fromAgentW, toAgentR)
	t.Cleanup(func() {
		cancel()
		_ = toAgentR.Close()
		_ = fromAgentW.Close()
	})
	return agent, toAgentW, fromAgentR
}

func TestStdioPromptRoundTrip(t *testing.T) {
	agent, stdin, stdout := echoPipes(t)
	events := &recorder{}
	c := NewStdio(stdioOptions(), Deps{Events: events, Logger: zaptest.NewLogger(t), Stdin: stdin, Stdout: stdout})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))
	assert.True(t, c.IsInitialized())
	assert.True(t, c.IsAuthenticated())

	id, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, mockpeer.EchoSessionID, id)
	assert.Equal(t, mockpeer.EchoSessionID, c.SessionID())

	require.NoError(t, c.SendMessage(ctx, "hi"))
	assert.Eventually(t, func() bool {
		texts := events.texts()
		return len(texts) == 1 && texts[0] == `{"echo":"hi"}`
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"end_turn"}, events.finished())
	assert.Equal(t, []string{"hi"}, agent.Prompts())
}

func TestStdioNeedsPipesInManualMode(t *testing.T) {
	c := NewStdio(stdioOptions(), Deps{Logger: zaptest.NewLogger(t)})

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindConnection, domain.KindOf(err))
}

func TestStdioSpawnFailure(t *testing.T) {
	opts := stdioOptions()
	opts.Process.AutoStart = true
	opts.Process.Command = filepath.Join(t.TempDir(), "no-such-agent")
	c := NewStdio(opts, Deps{Logger: zaptest.NewLogger(t)})

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindProcessManager, domain.KindOf(err))
	assert.False(t, c.IsInitialized())
}

func TestStdioSendNeedsSession(t *testing.T) {
	_, stdin, stdout := echoPipes(t)
	c := NewStdio(stdioOptions(), Deps{Logger: zaptest.NewLogger(t), Stdin: stdin, Stdout: stdout})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	assert.Equal(t, domain.KindNotConnected, domain.KindOf(c.SendMessage(ctx, "x")))

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, domain.KindNoSession, domain.KindOf(c.SendMessage(ctx, "x")))
}

func TestClientAdapterFileAccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("one\ntwo\nthree"), 0o644))
	ctx := context.Background()

	disabled := newClientAdapter(nil, config.PermissionAuto, nil, zaptest.NewLogger(t))
	_, err := disabled.ReadTextFile(ctx, acpsdk.ReadTextFileRequest{Path: filepath.Join(dir, "notes.txt")})
	assert.ErrorIs(t, err, errFileAccessDisabled)

	files := fsaccess.New(config.FileAccess{Enabled: true, AllowedDirs: []string{dir}, MaxSize: 1024}, dir)
	a := newClientAdapter(nil, config.PermissionAuto, files, zaptest.NewLogger(t))

	line, limit := 2, 1
	resp, err := a.ReadTextFile(ctx, acpsdk.ReadTextFileRequest{Path: filepath.Join(dir, "notes.txt"), Line: &line, Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, "two", resp.Content)

	_, err = a.WriteTextFile(ctx, acpsdk.WriteTextFileRequest{Path: filepath.Join(dir, "out", "new.txt"), Content: "written"})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "out", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))

	_, err = a.CreateTerminal(ctx, acpsdk.CreateTerminalRequest{})
	assert.ErrorIs(t, err, errTerminalDisabled)
}

func TestSDKMCPServersNeverNil(t *testing.T) {
	servers := sdkMCPServers(stdioOptions(), zaptest.NewLogger(t))
	assert.NotNil(t, servers)
	assert.Empty(t, servers)
}
