package process

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// shell runs script through sh; the flags appended by the manager land in $0..$n.
func shell(script string) Config {
	return Config{
		Command: "sh",
		Args:    []string{"-c", script},
	}
}

func TestStartPipesAreTakeOnce(t *testing.T) {
	mgr, err := Start(context.Background(), shell("cat"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer mgr.Stop()

	stdin := mgr.TakeStdin()
	stdout := mgr.TakeStdout()
	require.NotNil(t, stdin)
	require.NotNil(t, stdout)
	assert.Nil(t, mgr.TakeStdin())
	assert.Nil(t, mgr.TakeStdout())

	_, err = io.WriteString(stdin, "ping\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)
}

func TestStartAppendsProtocolFlag(t *testing.T) {
	mgr, err := Start(context.Background(), shell(`echo "$0"`), nil)
	require.NoError(t, err)
	defer mgr.Stop()

	out, err := io.ReadAll(mgr.TakeStdout())
	require.NoError(t, err)
	assert.Equal(t, ACPFlag+"\n", string(out))
}

func TestStartEmptyCommand(t *testing.T) {
	_, err := Start(context.Background(), Config{}, nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(context.Background(), Config{Command: "definitely-not-a-real-binary-7f3a"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestStartupWaitDetectsEarlyExit(t *testing.T) {
	config := shell("exit 3")
	config.StartupWait = 2 * time.Second

	_, err := Start(context.Background(), config, nil)
	assert.ErrorIs(t, err, ErrExited)
}

func TestEarlyExitReportsStderr(t *testing.T) {
	config := shell("echo 'unknown option --experimental-acp' >&2; exit 2")
	config.StartupWait = 2 * time.Second

	_, err := Start(context.Background(), config, nil)
	require.ErrorIs(t, err, ErrExited)
	assert.Contains(t, err.Error(), "stderr: unknown option --experimental-acp")
}

func TestStderrIsRetained(t *testing.T) {
	mgr, err := Start(context.Background(), shell("echo starting >&2; sleep 10"), nil)
	require.NoError(t, err)
	defer mgr.Stop()

	assert.Eventually(t, func() bool { return mgr.Stderr() == "starting\n" }, 2*time.Second, 10*time.Millisecond)
}

func TestTailLogKeepsNewestBytes(t *testing.T) {
	l := newTailLog(8)
	_, _ = l.Write([]byte("abc"))
	out, truncated := l.String()
	assert.Equal(t, "abc", out)
	assert.False(t, truncated)

	_, _ = l.Write([]byte("defghijk"))
	out, truncated = l.String()
	assert.Equal(t, "defghijk", out)
	assert.True(t, truncated)
	assert.Equal(t, "; stderr: ...defghijk", l.suffix())

	assert.Empty(t, newTailLog(4).suffix())
}

func TestStopTwice(t *testing.T) {
	mgr, err := Start(context.Background(), shell("sleep 10"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, mgr.IsRunning())

	start := time.Now()
	require.NoError(t, mgr.Stop())
	require.NoError(t, mgr.Stop())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, mgr.IsRunning())

	select {
	case <-mgr.Done():
	default:
		t.Fatal("expected process to have exited")
	}
}

func TestStartListeningUsesPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	config := shell("sleep 10")
	config.PollAttempts = 3
	config.PollInterval = 10 * time.Millisecond

	mgr, err := StartListening(context.Background(), config, port, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer mgr.Stop()

	assert.Equal(t, port, mgr.Port())
	assert.True(t, mgr.IsRunning())
}

func TestStartListeningGivesUp(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)

	config := shell("sleep 10")
	config.PollAttempts = 2
	config.PollInterval = 20 * time.Millisecond

	_, err = StartListening(context.Background(), config, port, nil)
	assert.ErrorIs(t, err, ErrPortTimeout)
}

func TestStartListeningProcessExits(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)

	config := shell("exit 1")
	config.PollAttempts = 50
	config.PollInterval = 50 * time.Millisecond

	_, err = StartListening(context.Background(), config, port, nil)
	assert.ErrorIs(t, err, ErrExited)
}

func TestIsPortListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, IsPortListening(port))
	assert.True(t, IsPortListening(port), "probing must not consume the listener")

	require.NoError(t, ln.Close())
	assert.False(t, IsPortListening(port))
}
