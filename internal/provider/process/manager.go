package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ACPFlag switches the agent binary into protocol mode.
const ACPFlag = "--experimental-acp"

var (
	ErrEmptyCommand = errors.New("command cannot be empty")
	ErrExited       = errors.New("process exited")
	ErrPortTimeout  = errors.New("port did not start listening")
)

// Config holds configuration for starting the agent process.
type Config struct {
	Command     string
	Args        []string
	WorkingDir  string
	Environment map[string]string

	// StartupWait is how long Start pauses after spawning in stdio mode.
	StartupWait time.Duration

	// PollAttempts and PollInterval bound how long StartListening waits for
	// the port to accept connections.
	PollAttempts int
	PollInterval time.Duration
}

// procState is shared with the wait goroutine and the cleanup hook. It must
// not point back at the Manager, otherwise the Manager never becomes
// unreachable and the cleanup never runs.
type procState struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (ps *procState) kill() {
	select {
	case <-ps.done:
		return
	default:
	}
	if err := killGroup(ps.cmd.Process); err != nil {
		_ = ps.cmd.Process.Kill()
	}
}

// Manager supervises one agent process. Stdin and stdout can each be taken
// once; Stop is idempotent and also runs if the Manager is garbage collected
// while the process is still alive.
type Manager struct {
	mu      sync.Mutex
	ps      *procState
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	port    int
	stopped bool
	cleanup runtime.Cleanup
	logger  *zap.Logger

	stderr     *tailLog
	stderrDone chan struct{}
}

// Start spawns the agent for stdio mode: stdin and stdout are piped and the
// protocol flag is appended. It waits config.StartupWait before returning.
func Start(ctx context.Context, config Config, logger *zap.Logger) (*Manager, error) {
	args := append(append([]string{}, config.Args...), ACPFlag)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	m, err := spawn(config, args, stdinR, stdoutW, logger)
	// The child holds its own copies of these ends now.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	if err != nil {
		_ = stdinW.Close()
		_ = stdoutR.Close()
		return nil, err
	}
	m.stdin = stdinW
	m.stdout = stdoutR

	if config.StartupWait > 0 {
		select {
		case <-time.After(config.StartupWait):
		case <-m.ps.done:
			_ = m.Stop()
			return nil, fmt.Errorf("%w during startup: %v%s", ErrExited, m.ps.err, m.stderrTail())
		case <-ctx.Done():
			_ = m.Stop()
			return nil, ctx.Err()
		}
	}

	m.logger.Info("agent process started", zap.String("mode", "stdio"))
	return m, nil
}

// StartListening spawns the agent for WebSocket mode with --port and polls the
// port until it accepts connections. On failure the process is stopped.
func StartListening(ctx context.Context, config Config, port int, logger *zap.Logger) (*Manager, error) {
	args := append(append([]string{}, config.Args...), ACPFlag, "--port", strconv.Itoa(port))

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m, err := spawn(config, args, nil, stdoutW, logger)
	_ = stdoutW.Close()
	if err != nil {
		_ = stdoutR.Close()
		return nil, err
	}
	m.port = port
	go drain(stdoutR, m.logger.With(zap.String("stream", "stdout")), nil)

	attempts := config.PollAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if err := WaitForPort(ctx, port, attempts, config.PollInterval, m.ps.done); err != nil {
		_ = m.Stop()
		if tail := m.stderrTail(); tail != "" {
			return nil, fmt.Errorf("%w%s", err, tail)
		}
		return nil, err
	}

	m.logger.Info("agent process listening", zap.String("mode", "websocket"), zap.Int("port", port))
	return m, nil
}

func spawn(config Config, args []string, stdin *os.File, stdout *os.File, logger *zap.Logger) (*Manager, error) {
	if config.Command == "" {
		return nil, ErrEmptyCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(config.Command, args...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}
	cmd.Env = os.Environ()
	for k, v := range config.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	cmd.Stdout = stdout
	setProcAttr(cmd)

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stderrR.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", config.Command, err)
	}
	_ = stderrW.Close()

	ps := &procState{cmd: cmd, done: make(chan struct{})}
	go func() {
		ps.err = cmd.Wait()
		close(ps.done)
	}()

	m := &Manager{
		ps:         ps,
		logger:     logger.With(zap.String("component", "process"), zap.Int("pid", cmd.Process.Pid)),
		stderr:     newTailLog(stderrTailSize),
		stderrDone: make(chan struct{}),
	}
	go func() {
		defer close(m.stderrDone)
		drain(stderrR, m.logger.With(zap.String("stream", "stderr")), m.stderr)
	}()
	m.cleanup = runtime.AddCleanup(m, func(ps *procState) { ps.kill() }, ps)
	return m, nil
}

// drain forwards a child's output to the debug log until EOF, copying each
// line to tail when set.
func drain(r io.ReadCloser, logger *zap.Logger, tail io.Writer) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		logger.Debug(line)
		if tail != nil {
			_, _ = io.WriteString(tail, line+"\n")
		}
	}
}

// Stderr returns the most recent stderr output of the process.
func (m *Manager) Stderr() string {
	out, _ := m.stderr.String()
	return out
}

// stderrTail gives the stderr reader a moment to reach EOF after an exit and
// renders what it captured for an error message.
func (m *Manager) stderrTail() string {
	select {
	case <-m.stderrDone:
	case <-time.After(200 * time.Millisecond):
	}
	return m.stderr.suffix()
}

// TakeStdin hands over the process's stdin. Later calls return nil.
func (m *Manager) TakeStdin() io.WriteCloser {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.stdin
	m.stdin = nil
	return w
}

// TakeStdout hands over the process's stdout. Later calls return nil.
func (m *Manager) TakeStdout() io.ReadCloser {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.stdout
	m.stdout = nil
	return r
}

// Port returns the port passed to the process, or 0 in stdio mode.
func (m *Manager) Port() int {
	return m.port
}

func (m *Manager) Pid() int {
	return m.ps.cmd.Process.Pid
}

// Done is closed once the process has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.ps.done
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return false
	}
	select {
	case <-m.ps.done:
		return false
	default:
		return true
	}
}

// Stop kills the process group and waits for the process to exit. Calling it
// again is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	stdin, stdout := m.stdin, m.stdout
	m.stdin, m.stdout = nil, nil
	m.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	m.ps.kill()
	<-m.ps.done
	m.cleanup.Stop()

	if stdout != nil {
		_ = stdout.Close()
	}
	m.logger.Info("agent process stopped")
	return nil
}
