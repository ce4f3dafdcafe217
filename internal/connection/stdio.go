package connection

import (
	"context"
	"io"
	"sync"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/protocol"
	"github.com/ricochet1k/iflowacp/internal/provider/process"
)

// Stdio talks ACP to an agent over its stdin/stdout using the SDK's client
// connection. Agents on this wire do not use the authenticate exchange, so a
// successful initialize leaves the connection authenticated.
type Stdio struct {
	opts   config.Options
	deps   Deps
	logger *zap.Logger

	mu            sync.Mutex
	conn          *acpsdk.ClientSideConnection
	proc          *process.Manager
	stdin         io.WriteCloser
	initialized   bool
	authenticated bool
	sessionID     string
	closed        bool
}

var _ Connection = (*Stdio)(nil)

func NewStdio(opts config.Options, deps Deps) *Stdio {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Stdio{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "stdio_connection")),
	}
}

func (c *Stdio) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout > 0 {
		return context.WithTimeout(ctx, c.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Stdio) Initialize(ctx context.Context) error {
	const op = "initialize stdio"

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.NewError(domain.KindNotConnected, op, "connection closed")
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	stdin, stdout, proc, err := c.pipes()
	if err != nil {
		return err
	}

	files := fileHandler(c.opts)
	adapter := newClientAdapter(c.deps.Events, c.opts.PermissionMode, files, c.deps.Logger)
	conn := acpsdk.NewClientSideConnection(adapter, stdin, stdout)

	ictx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := conn.Initialize(ictx, acpsdk.InitializeRequest{
		ProtocolVersion: acpsdk.ProtocolVersionNumber,
		ClientCapabilities: acpsdk.ClientCapabilities{
			Fs: acpsdk.FileSystemCapability{
				ReadTextFile:  files != nil,
				WriteTextFile: files.CanWrite(),
			},
			Terminal: false,
		},
	})
	if err != nil {
		_ = stdin.Close()
		stopProcess(proc, c.logger)
		if ictx.Err() != nil {
			return &domain.Error{Kind: domain.KindTimeout, Op: op, Msg: "initialize timed out", Err: err}
		}
		return domain.WrapError(domain.KindProtocol, op, err)
	}
	c.logger.Info("stdio agent initialized", zap.Any("protocol_version", resp.ProtocolVersion))

	c.mu.Lock()
	c.conn = conn
	c.proc = proc
	c.stdin = stdin
	c.initialized = true
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

// pipes returns the agent's stdin and stdout, spawning it in auto-start mode.
func (c *Stdio) pipes() (io.WriteCloser, io.ReadCloser, *process.Manager, error) {
	const op = "initialize stdio"

	if !c.opts.Process.AutoStart {
		if c.deps.Stdin == nil || c.deps.Stdout == nil {
			return nil, nil, nil, domain.NewError(domain.KindConnection, op, "stdin and stdout must be provided when auto start is off")
		}
		return c.deps.Stdin, c.deps.Stdout, nil, nil
	}

	proc, err := spawn(c.deps.Breaker, func() (*process.Manager, error) {
		// The process outlives this call, so it is not bound to a request ctx.
		return process.Start(context.Background(), processConfig(c.opts), c.deps.Logger)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	stdin, stdout := proc.TakeStdin(), proc.TakeStdout()
	if stdin == nil || stdout == nil {
		stopProcess(proc, c.logger)
		return nil, nil, nil, domain.NewError(domain.KindConnection, op, "agent process has no stdio pipes")
	}
	return stdin, stdout, proc, nil
}

func (c *Stdio) CreateSession(ctx context.Context) (string, error) {
	const op = "create session"

	if !c.IsInitialized() {
		if err := c.Initialize(ctx); err != nil {
			return "", err
		}
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	sctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := conn.NewSession(sctx, acpsdk.NewSessionRequest{
		Cwd:        c.opts.Cwd,
		McpServers: sdkMCPServers(c.opts, c.logger),
	})
	if err != nil {
		if sctx.Err() != nil {
			return "", &domain.Error{Kind: domain.KindTimeout, Op: op, Msg: "session/new timed out", Err: err}
		}
		return "", domain.WrapError(domain.KindProtocol, op, err)
	}

	sessionID := string(resp.SessionId)
	c.logger.Info("session created", zap.String("session_id", sessionID))

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return sessionID, nil
}

func (c *Stdio) SendMessage(ctx context.Context, text string) error {
	const op = "send message"

	c.mu.Lock()
	conn, sessionID := c.conn, c.sessionID
	c.mu.Unlock()

	if conn == nil {
		return domain.NewError(domain.KindNotConnected, op, "not initialized")
	}
	if sessionID == "" {
		return domain.NewError(domain.KindNoSession, op, "create a session first")
	}

	pctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := conn.Prompt(pctx, acpsdk.PromptRequest{
		SessionId: acpsdk.SessionId(sessionID),
		Prompt:    []acpsdk.ContentBlock{acpsdk.TextBlock(text)},
	})
	if err != nil {
		if pctx.Err() != nil {
			return &domain.Error{Kind: domain.KindTimeout, Op: op, Msg: "session/prompt timed out", Err: err}
		}
		return domain.WrapError(domain.KindProtocol, op, err)
	}

	reason := string(resp.StopReason)
	if reason == "" {
		reason = protocol.StopReasonCompleted
	}
	if c.deps.Events != nil {
		c.deps.Events.Emit(domain.NewTaskFinishedEvent(sessionID, reason))
	}
	return nil
}

// Close closes the agent's stdin and stops the process if it was started
// here.
func (c *Stdio) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stdin, proc := c.stdin, c.proc
	c.mu.Unlock()

	var err error
	if stdin != nil {
		err = stdin.Close()
	}
	stopProcess(proc, c.logger)
	return err
}

func (c *Stdio) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Stdio) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Stdio) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
