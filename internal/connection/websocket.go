package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/protocol"
	"github.com/ricochet1k/iflowacp/internal/provider/process"
	"github.com/ricochet1k/iflowacp/internal/retry"
	"github.com/ricochet1k/iflowacp/internal/transport"
)

const localURLPrefix = "ws://localhost:"

// WebSocket talks to an agent listening on a WebSocket port, optionally
// starting it first.
type WebSocket struct {
	opts   config.Options
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	engine    *protocol.Engine
	proc      *process.Manager
	url       string
	sessionID string
	closed    bool
}

var _ Connection = (*WebSocket)(nil)

func NewWebSocket(opts config.Options, deps Deps) *WebSocket {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.WebSocket == nil {
		opts.WebSocket = config.DefaultWebSocket()
	}
	return &WebSocket{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "ws_connection")),
	}
}

// URL returns the address the connection resolved to, once initialized.
func (c *WebSocket) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Engine exposes the protocol engine, nil before Initialize.
func (c *WebSocket) Engine() *protocol.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

func (c *WebSocket) Initialize(ctx context.Context) error {
	const op = "initialize websocket"

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.NewError(domain.KindNotConnected, op, "connection closed")
	}
	engine := c.engine
	c.mu.Unlock()

	if engine == nil {
		var err error
		if engine, err = c.establish(ctx); err != nil {
			return err
		}
	}

	if engine.State() == protocol.StateDisconnected {
		if err := engine.Connect(ctx); err != nil {
			return err
		}
	}
	if err := engine.Initialize(ctx, protocol.InitializeParams{MCPServers: mcpServers(c.opts)}); err != nil {
		return err
	}
	if !engine.IsAuthenticated() {
		method := c.opts.AuthMethod()
		c.logger.Debug("authenticating", zap.String("method", method))
		if err := engine.Authenticate(ctx, method, c.opts.AuthMethodInfo); err != nil {
			return err
		}
	}
	return nil
}

// establish resolves the URL, starting the agent if needed, and dials it
// with bounded retries.
func (c *WebSocket) establish(ctx context.Context) (*protocol.Engine, error) {
	const op = "connect websocket"

	url, proc, err := c.resolveURL(ctx)
	if err != nil {
		return nil, err
	}

	ws := c.opts.WebSocket
	t := transport.NewWebSocket(url, c.opts.Timeout, c.deps.Logger)
	policy := retry.Policy{Attempts: ws.ReconnectAttempts, Interval: ws.ReconnectInterval}
	err = policy.Do(ctx, func(attempt int) error {
		err := t.Connect(ctx)
		if err != nil {
			c.logger.Warn("websocket connect failed", zap.Int("attempt", attempt), zap.String("url", url), zap.Error(err))
		}
		return err
	})
	if err != nil {
		stopProcess(proc, c.logger)
		return nil, &domain.Error{
			Kind: domain.KindConnection,
			Op:   op,
			Msg:  fmt.Sprintf("failed to connect to WebSocket after %d attempts", max(ws.ReconnectAttempts, 1)),
			Err:  err,
		}
	}
	c.logger.Info("websocket connected", zap.String("url", url))

	engine := protocol.NewEngine(t, c.deps.Events, protocol.Config{
		Timeout:        c.opts.Timeout,
		PermissionMode: c.opts.PermissionMode,
		Files:          fileHandler(c.opts),
	}, c.deps.Logger)

	c.mu.Lock()
	c.engine = engine
	c.proc = proc
	c.url = url
	c.mu.Unlock()
	return engine, nil
}

// resolveURL decides where to connect. In auto-start mode a local URL is
// probed first and the agent is only spawned when nothing listens on its
// port; without a URL the agent is always spawned on the start port.
func (c *WebSocket) resolveURL(ctx context.Context) (string, *process.Manager, error) {
	const op = "resolve websocket url"
	url := c.opts.WebSocket.URL

	if !c.opts.Process.AutoStart {
		if url == "" {
			return "", nil, domain.NewError(domain.KindConnection, op, "websocket url must be provided in manual start mode")
		}
		return url, nil, nil
	}

	if url == "" {
		port := c.opts.StartPort()
		proc, err := c.startAgent(ctx, port)
		if err != nil {
			return "", nil, err
		}
		return config.WebSocketURL(port), proc, nil
	}

	if !strings.HasPrefix(url, localURLPrefix) {
		return url, nil, nil
	}

	probe := transport.NewWebSocket(url, c.opts.Timeout, c.deps.Logger)
	probeErr := probe.Connect(ctx)
	if probeErr == nil {
		_ = probe.Close()
		c.logger.Debug("reusing running agent", zap.String("url", url))
		return url, nil, nil
	}

	port := config.ParsePort(url)
	if process.IsPortListening(port) {
		return "", nil, &domain.Error{
			Kind: domain.KindConnection,
			Op:   op,
			Msg:  fmt.Sprintf("port %d is listening but %s refused the connection", port, url),
			Err:  probeErr,
		}
	}

	c.logger.Debug("no agent on port, starting one", zap.Int("port", port), zap.NamedError("probe", probeErr))
	proc, err := c.startAgent(ctx, port)
	if err != nil {
		return "", nil, err
	}
	return url, proc, nil
}

func (c *WebSocket) startAgent(ctx context.Context, port int) (*process.Manager, error) {
	return spawn(c.deps.Breaker, func() (*process.Manager, error) {
		return process.StartListening(ctx, processConfig(c.opts), port, c.deps.Logger)
	})
}

func (c *WebSocket) CreateSession(ctx context.Context) (string, error) {
	engine := c.Engine()
	if engine == nil || !engine.IsInitialized() {
		if err := c.Initialize(ctx); err != nil {
			return "", err
		}
		engine = c.Engine()
	}

	sessionID, err := engine.CreateSession(ctx, c.opts.Cwd, mcpServers(c.opts))
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return sessionID, nil
}

func (c *WebSocket) SendMessage(ctx context.Context, text string) error {
	const op = "send message"

	c.mu.Lock()
	engine, sessionID := c.engine, c.sessionID
	c.mu.Unlock()

	if engine == nil {
		return domain.NewError(domain.KindNotConnected, op, "not initialized")
	}
	if sessionID == "" {
		return domain.NewError(domain.KindNoSession, op, "create a session first")
	}

	_, err := engine.SendPrompt(ctx, sessionID, text)
	return err
}

// Close closes the engine, then stops the agent if this connection started
// it.
func (c *WebSocket) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	engine, proc := c.engine, c.proc
	c.mu.Unlock()

	var err error
	if engine != nil {
		err = engine.Close()
	}
	stopProcess(proc, c.logger)
	return err
}

func (c *WebSocket) IsInitialized() bool {
	engine := c.Engine()
	return engine != nil && engine.IsInitialized()
}

func (c *WebSocket) IsAuthenticated() bool {
	engine := c.Engine()
	return engine != nil && engine.IsAuthenticated()
}

func (c *WebSocket) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
