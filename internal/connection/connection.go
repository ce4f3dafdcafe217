// Package connection brings an ACP agent up over one of two wires, WebSocket
// (driven by the protocol engine in this module) or the agent's stdio
// (driven by the ACP SDK), behind one interface.
package connection

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/fsaccess"
	"github.com/ricochet1k/iflowacp/internal/protocol"
	"github.com/ricochet1k/iflowacp/internal/provider/process"
	"github.com/ricochet1k/iflowacp/internal/retry"
)

// Connection is one live link to an agent.
type Connection interface {
	// Initialize establishes the link and completes the handshake, starting
	// the agent process first when configured to.
	Initialize(ctx context.Context) error
	// CreateSession opens a conversation and returns its id.
	CreateSession(ctx context.Context) (string, error)
	// SendMessage sends one prompt on the current session and returns once
	// the agent has finished the turn.
	SendMessage(ctx context.Context, text string) error
	// Close tears down the link and any process it started. Idempotent.
	Close() error
	IsInitialized() bool
	IsAuthenticated() bool
	SessionID() string
}

// Deps are the collaborators a connection shares with its owner.
type Deps struct {
	Events protocol.Emitter
	Logger *zap.Logger
	// Breaker, when set, gates process auto-start.
	Breaker *retry.Breaker
	// Stdin and Stdout replace the spawned process in stdio mode.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// New picks the implementation for opts: WebSocket when opts.WebSocket is
// set, stdio otherwise.
func New(opts config.Options, deps Deps) Connection {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.WebSocket != nil {
		return NewWebSocket(opts, deps)
	}
	return NewStdio(opts, deps)
}

func processConfig(opts config.Options) process.Config {
	return process.Config{
		Command:      opts.Process.Command,
		Args:         opts.Process.Args,
		WorkingDir:   opts.Cwd,
		Environment:  opts.Process.Environment,
		StartupWait:  opts.Process.StartupWait,
		PollAttempts: opts.Process.PortPollAttempts,
		PollInterval: opts.Process.PortPollInterval,
	}
}

func fileHandler(opts config.Options) *fsaccess.Handler {
	return fsaccess.New(opts.FileAccess, opts.Cwd)
}

func mcpServers(opts config.Options) []map[string]any {
	out := make([]map[string]any, 0, len(opts.MCPServers))
	for _, s := range opts.MCPServers {
		out = append(out, s.Wire())
	}
	return out
}

// spawn runs start behind the breaker, if any.
func spawn(breaker *retry.Breaker, start func() (*process.Manager, error)) (*process.Manager, error) {
	const op = "start agent"

	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return nil, domain.WrapError(domain.KindProcessManager, op, err)
		}
	}

	pm, err := start()
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return nil, domain.WrapError(domain.KindProcessManager, op, err)
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}
	return pm, nil
}

func stopProcess(pm *process.Manager, logger *zap.Logger) {
	if pm == nil {
		return
	}
	if err := pm.Stop(); err != nil {
		logger.Warn("failed to stop agent process", zap.Error(err))
	}
}
