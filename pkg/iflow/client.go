// Package iflow is a client for agents that speak the Agent Client Protocol,
// such as `iflow --experimental-acp`, over stdio or WebSocket.
//
// A Client owns one connection at a time and an event stream that outlives
// reconnects:
//
//	c := iflow.New(iflow.DefaultOptions())
//	defer c.Close()
//	if err := c.Connect(ctx); err != nil { ... }
//	go func() {
//		for ev := range c.Events() { ... }
//	}()
//	err := c.Send(ctx, "hello")
package iflow

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/connection"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/logging"
	"github.com/ricochet1k/iflowacp/internal/retry"
)

const (
	// InterruptedReason is the TaskFinished reason Interrupt enqueues.
	InterruptedReason = "interrupted"

	spawnFailureThreshold = 3
	spawnCooldown         = 30 * time.Second
)

type Option func(*Client)

// WithLogger replaces the logger built from Options.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPipes talks stdio ACP over the given pipes instead of spawning the
// agent. Only used when Options.WebSocket is nil and auto-start is off.
func WithPipes(stdin io.WriteCloser, stdout io.ReadCloser) Option {
	return func(c *Client) {
		c.stdin = stdin
		c.stdout = stdout
	}
}

type Client struct {
	opts    Options
	logger  *zap.Logger
	connID  string
	stream  *domain.Stream
	breaker *retry.Breaker
	stdin   io.WriteCloser
	stdout  io.ReadCloser

	mu        sync.Mutex
	conn      connection.Connection
	connected bool
	closed    bool
}

func New(opts Options, options ...Option) *Client {
	c := &Client{
		opts:    opts,
		connID:  uuid.NewString(),
		stream:  domain.NewStream(),
		breaker: retry.NewBreaker(spawnFailureThreshold, spawnCooldown),
	}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		logger, err := logging.New(opts.Logging)
		if err != nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	}
	c.logger = c.logger.With(zap.String("conn_id", c.connID))
	return c
}

// Connect establishes the connection and completes the handshake, starting
// the agent first when Options.Process.AutoStart is set.
func (c *Client) Connect(ctx context.Context) error {
	const op = "connect"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.NewError(domain.KindNotConnected, op, "client closed")
	}
	if c.connected {
		c.logger.Warn("already connected")
		return nil
	}
	if err := c.opts.Validate(); err != nil {
		return err
	}

	conn := connection.New(c.opts, connection.Deps{
		Events:  c.stream,
		Logger:  c.logger,
		Breaker: c.breaker,
		Stdin:   c.stdin,
		Stdout:  c.stdout,
	})
	if err := conn.Initialize(ctx); err != nil {
		_ = conn.Close()
		c.logger.Error("connect failed", zap.Error(err))
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("connected", zap.Bool("websocket", c.opts.WebSocket != nil))
	return nil
}

// Send prompts the agent and returns when it has finished the turn. The
// session is created on the first call and reused afterwards.
func (c *Client) Send(ctx context.Context, text string) error {
	const op = "send"

	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !connected {
		return domain.NewError(domain.KindNotConnected, op, "call Connect first")
	}

	if conn.SessionID() == "" {
		sessionID, err := conn.CreateSession(ctx)
		if err != nil {
			return err
		}
		c.logger.Info("session created", zap.String("session_id", sessionID))
	}
	return conn.SendMessage(ctx, text)
}

// Events returns the event channel. It is closed by Close once every queued
// event has been read.
func (c *Client) Events() <-chan Event {
	return c.stream.C()
}

// Interrupt enqueues a TaskFinished event with InterruptedReason. It does not
// cancel the agent's turn.
func (c *Client) Interrupt() error {
	const op = "interrupt"

	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if !connected {
		return domain.NewError(domain.KindNotConnected, op, "call Connect first")
	}
	if !c.stream.Push(domain.NewTaskFinishedEvent(conn.SessionID(), InterruptedReason)) {
		return domain.NewError(domain.KindConnection, op, "event stream closed")
	}
	return nil
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.SessionID()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the connection and stops any agent process it started.
// Events stay readable and Connect may be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.logger.Debug("disconnected")
	return err
}

// Close disconnects and closes the event stream. Queued events can still be
// drained from Events.
func (c *Client) Close() error {
	err := c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stream.Close()
	_ = c.logger.Sync()
	return err
}
