// Package protocol implements the client side of ACP JSON-RPC over a frame
// transport: the handshake state machine, request/response correlation, and
// dispatch of server-initiated calls into domain events.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/fsaccess"
	"github.com/ricochet1k/iflowacp/internal/retry"
	"github.com/ricochet1k/iflowacp/internal/transport"
)

const (
	DefaultPollInterval      = time.Second
	DefaultReadyPollInterval = 10 * time.Second

	// StopReasonCompleted is reported when the prompt response carries no
	// stop reason of its own.
	StopReasonCompleted = "completed"
)

// DefaultSendRetry bounds retries of the initialize send.
var DefaultSendRetry = retry.Policy{Attempts: 3, Interval: 500 * time.Millisecond}

// Config tunes one Engine. Zero values take defaults.
type Config struct {
	// Timeout bounds every blocking exchange, measured in wall-clock time.
	Timeout        time.Duration
	PermissionMode config.PermissionMode
	// Files serves fs/* calls when non-nil.
	Files *fsaccess.Handler

	PollInterval      time.Duration
	ReadyPollInterval time.Duration
	SendRetry         retry.Policy
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = DefaultReadyPollInterval
	}
	if c.SendRetry.Attempts <= 0 {
		c.SendRetry = DefaultSendRetry
	}
	return c
}

// InitializeParams are the caller-supplied parts of the initialize request.
type InitializeParams struct {
	// MCPServers are forwarded verbatim when non-empty.
	MCPServers []map[string]any
}

// Engine drives one ACP connection. It is not reusable: once closed, or once
// an exchange fails fatally, build a new one over a new transport.
//
// Exchanges are serialized; the engine is the only reader of its transport.
type Engine struct {
	transport  transport.Transport
	events     Emitter
	dispatcher *Dispatcher
	cfg        Config
	logger     *zap.Logger

	nextID atomic.Uint32
	// abandoned holds ids of requests whose wait timed out, keyed to the
	// method, so a late answer can be told apart from a stray one.
	abandoned *ttlcache.Cache[uint32, string]

	exchange sync.Mutex

	mu            sync.Mutex
	state         State
	initialized   bool
	authenticated bool
	authMismatch  bool
	agentCaps     json.RawMessage
	authMethods   json.RawMessage
}

func NewEngine(t transport.Transport, events Emitter, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		transport: t,
		events:    events,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "engine")),
		abandoned: ttlcache.New(ttlcache.WithTTL[uint32, string](cfg.Timeout)),
	}
	e.dispatcher = newDispatcher(e.sendJSON, events, cfg.PermissionMode, cfg.Files, logger)
	return e
}

// Connect opens the transport, unless it is already open, and waits for the
// peer's ready token.
func (e *Engine) Connect(ctx context.Context) error {
	const op = "connect"

	e.exchange.Lock()
	defer e.exchange.Unlock()

	if s := e.State(); s != StateDisconnected {
		return domain.NewError(domain.KindProtocol, op, fmt.Sprintf("engine is %s, not disconnected", s))
	}

	// Callers that retry the dial themselves hand over a live transport.
	if !e.transport.IsConnected() {
		if err := e.transport.Connect(ctx); err != nil {
			return domain.WrapError(domain.KindConnection, op, err)
		}
	}
	e.setState(StateAwaitingReady)
	e.logger.Debug("transport connected, waiting for ready token")

	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.setState(StateInitializing)
	e.logger.Info("peer ready")
	return nil
}

// awaitReady consumes frames until the ready token. Everything else the peer
// says before that is chatter.
func (e *Engine) awaitReady(ctx context.Context) error {
	const op = "await ready"
	deadline := time.Now().Add(e.cfg.Timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return e.timeoutError(ctx, op, "ready token not received")
		}

		frame, err := e.receive(ctx, min(remaining, e.cfg.ReadyPollInterval))
		if errors.Is(err, transport.ErrReceiveTimeout) || ctx.Err() != nil {
			continue
		}
		if err != nil {
			return e.transportError(op, err)
		}

		msg := Classify(frame)
		switch msg.Kind {
		case KindReady:
			return nil
		case KindControl:
			e.logger.Debug("control frame before ready", zap.String("frame", frame))
		default:
			e.logger.Debug("ignoring frame before ready", zap.String("frame", truncate(frame, 200)))
		}
	}
}

// Initialize sends the initialize request and records whether the peer
// already considers the client authenticated.
func (e *Engine) Initialize(ctx context.Context, params InitializeParams) error {
	const op = "initialize"

	e.exchange.Lock()
	defer e.exchange.Unlock()

	switch s := e.State(); s {
	case StateInitializing:
	case StateInitialized, StateAuthenticated:
		return nil
	default:
		return domain.NewError(domain.KindProtocol, op, fmt.Sprintf("peer not ready (engine is %s)", s))
	}

	id := e.newID()
	req := newRequest(id, MethodInitialize, e.initializeParams(params))

	err := e.cfg.SendRetry.Do(ctx, func(attempt int) error {
		err := e.sendJSON(ctx, req)
		if err != nil {
			e.logger.Warn("initialize send failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return &domain.Error{
			Kind: domain.KindProtocol,
			Op:   op,
			Msg:  fmt.Sprintf("send failed after %d attempts", e.cfg.SendRetry.Attempts),
			Err:  err,
		}
	}

	msg, err := e.waitForResponse(ctx, id, MethodInitialize, false)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return domain.WrapError(domain.KindProtocol, op, msg.Error)
	}

	var result struct {
		IsAuthenticated   bool            `json:"isAuthenticated"`
		AgentCapabilities json.RawMessage `json:"agentCapabilities"`
		AuthMethods       json.RawMessage `json:"authMethods"`
	}
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		e.logger.Warn("malformed initialize result", zap.Error(err))
	}

	e.mu.Lock()
	e.initialized = true
	e.agentCaps = result.AgentCapabilities
	e.authMethods = result.AuthMethods
	if result.IsAuthenticated {
		e.authenticated = true
		e.state = StateAuthenticated
	} else {
		e.state = StateInitialized
	}
	e.mu.Unlock()

	e.logger.Info("initialized", zap.Bool("authenticated", result.IsAuthenticated))
	return nil
}

func (e *Engine) initializeParams(params InitializeParams) map[string]any {
	p := map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{
				"readTextFile":  e.cfg.Files != nil,
				"writeTextFile": e.cfg.Files.CanWrite(),
			},
		},
	}
	if len(params.MCPServers) > 0 {
		p["mcpServers"] = params.MCPServers
	}
	return p
}

// Authenticate runs the authenticate exchange. The peer is authoritative: any
// non-error response counts as success, and an echoed method id that differs
// from methodID only sets AuthMismatch.
func (e *Engine) Authenticate(ctx context.Context, methodID string, methodInfo map[string]any) error {
	const op = "authenticate"

	e.exchange.Lock()
	defer e.exchange.Unlock()

	e.mu.Lock()
	initialized, authenticated := e.initialized, e.authenticated
	e.mu.Unlock()
	if !initialized {
		return domain.NewError(domain.KindProtocol, op, "not initialized")
	}
	if authenticated {
		e.logger.Debug("already authenticated, skipping")
		return nil
	}

	params := map[string]any{"methodId": methodID}
	if methodInfo != nil {
		params["methodInfo"] = methodInfo
	}

	id := e.newID()
	if err := e.sendJSON(ctx, newRequest(id, MethodAuthenticate, params)); err != nil {
		return domain.WrapError(domain.KindConnection, op, err)
	}

	msg, err := e.waitForResponse(ctx, id, MethodAuthenticate, false)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return domain.WrapError(domain.KindAuthentication, op, msg.Error)
	}

	var result struct {
		MethodID string `json:"methodId"`
	}
	_ = json.Unmarshal(msg.Result, &result)

	e.mu.Lock()
	e.authenticated = true
	e.state = StateAuthenticated
	if result.MethodID != "" && result.MethodID != methodID {
		e.authMismatch = true
	}
	mismatch := e.authMismatch
	e.mu.Unlock()

	if mismatch {
		e.logger.Warn("authenticate response names a different method",
			zap.String("requested", methodID),
			zap.String("returned", result.MethodID),
		)
	}
	e.logger.Info("authenticated", zap.String("method", methodID))
	return nil
}

// CreateSession runs session/new and returns the peer's session id, or a
// local "session_<id>" fallback when the peer omits it.
func (e *Engine) CreateSession(ctx context.Context, cwd string, mcpServers []map[string]any) (string, error) {
	const op = "create session"

	e.exchange.Lock()
	defer e.exchange.Unlock()

	if err := e.requireAuthenticated(op); err != nil {
		return "", err
	}
	if mcpServers == nil {
		mcpServers = []map[string]any{}
	}

	id := e.newID()
	params := map[string]any{"cwd": cwd, "mcpServers": mcpServers}
	if err := e.sendJSON(ctx, newRequest(id, MethodSessionNew, params)); err != nil {
		return "", domain.WrapError(domain.KindConnection, op, err)
	}

	msg, err := e.waitForResponse(ctx, id, MethodSessionNew, false)
	if err != nil {
		return "", err
	}
	if msg.Error != nil {
		return "", domain.WrapError(domain.KindProtocol, op, msg.Error)
	}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(msg.Result, &result)

	sessionID := result.SessionID
	if sessionID == "" {
		sessionID = "session_" + strconv.FormatUint(uint64(id), 10)
		e.logger.Warn("session/new response has no sessionId, using local id", zap.String("session_id", sessionID))
	}
	e.logger.Info("session created", zap.String("session_id", sessionID), zap.String("cwd", cwd))
	return sessionID, nil
}

// SendPrompt sends one text prompt and blocks until the peer's terminal
// response, dispatching the streamed updates meanwhile. On success a
// TaskFinished event is emitted and the stop reason returned.
func (e *Engine) SendPrompt(ctx context.Context, sessionID, text string) (string, error) {
	const op = "send prompt"

	e.exchange.Lock()
	defer e.exchange.Unlock()

	if err := e.requireAuthenticated(op); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", domain.NewError(domain.KindNoSession, op, "no session id")
	}

	id := e.newID()
	params := map[string]any{
		"sessionId": sessionID,
		"prompt": []map[string]any{
			{"type": "text", "text": text},
		},
	}
	if err := e.sendJSON(ctx, newRequest(id, MethodSessionPrompt, params)); err != nil {
		return "", domain.WrapError(domain.KindConnection, op, err)
	}

	msg, err := e.waitForResponse(ctx, id, MethodSessionPrompt, true)
	if err != nil {
		return "", err
	}
	if msg.Error != nil {
		return "", domain.WrapError(domain.KindProtocol, op, msg.Error)
	}

	var result struct {
		StopReason string `json:"stopReason"`
	}
	_ = json.Unmarshal(msg.Result, &result)

	reason := result.StopReason
	if reason == "" {
		reason = StopReasonCompleted
	}
	e.events.Emit(domain.NewTaskFinishedEvent(sessionID, reason))
	return reason, nil
}

// waitForResponse reads frames until the response to id arrives. Every other
// frame goes to the dispatcher. With notificationAware set, permission calls
// are answered before anything else is read.
func (e *Engine) waitForResponse(ctx context.Context, id uint32, method string, notificationAware bool) (Message, error) {
	deadline := time.Now().Add(e.cfg.Timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			e.abandon(id, method)
			return Message{}, e.timeoutError(ctx, method, fmt.Sprintf("no response to request %d", id))
		}

		frame, err := e.receive(ctx, min(remaining, e.cfg.PollInterval))
		if errors.Is(err, transport.ErrReceiveTimeout) || ctx.Err() != nil {
			continue
		}
		if err != nil {
			return Message{}, e.transportError(method, err)
		}

		msg := Classify(frame)
		if msg.answers(id) {
			return msg, nil
		}
		if notificationAware && msg.Kind == KindServerCall && msg.Method == MethodRequestPermission {
			e.dispatcher.HandlePermission(ctx, msg)
			continue
		}
		e.route(ctx, msg)
	}
}

// route hands a frame that answers nothing in flight to the dispatcher,
// noting answers to requests that were already given up on.
func (e *Engine) route(ctx context.Context, msg Message) {
	if msg.Kind == KindResponse {
		if rid, ok := msg.RequestID(); ok {
			if item, found := e.abandoned.GetAndDelete(rid); found {
				e.logger.Warn("late response to abandoned request",
					zap.Uint32("id", rid),
					zap.String("method", item.Value()),
				)
				if msg.Error == nil {
					return
				}
			}
		}
	}
	e.dispatcher.Dispatch(ctx, msg)
}

func (e *Engine) abandon(id uint32, method string) {
	e.abandoned.DeleteExpired()
	e.abandoned.Set(id, method, ttlcache.DefaultTTL)
}

func (e *Engine) receive(ctx context.Context, d time.Duration) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	frame, err := e.transport.Receive(rctx)
	if err == nil {
		e.logger.Debug("recv", zap.String("frame", truncate(frame, 500)))
	}
	return frame, err
}

func (e *Engine) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	e.logger.Debug("send", zap.ByteString("frame", data))
	return e.transport.Send(sctx, string(data))
}

func (e *Engine) newID() uint32 {
	return e.nextID.Add(1)
}

func (e *Engine) requireAuthenticated(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.state == StateClosed:
		return domain.NewError(domain.KindNotConnected, op, "engine closed")
	case !e.initialized:
		return domain.NewError(domain.KindProtocol, op, "not initialized")
	case !e.authenticated:
		return domain.NewError(domain.KindProtocol, op, "not authenticated")
	}
	return nil
}

func (e *Engine) timeoutError(ctx context.Context, op, msg string) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return &domain.Error{Kind: domain.KindTimeout, Op: op, Msg: msg, Err: err}
	}
	return domain.NewError(domain.KindTimeout, op, fmt.Sprintf("%s within %s", msg, e.cfg.Timeout))
}

func (e *Engine) transportError(op string, err error) error {
	if errors.Is(err, transport.ErrConnectionClosed) {
		return &domain.Error{Kind: domain.KindConnection, Op: op, Msg: "peer closed the connection", Err: err}
	}
	return domain.WrapError(domain.KindConnection, op, err)
}

// Close closes the transport. The engine cannot be used afterwards.
func (e *Engine) Close() error {
	e.setState(StateClosed)
	e.abandoned.DeleteAll()
	return e.transport.Close()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *Engine) IsAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authenticated
}

// AuthMismatch reports whether the authenticate response named a method other
// than the one requested.
func (e *Engine) AuthMismatch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authMismatch
}

// Capabilities returns the raw agentCapabilities and authMethods from the
// initialize result.
func (e *Engine) Capabilities() (agent, authMethods json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentCaps, e.authMethods
}
