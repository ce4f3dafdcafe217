// Package mockpeer provides in-process ACP agents for tests and local runs: a
// WebSocket JSON-RPC peer that behaves like `iflow --experimental-acp --port`
// and a stdio echo agent built on the ACP SDK.
package mockpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PermissionAsk makes the peer request permission during every prompt before
// answering it.
type PermissionAsk struct {
	Title   string
	Type    string
	Options []string
}

// Script controls how the peer behaves. The zero value is a pre-authenticated
// agent that echoes each prompt back as one text chunk.
type Script struct {
	// Chatter frames are sent before the ready token.
	Chatter []string
	// SkipReady suppresses the ready token entirely.
	SkipReady bool

	// RequireAuth makes initialize report isAuthenticated=false.
	RequireAuth bool
	// AuthMethodEcho overrides the methodId echoed by authenticate.
	AuthMethodEcho string
	// RejectAuth answers authenticate with an error.
	RejectAuth bool

	// SessionID is returned by session/new; empty means a random id.
	SessionID string
	// OmitSessionID answers session/new with an empty result.
	OmitSessionID bool

	// Updates returns the session/update payloads streamed for a prompt.
	// Nil echoes the prompt text as a single agent_message_chunk.
	Updates func(prompt string) []map[string]any
	// Permission, when set, is asked during every prompt.
	Permission *PermissionAsk
	// StopReason is put on the prompt response when non-empty.
	StopReason string
	// NoPromptResponse leaves prompts unanswered.
	NoPromptResponse bool
}

// Server is a WebSocket ACP peer mounted on /acp.
type Server struct {
	script Script
	router chi.Router
	logger *zap.Logger

	ln  net.Listener
	srv *http.Server

	mu          sync.Mutex
	clients     map[string]*peerClient
	methods     []string
	prompts     []string
	permReplies []json.RawMessage
	lastInit    json.RawMessage
}

func New(script Script, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		script:  script,
		logger:  logger.With(zap.String("component", "mockpeer")),
		clients: make(map[string]*peerClient),
	}
	r := chi.NewRouter()
	s.Mount(r)
	s.router = r
	return s
}

// Mount registers the peer's routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/acp", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Handler returns the peer's router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the
// background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockpeer listen: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.router}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("serve stopped", zap.Error(err))
		}
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Port returns the listening port, or 0 before Start.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// URL returns the ws:// address clients dial.
func (s *Server) URL() string {
	return fmt.Sprintf("ws://127.0.0.1:%d/acp?peer=iflow", s.Port())
}

// Shutdown hangs up on every client and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Close stops the listener immediately.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.mu.Unlock()
	if s.srv != nil {
		_ = s.srv.Close()
	}
}

// Methods lists the methods of every request received, in order.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

// Prompts lists the text of every prompt received.
func (s *Server) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// PermissionReplies lists the results the client sent for permission asks.
func (s *Server) PermissionReplies() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.permReplies...)
}

// InitializeParams returns the params of the last initialize request.
func (s *Server) InitializeParams() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInit
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newPeerClient(uuid.NewString(), conn, s.logger)
	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID())
		s.mu.Unlock()
		client.Close()
	}()

	go client.WriteLoop()

	for _, frame := range s.script.Chatter {
		client.QueueText(frame)
	}
	if !s.script.SkipReady {
		client.QueueText(protocol.ReadyToken)
	}

	sess := &peerSession{server: s, client: client, pending: make(map[string]json.RawMessage)}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.handle(protocol.Classify(string(raw)))
	}
}

// peerSession is the per-connection protocol state. It runs on the
// connection's read goroutine only.
type peerSession struct {
	server    *Server
	client    *peerClient
	sessionID string
	permSeq   int
	// pending maps permission request ids to the prompt id they hold up.
	pending map[string]json.RawMessage
}

func (p *peerSession) handle(msg protocol.Message) {
	s := p.server

	switch msg.Kind {
	case protocol.KindResponse:
		p.handleReply(msg)
		return
	case protocol.KindServerCall, protocol.KindNotification:
	default:
		s.logger.Debug("ignoring frame", zap.String("frame", msg.Raw))
		return
	}

	s.mu.Lock()
	s.methods = append(s.methods, msg.Method)
	s.mu.Unlock()

	switch msg.Method {
	case protocol.MethodInitialize:
		s.mu.Lock()
		s.lastInit = msg.Params
		s.mu.Unlock()
		p.result(msg.ID, map[string]any{
			"protocolVersion":   protocol.ProtocolVersion,
			"isAuthenticated":   !s.script.RequireAuth,
			"agentCapabilities": map[string]any{"loadSession": false},
			"authMethods": []map[string]any{
				{"id": "iflow", "name": "iFlow login"},
			},
		})

	case protocol.MethodAuthenticate:
		if s.script.RejectAuth {
			p.error(msg.ID, -32000, "authentication rejected")
			return
		}
		var params struct {
			MethodID string `json:"methodId"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		echo := params.MethodID
		if s.script.AuthMethodEcho != "" {
			echo = s.script.AuthMethodEcho
		}
		p.result(msg.ID, map[string]any{"methodId": echo})

	case protocol.MethodSessionNew:
		if s.script.OmitSessionID {
			p.result(msg.ID, map[string]any{})
			return
		}
		p.sessionID = s.script.SessionID
		if p.sessionID == "" {
			p.sessionID = "mock-" + uuid.NewString()
		}
		p.result(msg.ID, map[string]any{"sessionId": p.sessionID})

	case protocol.MethodSessionPrompt:
		p.handlePrompt(msg)

	default:
		if msg.HasID() {
			p.error(msg.ID, protocol.ErrCodeMethodNotFound, "Method not found")
		}
	}
}

func (p *peerSession) handlePrompt(msg protocol.Message) {
	s := p.server

	var params struct {
		SessionID string `json:"sessionId"`
		Prompt    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"prompt"`
	}
	_ = json.Unmarshal(msg.Params, &params)

	var text string
	for _, block := range params.Prompt {
		text += block.Text
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, text)
	s.mu.Unlock()

	for _, update := range p.updatesFor(text) {
		p.client.QueueJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  protocol.MethodSessionUpdate,
			"params":  map[string]any{"sessionId": params.SessionID, "update": update},
		})
	}

	if ask := s.script.Permission; ask != nil {
		p.permSeq++
		permID := fmt.Sprintf("perm-%d", p.permSeq)
		options := make([]map[string]any, 0, len(ask.Options))
		for _, o := range ask.Options {
			options = append(options, map[string]any{"optionId": o, "name": o})
		}
		p.pending[permID] = msg.ID
		p.client.QueueJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      permID,
			"method":  protocol.MethodRequestPermission,
			"params": map[string]any{
				"sessionId": params.SessionID,
				"toolCall":  map[string]any{"toolCallId": "call-" + permID, "title": ask.Title, "type": ask.Type},
				"options":   options,
			},
		})
		return
	}

	p.finishPrompt(msg.ID)
}

func (p *peerSession) updatesFor(text string) []map[string]any {
	if f := p.server.script.Updates; f != nil {
		return f(text)
	}
	return []map[string]any{TextChunk(text)}
}

func (p *peerSession) handleReply(msg protocol.Message) {
	var id string
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		return
	}
	promptID, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)

	s := p.server
	s.mu.Lock()
	s.permReplies = append(s.permReplies, msg.Result)
	s.mu.Unlock()

	p.finishPrompt(promptID)
}

func (p *peerSession) finishPrompt(id json.RawMessage) {
	s := p.server
	if s.script.NoPromptResponse {
		return
	}
	result := map[string]any{}
	if s.script.StopReason != "" {
		result["stopReason"] = s.script.StopReason
	}
	p.result(id, result)
}

func (p *peerSession) result(id json.RawMessage, result any) {
	p.client.QueueJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (p *peerSession) error(id json.RawMessage, code int, message string) {
	p.client.QueueJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

// TextChunk is an agent_message_chunk update carrying text.
func TextChunk(text string) map[string]any {
	return map[string]any{
		"sessionUpdate": protocol.UpdateAgentMessage,
		"content":       map[string]any{"type": "text", "text": text},
	}
}

// ToolCall is a tool_call update.
func ToolCall(id, title, status string) map[string]any {
	return map[string]any{
		"sessionUpdate": protocol.UpdateToolCall,
		"toolCallId":    id,
		"title":         title,
		"status":        status,
	}
}

// Plan is a plan update; each entry is content, priority, status.
func Plan(entries ...[3]string) map[string]any {
	list := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, map[string]any{"content": e[0], "priority": e[1], "status": e[2]})
	}
	return map[string]any{"sessionUpdate": protocol.UpdatePlan, "entries": list}
}
