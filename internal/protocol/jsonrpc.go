package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ACP JSON-RPC method constants.
const (
	// Client sends, agent responds
	MethodInitialize    = "initialize"
	MethodAuthenticate  = "authenticate"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"

	// Agent sends
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
	MethodFsReadTextFile    = "fs/read_text_file"
	MethodFsWriteTextFile   = "fs/write_text_file"
)

// session/update kinds, keyed by params.update.sessionUpdate.
const (
	UpdateAgentMessage      = "agent_message_chunk"
	UpdateUserMessage       = "user_message_chunk"
	UpdateAgentThought      = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
	UpdateTaskFinish        = "notifyTaskFinish"
	UpdateCurrentMode       = "current_mode_update"
	UpdateAvailableCommands = "available_commands_update"
)

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

const (
	// ProtocolVersion is sent with initialize.
	ProtocolVersion = 1

	// ReadyToken is the bare-text frame a peer sends once it accepts traffic.
	ReadyToken = "//ready"

	controlPrefix = "//"
)

// Request is an outgoing JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint32 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response answers a server call. Result is always written, as null when nil.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRequest(id uint32, method string, params any) Request {
	return Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

func newResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func newErrorResponse(id json.RawMessage, code int, message string) ErrorResponse {
	return ErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// Kind is the shape of one inbound frame.
type Kind int

const (
	// KindInvalid frames are neither control tokens nor JSON-RPC objects.
	KindInvalid Kind = iota
	KindReady
	KindControl
	// KindResponse carries an id and a result or error.
	KindResponse
	// KindServerCall carries a method and an id, so the peer awaits a reply.
	KindServerCall
	// KindNotification carries a method and no id.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindControl:
		return "control"
	case KindResponse:
		return "response"
	case KindServerCall:
		return "server_call"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is a classified inbound frame.
type Message struct {
	Kind   Kind
	Raw    string
	ID     json.RawMessage
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

type wireMessage struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Classify decodes one frame. It never fails; undecodable frames come back as
// KindInvalid.
func Classify(frame string) Message {
	trimmed := strings.TrimSpace(frame)
	msg := Message{Raw: frame}

	if trimmed == ReadyToken {
		msg.Kind = KindReady
		return msg
	}
	if strings.HasPrefix(trimmed, controlPrefix) {
		msg.Kind = KindControl
		return msg
	}

	var w wireMessage
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return msg
	}
	msg.ID = w.ID
	msg.Method = w.Method
	msg.Params = w.Params
	msg.Result = w.Result
	msg.Error = w.Error

	hasResult := len(w.Result) > 0 || w.Error != nil
	switch {
	case w.Method != "" && !hasResult && msg.HasID():
		msg.Kind = KindServerCall
	case w.Method != "" && !hasResult:
		msg.Kind = KindNotification
	case hasResult:
		msg.Kind = KindResponse
	}
	return msg
}

// HasID reports whether the frame carries a non-null id.
func (m Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// RequestID returns the id as one of ours, if it is numeric and in range.
func (m Message) RequestID() (uint32, bool) {
	if !m.HasID() {
		return 0, false
	}
	n, err := strconv.ParseUint(string(m.ID), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// answers reports whether m is the response to request id.
func (m Message) answers(id uint32) bool {
	if m.Kind != KindResponse {
		return false
	}
	got, ok := m.RequestID()
	return ok && got == id
}
