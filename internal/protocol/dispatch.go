package protocol

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/fsaccess"
)

// Emitter receives domain events in order. *domain.Stream implements it.
type Emitter interface {
	Emit(ev domain.Event)
}

// replyFunc writes one JSON-RPC reply frame.
type replyFunc func(ctx context.Context, v any) error

// Dispatcher handles every inbound frame that is not the response a caller is
// waiting for. Failures are logged; nothing here aborts the wait loop.
type Dispatcher struct {
	reply  replyFunc
	events Emitter
	mode   config.PermissionMode
	files  *fsaccess.Handler
	logger *zap.Logger
}

func newDispatcher(reply replyFunc, events Emitter, mode config.PermissionMode, files *fsaccess.Handler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		reply:  reply,
		events: events,
		mode:   mode,
		files:  files,
		logger: logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch routes one classified frame.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindServerCall, KindNotification:
		d.handleCall(ctx, msg)
	case KindResponse:
		d.handleStrayResponse(msg)
	case KindReady, KindControl:
		d.logger.Debug("control frame", zap.String("frame", msg.Raw))
	default:
		d.logger.Warn("dropping unparseable frame", zap.String("frame", truncate(msg.Raw, 200)))
	}
}

func (d *Dispatcher) handleCall(ctx context.Context, msg Message) {
	switch msg.Method {
	case MethodSessionUpdate:
		d.handleSessionUpdate(ctx, msg)
	case MethodRequestPermission:
		d.HandlePermission(ctx, msg)
	case MethodFsReadTextFile:
		if d.files == nil {
			d.methodNotFound(ctx, msg)
			return
		}
		d.handleReadFile(ctx, msg)
	case MethodFsWriteTextFile:
		if d.files == nil {
			d.methodNotFound(ctx, msg)
			return
		}
		d.handleWriteFile(ctx, msg)
	default:
		d.methodNotFound(ctx, msg)
	}
}

func (d *Dispatcher) methodNotFound(ctx context.Context, msg Message) {
	if !msg.HasID() {
		d.logger.Debug("dropping unknown notification", zap.String("method", msg.Method))
		return
	}
	d.logger.Warn("unknown method", zap.String("method", msg.Method))
	d.send(ctx, newErrorResponse(msg.ID, ErrCodeMethodNotFound, "Method not found"))
}

func (d *Dispatcher) handleSessionUpdate(ctx context.Context, msg Message) {
	var p struct {
		SessionID string          `json:"sessionId"`
		Update    json.RawMessage `json:"update"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		d.logger.Warn("malformed session/update params", zap.Error(err))
	}

	if ev, ok := MapUpdate(p.SessionID, p.Update, d.logger); ok {
		d.events.Emit(ev)
	}

	if msg.HasID() && NeedsAck(UpdateKind(p.Update)) {
		d.send(ctx, newResponse(msg.ID, nil))
	}
}

// HandlePermission answers a session/request_permission call according to the
// configured mode. Exactly one reply is written per call that has an id.
func (d *Dispatcher) HandlePermission(ctx context.Context, msg Message) {
	req := ParsePermissionRequest(msg.Params)
	outcome := Decide(d.mode, req)

	d.logger.Info("permission request",
		zap.String("tool", req.ToolTitle),
		zap.String("type", req.ToolType),
		zap.Strings("options", req.Options),
		zap.Stringer("mode", d.mode),
		zap.Bool("approved", outcome.Approved),
		zap.String("option", outcome.OptionID),
	)

	if !msg.HasID() {
		d.logger.Warn("permission request without id cannot be answered")
		return
	}
	d.send(ctx, newResponse(msg.ID, outcome.Result()))
}

func (d *Dispatcher) handleReadFile(ctx context.Context, msg Message) {
	var p struct {
		Path  string `json:"path"`
		Line  int    `json:"line"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil || p.Path == "" {
		d.replyError(ctx, msg, ErrCodeInvalidParams, "path is required")
		return
	}

	content, err := d.files.Read(p.Path, p.Line, p.Limit)
	if err != nil {
		d.logger.Warn("read_text_file failed", zap.String("path", p.Path), zap.Error(err))
		d.replyError(ctx, msg, ErrCodeInternalError, err.Error())
		return
	}
	if msg.HasID() {
		d.send(ctx, newResponse(msg.ID, map[string]any{"content": content}))
	}
}

func (d *Dispatcher) handleWriteFile(ctx context.Context, msg Message) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil || p.Path == "" {
		d.replyError(ctx, msg, ErrCodeInvalidParams, "path is required")
		return
	}

	if err := d.files.Write(p.Path, p.Content); err != nil {
		d.logger.Warn("write_text_file failed", zap.String("path", p.Path), zap.Error(err))
		d.replyError(ctx, msg, ErrCodeInternalError, err.Error())
		return
	}
	if msg.HasID() {
		d.send(ctx, newResponse(msg.ID, nil))
	}
}

// handleStrayResponse covers responses nobody is waiting for. An error
// response is surfaced as an Error event since it is the peer telling us
// something went wrong outside any exchange.
func (d *Dispatcher) handleStrayResponse(msg Message) {
	if msg.Error == nil {
		d.logger.Debug("unmatched response", zap.ByteString("id", msg.ID))
		return
	}
	d.logger.Warn("error response outside any exchange",
		zap.ByteString("id", msg.ID),
		zap.Int("code", msg.Error.Code),
		zap.String("message", msg.Error.Message),
	)
	details := map[string]any{}
	if msg.HasID() {
		details["id"] = string(msg.ID)
	}
	if len(msg.Error.Data) > 0 {
		var data any
		if json.Unmarshal(msg.Error.Data, &data) == nil {
			details["data"] = data
		}
	}
	d.events.Emit(domain.NewErrorEvent("", msg.Error.Code, msg.Error.Message, details))
}

func (d *Dispatcher) replyError(ctx context.Context, msg Message, code int, message string) {
	if !msg.HasID() {
		return
	}
	d.send(ctx, newErrorResponse(msg.ID, code, message))
}

func (d *Dispatcher) send(ctx context.Context, v any) {
	if err := d.reply(ctx, v); err != nil {
		d.logger.Error("failed to send reply", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
