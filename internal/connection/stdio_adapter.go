package connection

import (
	"context"
	"encoding/json"
	"errors"

	acpsdk "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
	"github.com/ricochet1k/iflowacp/internal/fsaccess"
	"github.com/ricochet1k/iflowacp/internal/protocol"
)

var (
	errFileAccessDisabled = errors.New("file access is disabled")
	errTerminalDisabled   = errors.New("terminals are not supported by this client")
)

// clientAdapter implements acpsdk.Client. Agent payloads are turned back into
// their wire JSON so the same mapping and permission policy serve both wires.
type clientAdapter struct {
	events protocol.Emitter
	mode   config.PermissionMode
	files  *fsaccess.Handler
	logger *zap.Logger
}

var _ acpsdk.Client = (*clientAdapter)(nil)

func newClientAdapter(events protocol.Emitter, mode config.PermissionMode, files *fsaccess.Handler, logger *zap.Logger) *clientAdapter {
	return &clientAdapter{
		events: events,
		mode:   mode,
		files:  files,
		logger: logger.With(zap.String("component", "stdio_client")),
	}
}

func (a *clientAdapter) emit(ev domain.Event) {
	if a.events != nil {
		a.events.Emit(ev)
	}
}

func (a *clientAdapter) SessionUpdate(ctx context.Context, notif acpsdk.SessionNotification) error {
	sessionID := string(notif.SessionId)
	update := notif.Update

	switch {
	case update.AgentMessageChunk != nil:
		if text := update.AgentMessageChunk.Content.Text; text != nil {
			a.emit(domain.NewAssistantTextEvent(sessionID, text.Text))
			return nil
		}
	case update.UserMessageChunk != nil:
		if text := update.UserMessageChunk.Content.Text; text != nil {
			a.emit(domain.NewUserTextEvent(sessionID, text.Text))
			return nil
		}
	}

	raw, err := json.Marshal(update)
	if err != nil {
		a.logger.Warn("failed to encode session update", zap.Error(err))
		return nil
	}
	if ev, ok := protocol.MapUpdate(sessionID, raw, a.logger); ok {
		a.emit(ev)
	}
	return nil
}

func (a *clientAdapter) RequestPermission(ctx context.Context, req acpsdk.RequestPermissionRequest) (acpsdk.RequestPermissionResponse, error) {
	cancelled := acpsdk.RequestPermissionResponse{
		Outcome: acpsdk.RequestPermissionOutcome{
			Cancelled: &acpsdk.RequestPermissionOutcomeCancelled{},
		},
	}

	raw, err := json.Marshal(req)
	if err != nil {
		a.logger.Warn("failed to encode permission request", zap.Error(err))
		return cancelled, nil
	}
	parsed := protocol.ParsePermissionRequest(raw)
	outcome := protocol.Decide(a.mode, parsed)

	a.logger.Info("permission request",
		zap.String("tool", parsed.ToolTitle),
		zap.String("type", parsed.ToolType),
		zap.Bool("approved", outcome.Approved),
		zap.String("option", outcome.OptionID),
	)

	if !outcome.Approved {
		return cancelled, nil
	}
	for _, opt := range req.Options {
		if string(opt.OptionId) == outcome.OptionID {
			return acpsdk.RequestPermissionResponse{
				Outcome: acpsdk.RequestPermissionOutcome{
					Selected: &acpsdk.RequestPermissionOutcomeSelected{OptionId: opt.OptionId},
				},
			}, nil
		}
	}
	// Nothing offered to select.
	return cancelled, nil
}

func (a *clientAdapter) ReadTextFile(ctx context.Context, req acpsdk.ReadTextFileRequest) (acpsdk.ReadTextFileResponse, error) {
	if a.files == nil {
		return acpsdk.ReadTextFileResponse{}, errFileAccessDisabled
	}
	line, limit := 0, 0
	if req.Line != nil {
		line = *req.Line
	}
	if req.Limit != nil {
		limit = *req.Limit
	}
	content, err := a.files.Read(req.Path, line, limit)
	if err != nil {
		a.logger.Warn("read_text_file failed", zap.String("path", req.Path), zap.Error(err))
		return acpsdk.ReadTextFileResponse{}, err
	}
	return acpsdk.ReadTextFileResponse{Content: content}, nil
}

func (a *clientAdapter) WriteTextFile(ctx context.Context, req acpsdk.WriteTextFileRequest) (acpsdk.WriteTextFileResponse, error) {
	if a.files == nil {
		return acpsdk.WriteTextFileResponse{}, errFileAccessDisabled
	}
	if err := a.files.Write(req.Path, req.Content); err != nil {
		a.logger.Warn("write_text_file failed", zap.String("path", req.Path), zap.Error(err))
		return acpsdk.WriteTextFileResponse{}, err
	}
	return acpsdk.WriteTextFileResponse{}, nil
}

func (a *clientAdapter) CreateTerminal(ctx context.Context, req acpsdk.CreateTerminalRequest) (acpsdk.CreateTerminalResponse, error) {
	return acpsdk.CreateTerminalResponse{}, errTerminalDisabled
}

func (a *clientAdapter) TerminalOutput(ctx context.Context, req acpsdk.TerminalOutputRequest) (acpsdk.TerminalOutputResponse, error) {
	return acpsdk.TerminalOutputResponse{}, errTerminalDisabled
}

func (a *clientAdapter) WaitForTerminalExit(ctx context.Context, req acpsdk.WaitForTerminalExitRequest) (acpsdk.WaitForTerminalExitResponse, error) {
	return acpsdk.WaitForTerminalExitResponse{}, errTerminalDisabled
}

func (a *clientAdapter) KillTerminalCommand(ctx context.Context, req acpsdk.KillTerminalCommandRequest) (acpsdk.KillTerminalCommandResponse, error) {
	return acpsdk.KillTerminalCommandResponse{}, errTerminalDisabled
}

func (a *clientAdapter) ReleaseTerminal(ctx context.Context, req acpsdk.ReleaseTerminalRequest) (acpsdk.ReleaseTerminalResponse, error) {
	return acpsdk.ReleaseTerminalResponse{}, errTerminalDisabled
}

// sdkMCPServers converts configured servers through their wire form.
func sdkMCPServers(opts config.Options, logger *zap.Logger) []acpsdk.McpServer {
	servers := []acpsdk.McpServer{}
	wire := mcpServers(opts)
	if len(wire) == 0 {
		return servers
	}
	raw, err := json.Marshal(wire)
	if err == nil {
		err = json.Unmarshal(raw, &servers)
	}
	if err != nil {
		logger.Warn("dropping mcp servers the sdk cannot represent", zap.Error(err))
		return []acpsdk.McpServer{}
	}
	return servers
}
