package iflow

import (
	"github.com/ricochet1k/iflowacp/internal/config"
	"github.com/ricochet1k/iflowacp/internal/domain"
)

// Configuration.
type (
	Options        = config.Options
	WebSocket      = config.WebSocket
	Process        = config.Process
	FileAccess     = config.FileAccess
	Logging        = config.Logging
	MCPServer      = config.MCPServer
	EnvVar         = config.EnvVar
	HTTPHeader     = config.HTTPHeader
	PermissionMode = config.PermissionMode
)

const (
	PermissionAuto      = config.PermissionAuto
	PermissionManual    = config.PermissionManual
	PermissionSelective = config.PermissionSelective
)

// DefaultOptions returns stdio-mode options that start `iflow` themselves.
func DefaultOptions() Options {
	return config.Default()
}

// DefaultWebSocket returns WebSocket settings that auto-start on the default
// port when assigned to Options.WebSocket.
func DefaultWebSocket() *WebSocket {
	return config.DefaultWebSocket()
}

// LoadOptions reads options from a YAML file on top of the defaults.
func LoadOptions(path string) (Options, error) {
	return config.Load(path)
}

// Events.
type (
	Event            = domain.Event
	EventType        = domain.EventType
	TextData         = domain.TextData
	ToolCallData     = domain.ToolCallData
	PlanData         = domain.PlanData
	PlanEntry        = domain.PlanEntry
	TaskFinishedData = domain.TaskFinishedData
	ErrorData        = domain.ErrorData
)

const (
	EventTypeUserText      = domain.EventTypeUserText
	EventTypeAssistantText = domain.EventTypeAssistantText
	EventTypeToolCall      = domain.EventTypeToolCall
	EventTypePlan          = domain.EventTypePlan
	EventTypeTaskFinished  = domain.EventTypeTaskFinished
	EventTypeError         = domain.EventTypeError
)

// Errors. Match kinds with errors.Is(err, iflow.ErrTimeout) or KindOf.
type (
	Error     = domain.Error
	ErrorKind = domain.Kind
)

var (
	ErrConnection     = domain.ErrConnection
	ErrProtocol       = domain.ErrProtocol
	ErrAuthentication = domain.ErrAuthentication
	ErrTimeout        = domain.ErrTimeout
	ErrProcessManager = domain.ErrProcessManager
	ErrNotConnected   = domain.ErrNotConnected
	ErrNoSession      = domain.ErrNoSession
	ErrInvalidMessage = domain.ErrInvalidMessage
	ErrValidation     = domain.ErrValidation
)

func KindOf(err error) ErrorKind {
	return domain.KindOf(err)
}
