// Package config defines the client options and loads them from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ricochet1k/iflowacp/internal/domain"
)

const (
	DefaultTimeout    = 120 * time.Second
	DefaultPort       = 8090
	DefaultCommand    = "iflow"
	DefaultAuthMethod = "iflow"
	DefaultMaxFile    = 10 * 1024 * 1024 // 10MB
)

// Options configures one client connection.
type Options struct {
	// Timeout bounds every blocking protocol exchange.
	Timeout time.Duration `yaml:"timeout"`

	// Cwd is sent with session/new. Defaults to the process working dir.
	Cwd string `yaml:"cwd"`

	MCPServers []MCPServer `yaml:"mcp_servers"`

	// AuthMethodID is used when the agent is not pre-authenticated.
	// Empty means DefaultAuthMethod.
	AuthMethodID   string         `yaml:"auth_method_id"`
	AuthMethodInfo map[string]any `yaml:"auth_method_info"`

	PermissionMode PermissionMode `yaml:"permission_mode"`

	// WebSocket selects WebSocket mode when set; nil means stdio.
	WebSocket *WebSocket `yaml:"websocket"`

	Process    Process    `yaml:"process"`
	FileAccess FileAccess `yaml:"file_access"`
	Logging    Logging    `yaml:"logging"`
}

type WebSocket struct {
	// URL of a running peer. Empty in auto-start mode means one is
	// synthesized from Process.StartPort.
	URL               string        `yaml:"url"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

type Process struct {
	AutoStart bool `yaml:"auto_start"`
	// StartPort is used for WebSocket auto-start. Zero means DefaultPort.
	StartPort        int               `yaml:"start_port"`
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Environment      map[string]string `yaml:"environment"`
	StartupWait      time.Duration     `yaml:"startup_wait"`
	PortPollAttempts int               `yaml:"port_poll_attempts"`
	PortPollInterval time.Duration     `yaml:"port_poll_interval"`
	Debug            bool              `yaml:"debug"`
}

// FileAccess controls whether the agent may read and write files through
// the client.
type FileAccess struct {
	Enabled     bool     `yaml:"enabled"`
	AllowedDirs []string `yaml:"allowed_dirs"`
	ReadOnly    bool     `yaml:"read_only"`
	MaxSize     int64    `yaml:"max_size"`
}

type Logging struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// Default returns stdio-mode options with every default filled in.
func Default() Options {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Options{
		Timeout:        DefaultTimeout,
		Cwd:            cwd,
		PermissionMode: PermissionAuto,
		Process: Process{
			AutoStart:        true,
			Command:          DefaultCommand,
			StartupWait:      2 * time.Second,
			PortPollAttempts: 30,
			PortPollInterval: time.Second,
		},
		FileAccess: FileAccess{
			MaxSize: DefaultMaxFile,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

func DefaultWebSocket() *WebSocket {
	return &WebSocket{
		ReconnectAttempts: 3,
		ReconnectInterval: 5 * time.Second,
	}
}

// WebSocketURL returns the local peer URL for port.
func WebSocketURL(port int) string {
	return fmt.Sprintf("ws://localhost:%d/acp?peer=iflow", port)
}

// ParsePort extracts the port from a ws:// URL, falling back to DefaultPort.
func ParsePort(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultPort
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}

// StartPort returns the configured auto-start port or DefaultPort.
func (o Options) StartPort() int {
	if o.Process.StartPort > 0 {
		return o.Process.StartPort
	}
	return DefaultPort
}

// AuthMethod returns the configured auth method id or DefaultAuthMethod.
func (o Options) AuthMethod() string {
	if o.AuthMethodID != "" {
		return o.AuthMethodID
	}
	return DefaultAuthMethod
}

// Validate reports the first invalid setting.
func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return domain.NewError(domain.KindValidation, "config", "timeout must be positive")
	}
	if !o.PermissionMode.valid() {
		return domain.NewError(domain.KindValidation, "config", fmt.Sprintf("unknown permission mode %d", o.PermissionMode))
	}
	if o.WebSocket != nil {
		if !o.Process.AutoStart && o.WebSocket.URL == "" {
			return domain.NewError(domain.KindValidation, "config", "websocket url must be provided in manual start mode")
		}
		if o.WebSocket.ReconnectAttempts < 1 {
			return domain.NewError(domain.KindValidation, "config", "websocket reconnect_attempts must be at least 1")
		}
	}
	if o.Process.AutoStart && o.Process.Command == "" {
		return domain.NewError(domain.KindValidation, "config", "process command must be set when auto_start is on")
	}
	if o.FileAccess.Enabled && o.FileAccess.MaxSize <= 0 {
		return domain.NewError(domain.KindValidation, "config", "file_access max_size must be positive")
	}
	for i, s := range o.MCPServers {
		if err := s.Validate(); err != nil {
			return &domain.Error{Kind: domain.KindValidation, Op: "config", Msg: fmt.Sprintf("mcp_servers[%d]", i), Err: err}
		}
	}
	return nil
}
