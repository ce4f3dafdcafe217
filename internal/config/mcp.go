package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMCPNameMissing    = errors.New("mcp server name is required")
	ErrMCPCommandMissing = errors.New("mcp stdio server needs a command")
	ErrMCPURLInvalid     = errors.New("mcp server url must be http or https")
	ErrMCPUnknownType    = errors.New("unknown mcp server type")
	ErrMCPArgsTooMany    = errors.New("mcp server has too many arguments")
	ErrMCPArgTooLong     = errors.New("mcp argument exceeds maximum length")
	ErrMCPInvalidArg     = errors.New("mcp argument contains invalid characters")
)

const (
	MaxMCPArgs      = 50
	MaxMCPArgLength = 4096
)

// MCPServer is an auxiliary tool server forwarded to the agent verbatim.
// Stdio servers set Command; HTTP and SSE servers set Type and URL.
type MCPServer struct {
	Name    string       `yaml:"name" json:"name"`
	Type    string       `yaml:"type,omitempty" json:"type,omitempty"`
	Command string       `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string     `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []EnvVar     `yaml:"env,omitempty" json:"env,omitempty"`
	URL     string       `yaml:"url,omitempty" json:"url,omitempty"`
	Headers []HTTPHeader `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type EnvVar struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

type HTTPHeader struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Validate catches misconfigurations before they reach the agent. Commands
// are not restricted: the agent launches them, not this client.
func (s MCPServer) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrMCPNameMissing
	}

	switch s.Type {
	case "", "stdio":
		if s.Command == "" {
			return fmt.Errorf("%w: %s", ErrMCPCommandMissing, s.Name)
		}
		return validateArgs(s.Args)
	case "http", "sse":
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s: %q", ErrMCPURLInvalid, s.Name, s.URL)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrMCPUnknownType, s.Type)
	}
}

func validateArgs(args []string) error {
	if len(args) > MaxMCPArgs {
		return fmt.Errorf("%w: got %d, max %d", ErrMCPArgsTooMany, len(args), MaxMCPArgs)
	}
	for _, arg := range args {
		if len(arg) > MaxMCPArgLength {
			return fmt.Errorf("%w: length %d exceeds max %d", ErrMCPArgTooLong, len(arg), MaxMCPArgLength)
		}
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("%w: contains NUL byte", ErrMCPInvalidArg)
		}
	}
	return nil
}

// Wire returns the server in the shape the protocol expects: stdio servers
// always carry args and env arrays, remote servers always carry headers.
func (s MCPServer) Wire() map[string]any {
	out := map[string]any{"name": s.Name}
	if s.Type != "" && s.Type != "stdio" {
		headers := s.Headers
		if headers == nil {
			headers = []HTTPHeader{}
		}
		out["type"] = s.Type
		out["url"] = s.URL
		out["headers"] = headers
		return out
	}
	args, env := s.Args, s.Env
	if args == nil {
		args = []string{}
	}
	if env == nil {
		env = []EnvVar{}
	}
	out["command"] = s.Command
	out["args"] = args
	out["env"] = env
	return out
}
