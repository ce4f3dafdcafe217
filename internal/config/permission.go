package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PermissionMode decides how tool permission requests from the agent are
// answered.
type PermissionMode int

const (
	// PermissionAuto approves every request.
	PermissionAuto PermissionMode = iota
	// PermissionManual declines every request.
	PermissionManual
	// PermissionSelective approves only read-like tools.
	PermissionSelective
)

func (m PermissionMode) String() string {
	switch m {
	case PermissionAuto:
		return "auto"
	case PermissionManual:
		return "manual"
	case PermissionSelective:
		return "selective"
	default:
		return "unknown"
	}
}

func (m PermissionMode) valid() bool {
	return m >= PermissionAuto && m <= PermissionSelective
}

func ParsePermissionMode(s string) (PermissionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return PermissionAuto, nil
	case "manual":
		return PermissionManual, nil
	case "selective":
		return PermissionSelective, nil
	default:
		return PermissionAuto, fmt.Errorf("unknown permission mode %q", s)
	}
}

func (m *PermissionMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParsePermissionMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m PermissionMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// Set and Type let a PermissionMode be bound directly as a CLI flag.
func (m *PermissionMode) Set(s string) error {
	parsed, err := ParsePermissionMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *PermissionMode) Type() string {
	return "auto|manual|selective"
}
