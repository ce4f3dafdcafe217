package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ricochet1k/iflowacp/internal/domain"
)

// Load reads a YAML config file on top of Default.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, domain.WrapError(domain.KindIO, "config", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result. A websocket
// section switches to WebSocket mode, with unset fields taken from
// DefaultWebSocket.
func Parse(data []byte) (Options, error) {
	var probe struct {
		WebSocket *yaml.Node `yaml:"websocket"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Options{}, domain.WrapError(domain.KindValidation, "config", fmt.Errorf("parse yaml: %w", err))
	}

	opts := Default()
	if probe.WebSocket != nil {
		opts.WebSocket = DefaultWebSocket()
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, domain.WrapError(domain.KindValidation, "config", fmt.Errorf("parse yaml: %w", err))
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
