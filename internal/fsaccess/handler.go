// Package fsaccess serves the agent's text-file read and write requests within
// configured limits.
package fsaccess

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricochet1k/iflowacp/internal/config"
)

var (
	ErrOutsideAllowed = errors.New("path outside allowed directories")
	ErrReadOnly       = errors.New("file access is read-only")
	ErrTooLarge       = errors.New("file exceeds size limit")
)

// Handler reads and writes files on behalf of the agent.
type Handler struct {
	// BaseDir resolves relative paths. Empty means they are rejected.
	BaseDir     string
	AllowedDirs []string
	ReadOnly    bool
	MaxSize     int64
}

// New returns a handler for cfg, or nil when file access is disabled.
func New(cfg config.FileAccess, baseDir string) *Handler {
	if !cfg.Enabled {
		return nil
	}
	return &Handler{
		BaseDir:     baseDir,
		AllowedDirs: cfg.AllowedDirs,
		ReadOnly:    cfg.ReadOnly,
		MaxSize:     cfg.MaxSize,
	}
}

// CanWrite reports whether Write can ever succeed.
func (h *Handler) CanWrite() bool {
	return h != nil && !h.ReadOnly
}

func (h *Handler) resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		if h.BaseDir == "" {
			return "", fmt.Errorf("path must be absolute: %s", path)
		}
		path = filepath.Join(h.BaseDir, path)
	}
	path = filepath.Clean(path)

	if len(h.AllowedDirs) == 0 {
		return path, nil
	}
	for _, dir := range h.AllowedDirs {
		rel, err := filepath.Rel(filepath.Clean(dir), path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideAllowed, path)
}

// Read returns the file's text. line is 1-based; line and limit select a
// window of lines when positive.
func (h *Handler) Read(path string, line, limit int) (string, error) {
	resolved, err := h.resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if h.MaxSize > 0 && info.Size() > h.MaxSize {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, path, info.Size(), h.MaxSize)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	content := string(data)

	if line > 0 || limit > 0 {
		lines := strings.Split(content, "\n")
		start := 0
		if line > 0 {
			start = min(line-1, len(lines))
		}
		end := len(lines)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return content, nil
}

// Write replaces the file's content, creating parent directories.
func (h *Handler) Write(path, content string) error {
	if h.ReadOnly {
		return ErrReadOnly
	}
	if h.MaxSize > 0 && int64(len(content)) > h.MaxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(content), h.MaxSize)
	}

	resolved, err := h.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}
