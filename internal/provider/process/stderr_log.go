package process

import (
	"strings"
	"sync"
)

const stderrTailSize = 8 * 1024

// tailLog keeps the last size bytes written to it.
type tailLog struct {
	mu       sync.Mutex
	buffer   []byte
	size     int
	writePos int
	wrapped  bool
}

func newTailLog(size int) *tailLog {
	return &tailLog{
		buffer: make([]byte, size),
		size:   size,
	}
}

func (l *tailLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range p {
		l.buffer[l.writePos] = b
		l.writePos++
		if l.writePos >= l.size {
			l.writePos = 0
			l.wrapped = true
		}
	}
	return len(p), nil
}

// String returns the retained bytes in write order and whether older output
// was dropped.
func (l *tailLog) String() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.wrapped {
		return string(l.buffer[:l.writePos]), false
	}
	return string(l.buffer[l.writePos:]) + string(l.buffer[:l.writePos]), true
}

// suffix renders the tail for appending to an error message.
func (l *tailLog) suffix() string {
	out, truncated := l.String()
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	if truncated {
		out = "..." + out
	}
	return "; stderr: " + out
}
