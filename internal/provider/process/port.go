package process

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

const dialTimeout = 500 * time.Millisecond

// IsPortListening reports whether something accepts TCP connections on
// localhost:port. It has no other side effects.
func IsPortListening(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), dialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitForPort polls the port up to attempts times, interval apart. It gives up
// early when exited is closed or ctx is done.
func WaitForPort(ctx context.Context, port, attempts int, interval time.Duration, exited <-chan struct{}) error {
	for attempt := 1; attempt <= attempts; attempt++ {
		if IsPortListening(port) {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-exited:
			return fmt.Errorf("%w before port %d was listening", ErrExited, port)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: port %d after %d attempts", ErrPortTimeout, port, attempts)
}

// FreePort asks the kernel for an unused TCP port on localhost.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
