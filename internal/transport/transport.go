// Package transport moves discrete text frames between the client and an ACP
// peer. It has no knowledge of the protocol carried inside the frames.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("transport not connected")

	// ErrConnectionClosed marks a graceful close initiated by either side, as
	// opposed to a network fault.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrReceiveTimeout is returned by Receive when the context deadline
	// passes before a frame arrives. The transport stays usable.
	ErrReceiveTimeout = errors.New("receive timed out")

	ErrConnectTimeout = errors.New("connect timed out")
)

// Transport is a frame-oriented, single-writer connection.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame string) error
	// Receive blocks until exactly one frame arrives.
	Receive(ctx context.Context) (string, error)
	// Close is idempotent.
	Close() error
	IsConnected() bool
}
