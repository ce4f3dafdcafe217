package mockpeer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const outboundBufferSize = 256

// peerClient is one accepted WebSocket connection. Writes go through a queue
// drained by WriteLoop so handlers never block on the socket.
type peerClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newPeerClient(id string, conn *websocket.Conn, logger *zap.Logger) *peerClient {
	return &peerClient{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, outboundBufferSize),
		logger: logger.With(zap.String("peer_conn", id)),
	}
}

func (c *peerClient) ID() string {
	return c.id
}

// QueueText queues a bare text frame such as the ready token.
func (c *peerClient) QueueText(frame string) bool {
	return c.queue([]byte(frame))
}

// QueueJSON marshals v and queues it as one text frame.
func (c *peerClient) QueueJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outbound frame", zap.Error(err))
		return false
	}
	return c.queue(data)
}

func (c *peerClient) queue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("outbound queue full, dropping frame")
		return false
	}
}

// WriteLoop writes queued frames until Close, then sends a close frame.
func (c *peerClient) WriteLoop() {
	defer func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// Close stops accepting frames; WriteLoop flushes what is queued and hangs up.
func (c *peerClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
