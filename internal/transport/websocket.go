package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit    = 4 * 1024 * 1024 // 4 MB
	frameBacklog = 64
)

type frameResult struct {
	text string
	err  error
}

// WebSocket is a Transport over a gorilla WebSocket connection. A single
// reader goroutine owns the socket's read side; Receive consumes what it
// pumps, so a receive timeout never leaves the socket half-read.
type WebSocket struct {
	url            string
	connectTimeout time.Duration
	dialer         *websocket.Dialer
	logger         *zap.Logger

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	frames    chan frameResult
	done      chan struct{}
	closing   atomic.Bool
	connected atomic.Bool
}

// NewWebSocket returns a disconnected transport for url. connectTimeout bounds
// Connect; zero means only the caller's context applies.
func NewWebSocket(url string, connectTimeout time.Duration, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{
		url:            url,
		connectTimeout: connectTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: connectTimeout,
		},
		logger: logger.With(zap.String("component", "transport"), zap.String("url", url)),
	}
}

func (w *WebSocket) URL() string {
	return w.url
}

// Connect dials the peer. Calling it while connected is a no-op.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil && w.connected.Load() {
		return nil
	}

	if w.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.connectTimeout)
		defer cancel()
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, w.url, w.connectTimeout)
		}
		if resp != nil {
			return fmt.Errorf("websocket handshake rejected (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("websocket dial %s: %w", w.url, err)
	}

	conn.SetReadLimit(readLimit)
	w.conn = conn
	w.frames = make(chan frameResult, frameBacklog)
	w.done = make(chan struct{})
	w.closing.Store(false)
	w.connected.Store(true)

	go w.readLoop(conn, w.frames, w.done)

	w.logger.Debug("websocket connected")
	return nil
}

// Send writes one text frame. The context deadline, if any, bounds the write.
func (w *WebSocket) Send(ctx context.Context, frame string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || !w.connected.Load() {
		return ErrNotConnected
	}

	deadline, _ := ctx.Deadline()
	_ = w.conn.SetWriteDeadline(deadline)

	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		w.connected.Store(false)
		return fmt.Errorf("websocket write: %w", err)
	}
	w.logger.Debug("sent frame", zap.Int("bytes", len(frame)))
	return nil
}

// SendJSON marshals v and sends it as one text frame.
func (w *WebSocket) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws marshal: %w", err)
	}
	return w.Send(ctx, string(data))
}

// Receive returns the next frame. It returns ErrReceiveTimeout when ctx's
// deadline passes first, and ErrConnectionClosed once the peer has closed.
func (w *WebSocket) Receive(ctx context.Context) (string, error) {
	w.mu.Lock()
	frames := w.frames
	w.mu.Unlock()

	if frames == nil {
		return "", ErrNotConnected
	}

	select {
	case f, ok := <-frames:
		if !ok {
			return "", ErrConnectionClosed
		}
		return f.text, f.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrReceiveTimeout
		}
		return "", ctx.Err()
	}
}

// Close sends a close frame and tears down the socket. Safe to call when
// already closed or never connected.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}

	w.closing.Store(true)
	w.connected.Store(false)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := w.conn.Close()
	close(w.done)
	w.conn = nil

	w.logger.Debug("websocket closed")
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("websocket close: %w", err)
	}
	return nil
}

func (w *WebSocket) IsConnected() bool {
	return w.connected.Load()
}

func (w *WebSocket) readLoop(conn *websocket.Conn, frames chan<- frameResult, done <-chan struct{}) {
	defer close(frames)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			select {
			case frames <- frameResult{err: w.readError(err)}:
			case <-done:
			}
			return
		}

		var text string
		switch msgType {
		case websocket.TextMessage:
			text = cleanFrame(string(data))
		case websocket.BinaryMessage:
			if !utf8.Valid(data) {
				w.logger.Warn("dropping binary frame that is not valid UTF-8", zap.Int("bytes", len(data)))
				continue
			}
			text = string(data)
		default:
			continue
		}

		select {
		case frames <- frameResult{text: text}:
		case <-done:
			return
		}
	}
}

func (w *WebSocket) readError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		w.logger.Debug("peer closed connection", zap.Int("code", ce.Code), zap.String("text", ce.Text))
		return fmt.Errorf("%w by peer (code %d)", ErrConnectionClosed, ce.Code)
	}
	if w.closing.Load() {
		return ErrConnectionClosed
	}
	w.logger.Warn("websocket read failed", zap.Error(err))
	return fmt.Errorf("websocket read: %w", err)
}

// cleanFrame drops leading noise some peers emit before the payload: non-ASCII
// runes and control characters other than whitespace.
func cleanFrame(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool {
		if r > unicode.MaxASCII {
			return true
		}
		return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
	})
}
