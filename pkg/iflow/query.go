package iflow

import (
	"context"
	"errors"
	"strings"

	"github.com/ricochet1k/iflowacp/internal/domain"
)

// Query sends one prompt on a fresh client and returns the agent's answer
// with surrounding whitespace trimmed. The whole exchange is bounded by
// opts.Timeout.
func Query(ctx context.Context, prompt string, opts Options, options ...Option) (string, error) {
	const op = "query"

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c := New(opts, options...)
	defer func() { _ = c.Close() }()

	if err := c.Connect(ctx); err != nil {
		return "", queryError(ctx, op, err)
	}
	if err := c.Send(ctx, prompt); err != nil {
		return "", queryError(ctx, op, err)
	}

	var answer strings.Builder
	events := c.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return strings.TrimSpace(answer.String()), nil
			}
			switch ev.Type {
			case domain.EventTypeAssistantText:
				text, _ := ev.Text()
				answer.WriteString(text)
			case domain.EventTypeTaskFinished:
				return strings.TrimSpace(answer.String()), nil
			}
		case <-ctx.Done():
			return "", queryError(ctx, op, ctx.Err())
		}
	}
}

// queryError reports any failure after the deadline as a timeout.
func queryError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && domain.KindOf(err) != domain.KindTimeout {
		return &domain.Error{Kind: domain.KindTimeout, Op: op, Msg: "operation timed out", Err: err}
	}
	return err
}

// TextStream carries the answer to QueryStream as it is produced.
type TextStream struct {
	// C yields assistant text chunks and is closed when the turn ends.
	C   <-chan string
	err error
}

// Err reports why the stream ended early. Only valid once C is closed.
func (s *TextStream) Err() error {
	return s.err
}

// QueryStream connects a fresh client, sends prompt and streams the answer.
// The client is closed when the turn ends or ctx is done. Connection errors
// are returned directly; later failures are reported by Err.
func QueryStream(ctx context.Context, prompt string, opts Options, options ...Option) (*TextStream, error) {
	const op = "query stream"

	c := New(opts, options...)
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	out := make(chan string)
	ts := &TextStream{C: out}

	go func() {
		defer close(out)
		defer func() { _ = c.Close() }()

		sendDone := make(chan error, 1)
		go func() { sendDone <- c.Send(ctx, prompt) }()

		events := c.Events()
		for {
			select {
			case err := <-sendDone:
				if err != nil {
					ts.err = err
					return
				}
				// The turn is over; what remains is already queued.
				sendDone = nil

			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Type {
				case domain.EventTypeAssistantText:
					text, _ := ev.Text()
					select {
					case out <- text:
					case <-ctx.Done():
						ts.err = queryError(ctx, op, ctx.Err())
						return
					}
				case domain.EventTypeTaskFinished:
					if sendDone != nil {
						ts.err = <-sendDone
					}
					return
				}

			case <-ctx.Done():
				ts.err = queryError(ctx, op, ctx.Err())
				return
			}
		}
	}()

	return ts, nil
}
