package iflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ricochet1k/iflowacp/internal/mockpeer"
)

func chunked(parts ...string) func(string) []map[string]any {
	return func(string) []map[string]any {
		out := make([]map[string]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, mockpeer.TextChunk(p))
		}
		return out
	}
}

func TestQuery(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{Updates: chunked("  The answer ", "is 4.\n")})

	answer, err := Query(context.Background(), "What is 2 + 2?", peerOptions(srv.URL()), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", answer)
	assert.Equal(t, []string{"What is 2 + 2?"}, srv.Prompts())
}

func TestQueryTimesOut(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{NoPromptResponse: true})
	opts := peerOptions(srv.URL())
	opts.Timeout = 500 * time.Millisecond

	start := time.Now()
	_, err := Query(context.Background(), "hang", opts, WithLogger(zaptest.NewLogger(t)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestQueryConnectFailure(t *testing.T) {
	_, err := Query(context.Background(), "hi", peerOptions(""), WithLogger(zaptest.NewLogger(t)))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestQueryStream(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{Updates: chunked("one ", "two ", "three")})

	ts, err := QueryStream(context.Background(), "count", peerOptions(srv.URL()), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	var chunks []string
	for chunk := range ts.C {
		chunks = append(chunks, chunk)
	}
	require.NoError(t, ts.Err())
	assert.Equal(t, []string{"one ", "two ", "three"}, chunks)
	assert.Equal(t, "one two three", strings.Join(chunks, ""))
}

func TestQueryStreamReportsPromptError(t *testing.T) {
	srv := startPeer(t, mockpeer.Script{NoPromptResponse: true, Updates: chunked("partial")})
	opts := peerOptions(srv.URL())
	opts.Timeout = 500 * time.Millisecond

	ts, err := QueryStream(context.Background(), "hang", opts, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	var chunks []string
	for chunk := range ts.C {
		chunks = append(chunks, chunk)
	}
	assert.Equal(t, []string{"partial"}, chunks)
	assert.ErrorIs(t, ts.Err(), ErrTimeout)
}
