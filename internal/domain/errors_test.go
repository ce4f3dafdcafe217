package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindTimeout}, "timeout"},
		{"with op", NewError(KindProtocol, "initialize", ""), "initialize: protocol error"},
		{"with msg", NewError(KindNoSession, "send", "create a session first"), "send: no session: create a session first"},
		{"with cause", WrapError(KindConnection, "connect", io.EOF), "connect: connection error: EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(KindTimeout, "session/prompt", "no response within 2s"))

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrProtocol))
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestErrorUnwrapReachesCause(t *testing.T) {
	err := WrapError(KindIO, "read", io.ErrUnexpectedEOF)

	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, errors.Is(err, ErrIO))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "unknown error", KindUnknown.String())
}
