package domain

import (
	"errors"
	"strings"
)

// Kind classifies an Error. Callers branch on kind, never on message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindProtocol
	KindAuthentication
	KindTimeout
	KindProcessManager
	KindNotConnected
	KindNoSession
	KindInvalidMessage
	KindTransport
	KindValidation
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindProtocol:
		return "protocol error"
	case KindAuthentication:
		return "authentication error"
	case KindTimeout:
		return "timeout"
	case KindProcessManager:
		return "process manager error"
	case KindNotConnected:
		return "not connected"
	case KindNoSession:
		return "no session"
	case KindInvalidMessage:
		return "invalid message"
	case KindTransport:
		return "transport error"
	case KindValidation:
		return "validation error"
	case KindIO:
		return "io error"
	default:
		return "unknown error"
	}
}

// Error is the error type returned across package boundaries.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below, so errors.Is(err, ErrTimeout) holds for
// any *Error of KindTimeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Msg != "" || t.Err != nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrConnection     = &Error{Kind: KindConnection}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrProcessManager = &Error{Kind: KindProcessManager}
	ErrNotConnected   = &Error{Kind: KindNotConnected}
	ErrNoSession      = &Error{Kind: KindNoSession}
	ErrInvalidMessage = &Error{Kind: KindInvalidMessage}
	ErrTransport      = &Error{Kind: KindTransport}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrIO             = &Error{Kind: KindIO}
)

func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
