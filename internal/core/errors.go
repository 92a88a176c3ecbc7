package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrUnexpectedFrameKind = errors.New("unexpected frame kind")
	ErrStreamClosed        = errors.New("stream closed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrExpectedJoin        = errors.New("first event must be Join")
	ErrDuplicateJoin       = errors.New("Join after handshake")
	ErrInvalidContent      = errors.New("invalid message content")
	ErrNoSubscribers       = errors.New("broadcast has no subscribers")
	ErrSubscriptionClosed  = errors.New("subscription closed")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// Kind classifies a connection-scoped failure.
type Kind int

const (
	KindInternal Kind = iota
	KindProtocol
	KindAuth
	KindTransport
	KindStore
	KindLag
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindStore:
		return "store"
	case KindLag:
		return "lag"
	default:
		return "internal"
	}
}

// Error is a classified failure raised by a connection component.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// LagError reports that a subscription dropped events because its consumer
// fell behind the broadcaster.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged, %d events dropped", e.Missed)
}

// ControllerError wraps a store or publish failure of a room controller call.
type ControllerError struct {
	Op  string
	Err error
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("controller %s: %v", e.Op, e.Err)
}

func (e *ControllerError) Unwrap() error { return e.Err }

// KindOf classifies any error chain. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var lag *LagError
	if errors.As(err, &lag) {
		return KindLag
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrStreamClosed):
		return KindTransport
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUserNotFound):
		return KindAuth
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrUnexpectedFrameKind),
		errors.Is(err, ErrExpectedJoin), errors.Is(err, ErrDuplicateJoin),
		errors.Is(err, ErrInvalidContent):
		return KindProtocol
	case errors.Is(err, ErrNoSubscribers):
		return KindInternal
	}
	var ctl *ControllerError
	if errors.As(err, &ctl) {
		return KindStore
	}
	return KindInternal
}
