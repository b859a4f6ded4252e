package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a fault. The set is closed.
type Kind int

const (
	// KindProtocolMismatch: the leading identifier byte of a response is not
	// the one that was requested.
	KindProtocolMismatch Kind = iota + 1
	// KindInitFailed: a handshake step transferred the wrong byte count or the
	// end-of-travel move was not acknowledged.
	KindInitFailed
	// KindTransport: opaque failure from the USB layer.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindProtocolMismatch:
		return "protocol mismatch"
	case KindInitFailed:
		return "init failed"
	case KindTransport:
		return "transport error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrProtocolMismatch = &Error{Kind: KindProtocolMismatch}
	ErrInitFailed       = &Error{Kind: KindInitFailed}
	ErrTransport        = &Error{Kind: KindTransport}
)

// Error is a device fault. Expected and Actual carry the identifiers or
// byte counts that disagreed; Err is the transport's own error, if any.
type Error struct {
	Kind     Kind
	Op       string
	Expected int
	Actual   int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	switch e.Kind {
	case KindProtocolMismatch:
		return fmt.Sprintf("%s: expected id %d, got %d", msg, e.Expected, e.Actual)
	case KindInitFailed:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", msg, e.Err)
		}
		return fmt.Sprintf("%s: expected %d bytes, got %d", msg, e.Expected, e.Actual)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so that errors.Is(err, ErrInitFailed) works for any
// InitFailed error regardless of its context fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrNotAcknowledged is the cause of an InitFailed error raised when the
// device did not accept a full command buffer.
var ErrNotAcknowledged = errors.New("command not acknowledged")

// Mismatch builds a ProtocolMismatch error for op.
func Mismatch(op string, expected, actual byte) error {
	return &Error{Kind: KindProtocolMismatch, Op: op, Expected: int(expected), Actual: int(actual)}
}

// InitFailed builds an InitFailed error for a short transfer.
func InitFailed(op string, expected, actual int) error {
	return &Error{Kind: KindInitFailed, Op: op, Expected: expected, Actual: actual}
}

// NotAcknowledged builds an InitFailed error for a rejected command.
func NotAcknowledged(op string) error {
	return &Error{Kind: KindInitFailed, Op: op, Err: ErrNotAcknowledged}
}

// Transport wraps a USB error.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}
