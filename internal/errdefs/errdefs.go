// internal/errdefs/errdefs.go

// Package errdefs defines the error taxonomy shared by every component.
// Component-boundary failures are translated into *Error values so callers
// can branch on Kind with errors.As without parsing message strings.
package errdefs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	ConnectFailed Kind = iota
	ChannelLimitExceeded
	SessionLost
	ReconnectAttemptFailed
	ReconnectExhausted
	Cancelled
	DuplicateCommandID
	CommandNotFound
	TransferIOError
	IntegrityError
	ChannelProtocolError
)

func (k Kind) String() string {
	switch k {
	case ConnectFailed:
		return "connect failed"
	case ChannelLimitExceeded:
		return "channel limit exceeded"
	case SessionLost:
		return "session lost"
	case ReconnectAttemptFailed:
		return "reconnect attempt failed"
	case ReconnectExhausted:
		return "reconnect exhausted"
	case Cancelled:
		return "cancelled"
	case DuplicateCommandID:
		return "duplicate command id"
	case CommandNotFound:
		return "command not found"
	case TransferIOError:
		return "transfer i/o error"
	case IntegrityError:
		return "integrity error"
	case ChannelProtocolError:
		return "channel protocol error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries the operation that failed, the id of the object it was
// operating on (session, command or transfer id) and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id %s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a taxonomy error. err may be nil when the kind alone says
// everything there is to say.
func New(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, id, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err or anything it wraps is a taxonomy error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf extracts the kind from err. ok is false when err carries no
// taxonomy error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
