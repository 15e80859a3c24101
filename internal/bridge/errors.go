package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/oneshot"
	"github.com/seantiz/wart/internal/session"
)

// ErrorKind is the error code a failed import call returns to the guest,
// negated. The values are part of the guest ABI.
type ErrorKind int32

const (
	KindEmpty           ErrorKind = 1
	KindChannelClosed   ErrorKind = 2
	KindChannelDropped  ErrorKind = 3
	KindBackend         ErrorKind = 4
	KindTimeout         ErrorKind = 5
	KindInvalidArgument ErrorKind = 6
	KindUnsupported     ErrorKind = 7
)

var kindNames = map[ErrorKind]string{
	KindEmpty:           "empty",
	KindChannelClosed:   "channel_closed",
	KindChannelDropped:  "channel_dropped",
	KindBackend:         "backend",
	KindTimeout:         "timeout",
	KindInvalidArgument: "invalid_argument",
	KindUnsupported:     "unsupported",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Code returns the negative value handed to the guest.
func (k ErrorKind) Code() int32 { return -int32(k) }

var (
	// ErrEmpty means the future handle is unknown or was already consumed.
	ErrEmpty = errors.New("no such future")
	// ErrChannelClosed means the dispatcher no longer accepts requests.
	ErrChannelClosed = errors.New("dispatcher closed")
	// ErrTimeout means the call exceeded the session io timeout.
	ErrTimeout = errors.New("io timeout")
	// ErrInvalidArgument means the guest passed a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupported means the call is not available for this session.
	ErrUnsupported = errors.New("unsupported")
)

// BackendError wraps a failure of the graph service or the key-value store.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// KindOf classifies err for the guest. A nil error has kind 0.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrEmpty), errors.Is(err, oneshot.ErrConsumed):
		return KindEmpty
	case errors.Is(err, ErrChannelClosed):
		return KindChannelClosed
	case errors.Is(err, oneshot.ErrDropped), errors.Is(err, context.Canceled):
		return KindChannelDropped
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, frame.ErrMalformed),
		errors.Is(err, frame.ErrKindMismatch),
		errors.Is(err, session.ErrNotNumeric):
		return KindInvalidArgument
	case errors.Is(err, ErrUnsupported), errors.Is(err, backend.ErrUnsupported):
		return KindUnsupported
	}
	return KindBackend
}
