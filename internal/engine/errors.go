package engine

import "errors"

// ProtocolError reports a request stream that violates the message order or
// shape the worker expects.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

var (
	// ErrExecutionTimeout ends a stream whose request exceeded the session
	// execution timeout.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrDisconnected ends a stream whose client went away.
	ErrDisconnected = errors.New("client disconnected")
	// ErrStreamClosed is returned by Submit after the stream stopped
	// admitting work.
	ErrStreamClosed = errors.New("stream closed")
)
