package sandbox

import (
	"errors"
	"fmt"
)

// ErrDeadline is the cancellation cause of a run preempted by the epoch
// deadline.
var ErrDeadline = errors.New("epoch deadline exceeded")

// CompileError reports a module that could not be compiled.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string { return "compile module: " + e.Err.Error() }
func (e *CompileError) Unwrap() error { return e.Err }

// InstantiateError reports a module whose imports cannot be resolved or that
// lacks a required export.
type InstantiateError struct {
	Err error
}

func (e *InstantiateError) Error() string { return "instantiate module: " + e.Err.Error() }
func (e *InstantiateError) Unwrap() error { return e.Err }

// HostImportError reports an import call that failed in a way the guest
// cannot recover from, such as an out of bounds pointer. It aborts the run.
type HostImportError struct {
	Import string
	Err    error
}

func (e *HostImportError) Error() string { return fmt.Sprintf("host import %s: %v", e.Import, e.Err) }
func (e *HostImportError) Unwrap() error { return e.Err }

// TrapKind classifies a Trap.
type TrapKind string

const (
	TrapDeadline TrapKind = "deadline"
	TrapCanceled TrapKind = "canceled"
	TrapExit     TrapKind = "exit"
	TrapFault    TrapKind = "fault"
)

// Trap reports a run that ended abnormally inside the guest.
type Trap struct {
	Kind TrapKind
	// Code is the exit code of a TrapExit.
	Code uint32
	Err  error
}

func (t *Trap) Error() string {
	switch t.Kind {
	case TrapExit:
		return fmt.Sprintf("trap: guest exited with code %d", t.Code)
	case TrapDeadline:
		return "trap: " + ErrDeadline.Error()
	}
	if t.Err == nil {
		return "trap: " + string(t.Kind)
	}
	return fmt.Sprintf("trap: %s: %v", t.Kind, t.Err)
}

func (t *Trap) Unwrap() error { return t.Err }
