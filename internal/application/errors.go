package application

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// PanicError is a panic recovered from metric or expectation code and turned
// into an ordinary error so one faulty implementation cannot crash a run.
type PanicError struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the goroutine stack captured at recovery.
	Stack []byte
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// recoverAsError converts a recovered panic value into *PanicError.
// It must be called directly from a deferred function.
func recoverAsError(r any) error {
	if r == nil {
		return nil
	}
	return &PanicError{Value: r, Stack: debug.Stack()}
}

// tracebackOf renders the traceback recorded in exception_info: the panic
// stack when err came from a recovered panic, otherwise each layer of the
// wrapped error chain on its own line.
func tracebackOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return string(pe.Stack)
	}

	out := ""
	for e := err; e != nil; e = errors.Unwrap(e) {
		if out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("%T: %v", e, e)
	}
	return out
}
