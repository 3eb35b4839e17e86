// Package tlsloop provides the error taxonomy used across the runtime.
package tlsloop

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the taxonomy described in the runtime design.
// Use [errors.Is] to classify an error returned from [Runtime.ExecSimple]
// or [NewRuntime].
var (
	// ErrOutOfMemory classifies a failed record, map, or worker allocation.
	// No function in this package returns it.
	ErrOutOfMemory = errors.New("tlsloop: out of memory")

	// ErrSystemResource is returned for a negative option value, a worker
	// count outside [1, flagHalfBits), and an ExecSimple call on a closed
	// or already-running Runtime. A failed CPU affinity call is only logged.
	ErrSystemResource = errors.New("tlsloop: system resource unavailable")

	// ErrExecutorError is returned when the user executor reported Error.
	ErrExecutorError = errors.New("tlsloop: executor reported an error")

	// ErrInternalAssertion marks an invariant violation: misaligned access,
	// an impossible epoch status transition, or ring overflow. In builds
	// without the tlsloop_debug tag a failed check is ignored (implying
	// undefined behavior if triggered); under tlsloop_debug it panics
	// wrapped in an [AssertionError].
	ErrInternalAssertion = errors.New("tlsloop: internal assertion failed")
)

// AssertionError describes an invariant violation caught by a debug-only
// check. It unwraps to [ErrInternalAssertion] so callers can use
// errors.Is(err, ErrInternalAssertion) without matching on message text.
type AssertionError struct {
	Invariant string
	Detail    string
}

func (e *AssertionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tlsloop: assertion failed: %s", e.Invariant)
	}
	return fmt.Sprintf("tlsloop: assertion failed: %s: %s", e.Invariant, e.Detail)
}

// Unwrap allows errors.Is(err, ErrInternalAssertion) to succeed.
func (e *AssertionError) Unwrap() error {
	return ErrInternalAssertion
}

// ExecError wraps a failing executor's return value. It unwraps to
// [ErrExecutorError]. [Runtime.ExecSimple] does not fill in PoolID or
// Epoch: both are zero in the error it returns.
type ExecError struct {
	PoolID int
	Epoch  Epoch
	Cause  error
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tlsloop: executor error at epoch %d (worker %d): %v", e.Epoch, e.PoolID, e.Cause)
	}
	return fmt.Sprintf("tlsloop: executor error at epoch %d (worker %d)", e.Epoch, e.PoolID)
}

func (e *ExecError) Unwrap() error {
	if e.Cause != nil {
		return errors.Join(ErrExecutorError, e.Cause)
	}
	return ErrExecutorError
}

// WrapError wraps an error with a message while preserving the cause chain
// for [errors.Is] and [errors.As].
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// assertf checks an invariant. The check always runs; only the panic on
// failure is compiled out in release builds (see assertTrigger).
func assertf(cond bool, invariant, format string, args ...any) {
	if cond {
		return
	}
	assertTrigger(invariant, fmt.Sprintf(format, args...))
}
