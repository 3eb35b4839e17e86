package tlsloop

import (
	"errors"
	"testing"
)

func TestAssertionErrorUnwrapsToSentinel(t *testing.T) {
	err := &AssertionError{Invariant: "epoch status", Detail: "epoch 3 had status 7"}
	if !errors.Is(err, ErrInternalAssertion) {
		t.Fatal("AssertionError should unwrap to ErrInternalAssertion")
	}
	want := "tlsloop: assertion failed: epoch status: epoch 3 had status 7"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAssertionErrorNoDetail(t *testing.T) {
	err := &AssertionError{Invariant: "alignment"}
	want := "tlsloop: assertion failed: alignment"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestExecErrorUnwrapsToSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := &ExecError{PoolID: 2, Epoch: 7, Cause: cause}
	if !errors.Is(err, ErrExecutorError) {
		t.Fatal("ExecError should unwrap to ErrExecutorError")
	}
	if !errors.Is(err, cause) {
		t.Fatal("ExecError should preserve its cause in the chain")
	}
}

func TestExecErrorWithoutCause(t *testing.T) {
	err := &ExecError{PoolID: 0, Epoch: 1}
	if !errors.Is(err, ErrExecutorError) {
		t.Fatal("ExecError without a cause should still unwrap to ErrExecutorError")
	}
}

func TestWrapErrorPreservesCause(t *testing.T) {
	err := WrapError("tlsloop: NewRuntime", ErrSystemResource)
	if !errors.Is(err, ErrSystemResource) {
		t.Fatal("WrapError should preserve the cause for errors.Is")
	}
}
