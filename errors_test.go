package perftrampoline

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Init", CodeInvalidConfig, "arena size is not a page multiple")

	if err.Op != "Init" {
		t.Errorf("Expected Op=Init, got %s", err.Op)
	}
	if err.Code != CodeInvalidConfig {
		t.Errorf("Expected Code=CodeInvalidConfig, got %s", err.Code)
	}

	expected := "perftrampoline: Init: arena size is not a page multiple"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorMessageFallsBackToCode(t *testing.T) {
	err := NewError("", CodeAllocationFailed, "")
	expected := "perftrampoline: allocation failed"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapErrorCarriesErrno(t *testing.T) {
	inner := fmt.Errorf("mmap: %w", syscall.ENOMEM)
	err := WrapError("CompileCode", CodeAllocationFailed, inner)

	if err.Errno != syscall.ENOMEM {
		t.Errorf("Expected Errno=ENOMEM, got %v", err.Errno)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is on the inner error")
	}

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatal("Expected errors.As to find *Error")
	}
	if pe.Code != CodeAllocationFailed {
		t.Errorf("Expected Code=CodeAllocationFailed, got %s", pe.Code)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if err := WrapError("Fini", CodeSinkInitFailed, nil); err != nil {
		t.Errorf("Expected nil for a nil inner error, got %v", err)
	}
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno syscall.Errno
		want  Code
	}{
		{syscall.ENOMEM, CodeAllocationFailed},
		{syscall.EACCES, CodeMprotectFailed},
		{syscall.EPERM, CodeMprotectFailed},
		{syscall.EINVAL, CodeInvalidConfig},
		{syscall.EIO, CodeAllocationFailed},
	}
	for _, c := range cases {
		if got := mapErrnoToCode(c.errno); got != c.want {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", c.errno, got, c.want)
		}
	}
}

func TestErrorIsMatchesOnCode(t *testing.T) {
	a := NewError("Init", CodeSinkInitFailed, "open failed")
	b := NewError("SetSinkPlug", CodeSinkInitFailed, "different op, same code")
	c := NewError("Init", CodeInvalidConfig, "other code")

	if !errors.Is(a, b) {
		t.Error("Expected errors with the same code to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("Expected errors with different codes not to match")
	}
}
