// Package test holds small assertion helpers shared by the package tests.
package test

import (
	"errors"
	"fmt"
	"testing"
)

// T wraps a testing.T with assertion helpers that fail the test immediately.
type T struct {
	*testing.T
}

// FromT wraps t.
func FromT(t *testing.T) *T {
	return &T{T: t}
}

func (t *T) fail(msg string, args ...any) {
	t.Helper()
	if len(args) > 0 {
		if format, ok := args[0].(string); ok {
			msg = msg + ": " + fmt.Sprintf(format, args[1:]...)
		}
	}
	t.Fatal(msg)
}

// Assert fails the test if cond is false. Optional args are a format
// string and its operands.
func (t *T) Assert(cond bool, args ...any) {
	t.Helper()
	if !cond {
		t.fail("assertion failed", args...)
	}
}

// CheckErr fails the test on a non-nil error.
func (t *T) CheckErr(err error, args ...any) {
	t.Helper()
	if err != nil {
		t.fail(fmt.Sprintf("unexpected error: %v", err), args...)
	}
}

// ExpectErr fails the test unless err matches target with errors.Is.
func (t *T) ExpectErr(err, target error, args ...any) {
	t.Helper()
	if !errors.Is(err, target) {
		t.fail(fmt.Sprintf("expected error %v, got %v", target, err), args...)
	}
}

// Equal fails the test if got != want.
func Equal[V comparable](t *T, got, want V, args ...any) {
	t.Helper()
	if got != want {
		t.fail(fmt.Sprintf("got %v, want %v", got, want), args...)
	}
}
