// Package test wraps testing.TB with the small set of assertions used across
// the repository's tests.
package test

import (
	"errors"
	"runtime"
	"testing"
)

// T is a thin assertion helper around testing.TB.
type T struct {
	testing.TB
}

// FromT wraps t.
func FromT(t testing.TB) *T {
	return &T{TB: t}
}

func caller() (string, int) {
	_, file, line, _ := runtime.Caller(2)
	return file, line
}

// Assert fails the test when cond is false.
func (t *T) Assert(cond bool) {
	t.Helper()
	if !cond {
		file, line := caller()
		t.Fatalf("assertion failed at %s:%d", file, line)
	}
}

// CheckErr fails the test when err is not nil.
func (t *T) CheckErr(err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ExpectErr fails the test unless errors.Is(err, target).
func (t *T) ExpectErr(err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}

// ShouldPanic fails the test unless f panics.
func (t *T) ShouldPanic(f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic")
		}
	}()
	f()
}
