// Package testutil provides testing utilities for polling and waiting.
package testutil

import (
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Timeout = d
	}
}

// WithInterval sets the polling interval (default: 5ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) {
		o.Interval = d
	}
}

// Job workers finish in milliseconds, so poll tightly.
func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  5 * time.Second,
		Interval: 5 * time.Millisecond,
	}
}

// WaitFor polls until condition returns true or timeout is reached.
// Returns true if condition was met, false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(o.Interval)
	}
	return condition()
}

// WaitForValue polls until get returns want or timeout is reached.
// Returns the last observed value and whether it matched.
func WaitForValue[T comparable](tb testing.TB, get func() T, want T, opts ...WaitOption) (T, bool) {
	tb.Helper()
	var last T
	ok := WaitFor(tb, func() bool {
		last = get()
		return last == want
	}, opts...)
	return last, ok
}

// MustWaitFor polls until condition returns true or fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForValue polls until get returns want or fails the test on timeout.
func MustWaitForValue[T comparable](tb testing.TB, get func() T, want T, opts ...WaitOption) {
	tb.Helper()
	if last, ok := WaitForValue(tb, get, want, opts...); !ok {
		tb.Fatalf("timed out waiting for %v (last: %v)", want, last)
	}
}
