package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	result := WaitFor(t, func() bool {
		return true
	}, WithTimeout(time.Second))

	if !result {
		t.Error("expected WaitFor to return true for immediate success")
	}
}

func TestWaitFor_EventualSuccess(t *testing.T) {
	t.Parallel()
	counter := 0
	result := WaitFor(t, func() bool {
		counter++
		return counter >= 3
	}, WithTimeout(time.Second), WithInterval(10*time.Millisecond))

	if !result {
		t.Error("expected WaitFor to return true for eventual success")
	}
	if counter < 3 {
		t.Errorf("expected counter >= 3, got %d", counter)
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	t.Parallel()
	result := WaitFor(t, func() bool {
		return false
	}, WithTimeout(50*time.Millisecond), WithInterval(10*time.Millisecond))

	if result {
		t.Error("expected WaitFor to return false on timeout")
	}
}

func TestWaitForValue(t *testing.T) {
	t.Parallel()
	var status atomic.Value
	status.Store("queued")

	go func() {
		time.Sleep(20 * time.Millisecond)
		status.Store("finished")
	}()

	got, ok := WaitForValue(t, func() string { return status.Load().(string) }, "finished", WithTimeout(time.Second))
	if !ok {
		t.Errorf("expected value to be reached, last %q", got)
	}
}

func TestWaitForValue_Timeout(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64
	counter.Store(2)

	got, ok := WaitForValue(t, counter.Load, 5, WithTimeout(30*time.Millisecond))
	if ok {
		t.Error("expected timeout")
	}
	if got != 2 {
		t.Errorf("expected last value 2, got %d", got)
	}
}

func TestMustWaitForValue(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64
	go func() {
		for range 3 {
			counter.Add(1)
		}
	}()

	MustWaitForValue(t, counter.Load, 3, WithTimeout(time.Second))
}
