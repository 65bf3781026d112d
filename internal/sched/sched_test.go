package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func Test_Sched_SweepInvokesTrigger(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	trigger := func(context.Context) (bool, error) {
		calls.Add(1)
		return false, nil
	}

	s := New(5*time.Millisecond, trigger, true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Wait()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("trigger ran %d times, want at least 2", calls.Load())
	}
}

func Test_Sched_DisabledSweepSkipsTrigger(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	trigger := func(context.Context) (bool, error) {
		calls.Add(1)
		return false, nil
	}

	s := New(5*time.Millisecond, trigger, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Wait()
	}()

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("trigger ran %d times while disabled, want 0", calls.Load())
	}

	if s.Enabled() {
		t.Fatal("Enabled() = true, want false")
	}
	s.Enable()
	if !s.Enabled() {
		t.Fatal("Enabled() = false after Enable, want true")
	}

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("trigger never ran after Enable")
	}
}
