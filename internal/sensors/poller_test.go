package sensors

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingUpdater struct{ n atomic.Int32 }

func (c *countingUpdater) Update(context.Context) { c.n.Add(1) }

func TestPollerRunsOnStart(t *testing.T) {
	p := NewPoller(nil)
	u := &countingUpdater{}
	if err := p.Add("kitchen", time.Hour, u); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}

	p.Start()
	deadline := time.Now().Add(2 * time.Second)
	for u.n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	if got := u.n.Load(); got != 1 {
		t.Errorf("updates = %d, want 1", got)
	}
}

func TestPollerStopCancelsContext(t *testing.T) {
	p := NewPoller(nil)
	done := make(chan error, 1)
	if err := p.Add("slow", time.Hour, updaterFunc(func(ctx context.Context) {
		<-ctx.Done()
		done <- ctx.Err()
	})); err != nil {
		t.Fatal(err)
	}

	p.Start()
	p.Stop()

	select {
	case err := <-done:
		if err == nil {
			t.Error("context not cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("updater still running after Stop")
	}
}

func TestPollerAddInvalidInterval(t *testing.T) {
	p := NewPoller(nil)
	if err := p.Add("bad", 0, &countingUpdater{}); err == nil {
		t.Error("Add() with a zero interval should fail")
	}
}

type updaterFunc func(ctx context.Context)

func (f updaterFunc) Update(ctx context.Context) { f(ctx) }
