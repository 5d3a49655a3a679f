package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingDrainer struct {
	drained atomic.Int32
}

func (d *countingDrainer) Drain() error {
	d.drained.Add(1)
	return nil
}

func TestRunExecutesSessionAndDrains(t *testing.T) {
	d := &countingDrainer{}
	var started, stopped bool
	r := NewLifecycleRunner(
		func(ctx context.Context) error { return nil },
		d,
		Hooks{
			OnStart: func() { started = true },
			OnStop:  func() { stopped = true },
		},
		time.Second,
	)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !started || !stopped {
		t.Fatalf("hooks not invoked: started=%v stopped=%v", started, stopped)
	}
	if d.drained.Load() != 1 {
		t.Fatalf("expected one drain, got %d", d.drained.Load())
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped state, got %d", r.State())
	}
}

func TestStopCancelsRunningSession(t *testing.T) {
	d := &countingDrainer{}
	r := NewLifecycleRunner(
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		d, Hooks{}, time.Second,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return after stop")
	}
	if d.drained.Load() != 1 {
		t.Fatalf("expected one drain, got %d", d.drained.Load())
	}
}

func TestRunIsSingleShot(t *testing.T) {
	r := NewLifecycleRunner(func(ctx context.Context) error { return nil }, nil, Hooks{}, time.Second)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to be rejected")
	}
}
