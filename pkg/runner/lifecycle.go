package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleRunner runs one session to completion with orderly shutdown:
// cancelling the context or calling Stop drains the engine before exit.
type LifecycleRunner struct {
	state    int32
	session  SessionFunc
	drainer  Drainer
	hooks    Hooks
	timeout  time.Duration
	cancel   context.CancelFunc
	onceStop sync.Once
	stopErr  error
}

func NewLifecycleRunner(session SessionFunc, drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		state:   int32(StateNew),
		session: session,
		drainer: drainer,
		hooks:   hooks,
		timeout: timeout,
	}
}

// Run executes the session and then drains. It returns the session's
// error unless draining itself failed.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	PrintBanner()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)

	var sessionErr error
	if r.session != nil {
		sessionErr = r.session(ctx)
	}
	if err := r.stop(); err != nil {
		return err
	}
	return sessionErr
}

// Stop cancels the running session and drains. Safe to call from another
// goroutine, e.g. a signal handler.
func (r *LifecycleRunner) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(r.timeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
