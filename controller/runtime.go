package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/logging"
)

// Runtime owns the lifecycle of one Controller.
type Runtime struct {
	ctrl         Controller
	name         string
	sampleRate   time.Duration
	pollInterval time.Duration
	clk          clock.Clock
	logger       logging.Logger

	started  atomic.Bool
	running  atomic.Bool
	stopping atomic.Bool
	ready    atomic.Bool

	// Two phase pause barrier polled by both sides, one generation per request. pauseRequested
	// holds the pending generation (0 when released), pauseAcknowledged the generation the loop
	// is holding for (0 when not holding). See RefreshSettings.
	pauseGen          atomic.Uint64
	pauseRequested    atomic.Uint64
	pauseAcknowledged atomic.Uint64
	refreshMu         sync.Mutex

	shutdownMu    sync.Mutex
	shutdownStart time.Time

	done chan struct{}
}

// NewRuntime returns a Runtime for ctrl. It does not start it.
func NewRuntime(ctrl Controller, params Params) *Runtime {
	params.setDefaults()
	return &Runtime{
		ctrl:         ctrl,
		name:         params.Name,
		sampleRate:   params.SampleRate,
		pollInterval: params.PollInterval,
		clk:          params.Clock,
		logger:       params.Logger,
		done:         make(chan struct{}),
	}
}

// Name returns the controller name.
func (r *Runtime) Name() string { return r.name }

// Controller returns the driven controller.
func (r *Runtime) Controller() Controller { return r.ctrl }

// Ready reports whether the last initialization succeeded.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Running reports whether the loop is running.
func (r *Runtime) Running() bool { return r.running.Load() }

// Paused reports whether the loop acknowledged a pause request and is holding.
func (r *Runtime) Paused() bool { return r.pauseAcknowledged.Load() != 0 }

// Done is closed once Run returned.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Run initializes the controller and runs its loop until Stop is called or ctx is done. The
// finalizer runs exactly once on the way out, whatever ended the loop.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(r.done)
	if r.stopping.Load() {
		r.finish(ctx)
		return nil
	}
	r.running.Store(true)
	defer r.finish(ctx)

	r.initialize(ctx)
	r.logger.Infow("controller activated", "ready", r.Ready())

	for r.shouldRun(ctx) {
		if r.pauseRequested.Load() != 0 {
			r.holdWhilePaused(ctx)
			if !r.shouldRun(ctx) {
				break
			}
		}
		r.loopOnce(ctx)
		r.sleep(ctx, r.sampleRate)
	}
	return nil
}

func (r *Runtime) shouldRun(ctx context.Context) bool {
	return ctx.Err() == nil && !r.stopping.Load()
}

func (r *Runtime) initialize(ctx context.Context) {
	err := r.guard(func() error { return r.ctrl.InitializeVariables(ctx) })
	if err != nil {
		r.logger.Errorw("controller initialization failed", "error", err)
		r.ready.Store(false)
		return
	}
	r.ready.Store(true)
}

func (r *Runtime) loopOnce(ctx context.Context) {
	if err := r.guard(func() error { return r.ctrl.Loop(ctx) }); err != nil {
		r.logger.Errorw("controller loop failed", "error", err)
	}
}

// guard runs fn and turns a panic into an error.
func (r *Runtime) guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func (r *Runtime) finish(ctx context.Context) {
	finalCtx := context.WithoutCancel(ctx)
	if fin, ok := r.ctrl.(Finalizer); ok {
		if err := r.guard(func() error { fin.RunFinally(finalCtx); return nil }); err != nil {
			r.logger.Errorw("controller shutdown hook failed", "error", err)
		}
	}
	r.running.Store(false)
	r.ready.Store(false)

	r.shutdownMu.Lock()
	start := r.shutdownStart
	r.shutdownMu.Unlock()
	if start.IsZero() {
		r.logger.Info("controller deactivated")
		return
	}
	r.logger.Infof("controller deactivated in %s", r.clk.Since(start))
}

// holdWhilePaused acknowledges pause requests and runs no control logic until none is pending.
// Every poll acknowledges the current generation, so a request made right after the previous
// one was released is acknowledged without running the loop in between.
func (r *Runtime) holdWhilePaused(ctx context.Context) {
	r.logger.Debug("loop paused for reload")
	defer r.pauseAcknowledged.Store(0)
	for r.shouldRun(ctx) {
		gen := r.pauseRequested.Load()
		if gen == 0 {
			return
		}
		r.pauseAcknowledged.Store(gen)
		r.sleep(ctx, r.pollInterval)
	}
}

// sleep waits d on the runtime clock, returning early when ctx is done.
func (r *Runtime) sleep(ctx context.Context, d time.Duration) bool {
	timer := r.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop asks the loop to exit. The loop notices at its next wake; use Wait to block until the
// finalizer ran.
func (r *Runtime) Stop(ctx context.Context) {
	r.shutdownMu.Lock()
	if r.shutdownStart.IsZero() {
		r.shutdownStart = r.clk.Now()
	}
	r.shutdownMu.Unlock()

	if ps, ok := r.ctrl.(PreStopper); ok {
		if err := r.guard(func() error { ps.PreStop(ctx); return nil }); err != nil {
			r.logger.Errorw("controller pre-stop hook failed", "error", err)
		}
	}
	r.stopping.Store(true)
}

// Wait blocks until Run returned or ctx is done.
func (r *Runtime) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshSettings reloads the controller configuration without racing the loop. It requests a
// pause, polls until the loop acknowledged it, re-runs InitializeVariables, then releases the
// loop. When the loop is not running the configuration is reloaded directly.
func (r *Runtime) RefreshSettings(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if !r.running.Load() {
		return r.reload(ctx)
	}

	gen := r.pauseGen.Add(1)
	r.pauseRequested.Store(gen)
	defer r.pauseRequested.Store(0)
	for r.pauseAcknowledged.Load() != gen {
		if !r.running.Load() {
			break
		}
		if !r.sleep(ctx, r.pollInterval) {
			return ctx.Err()
		}
	}
	return r.reload(ctx)
}

func (r *Runtime) reload(ctx context.Context) error {
	err := r.guard(func() error { return r.ctrl.InitializeVariables(ctx) })
	r.ready.Store(err == nil)
	if err != nil {
		r.logger.Errorw("controller reload failed", "error", err)
		return err
	}
	r.logger.Info("controller settings refreshed")
	return nil
}

// AttemptExecute runs op up to times times, sleeping delay between failed attempts. Failures
// are logged and never propagated; the returned bool reports whether an attempt succeeded.
func (r *Runtime) AttemptExecute(ctx context.Context, op func(context.Context) error, times int, delay time.Duration) bool {
	return AttemptExecute(ctx, r.clk, r.logger, op, times, delay)
}

// AttemptExecute is Runtime.AttemptExecute for callers without a Runtime.
func AttemptExecute(
	ctx context.Context,
	clk clock.Clock,
	logger logging.Logger,
	op func(context.Context) error,
	times int,
	delay time.Duration,
) bool {
	if times <= 0 {
		times = DefaultAttempts
	}
	for attempt := 1; attempt <= times; attempt++ {
		err := attemptOnce(ctx, op)
		if err == nil {
			return true
		}
		if attempt == times {
			logger.Errorw(fmt.Sprintf("giving up after %d attempts", times), "error", err)
			return false
		}
		logger.Warnw("attempt failed, retrying", "attempt", attempt, "of", times, "retry_in", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			logger.Warnw("retries abandoned", "error", ctx.Err())
			return false
		case <-clk.After(delay):
		}
	}
	return false
}

func attemptOnce(ctx context.Context, op func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	return op(ctx)
}
