package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.mycodo.org/mycodo/logging"
)

type instrumented struct {
	inits     atomic.Int32
	loops     atomic.Int32
	finals    atomic.Int32
	preStops  atomic.Int32
	inLoop    atomic.Bool
	overlap   atomic.Bool
	initErr   error
	loopPanic bool
	// reloadHold keeps InitializeVariables busy after the first call.
	reloadHold time.Duration
	// loopsDuringReload counts loops that started while a reload was in progress.
	reloading         atomic.Bool
	loopsDuringReload atomic.Int32
}

func (c *instrumented) InitializeVariables(ctx context.Context) error {
	if c.inLoop.Load() {
		c.overlap.Store(true)
	}
	if c.inits.Add(1) > 1 && c.reloadHold > 0 {
		c.reloading.Store(true)
		time.Sleep(c.reloadHold)
		c.reloading.Store(false)
	}
	return c.initErr
}

func (c *instrumented) Loop(ctx context.Context) error {
	c.inLoop.Store(true)
	defer c.inLoop.Store(false)
	if c.reloading.Load() {
		c.loopsDuringReload.Add(1)
	}
	c.loops.Add(1)
	if c.loopPanic {
		panic("loop exploded")
	}
	return nil
}

func (c *instrumented) PreStop(ctx context.Context) { c.preStops.Add(1) }

func (c *instrumented) RunFinally(ctx context.Context) {
	if ctx.Err() != nil {
		panic("finalizer got a cancelled context")
	}
	c.finals.Add(1)
}

func fastParams(t *testing.T) Params {
	return Params{
		Name:         "test",
		SampleRate:   time.Millisecond,
		PollInterval: time.Millisecond,
		Logger:       logging.NewTestLogger(t),
	}
}

func startRuntime(t *testing.T, ctx context.Context, r *Runtime) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		test.That(t, r.Run(ctx), test.ShouldBeNil)
	}()
	t.Cleanup(wg.Wait)
}

func TestRunLifecycle(t *testing.T) {
	ctrl := &instrumented{}
	r := NewRuntime(ctrl, fastParams(t))
	startRuntime(t, context.Background(), r)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, 3)
	})
	test.That(t, r.Ready(), test.ShouldBeTrue)
	test.That(t, r.Running(), test.ShouldBeTrue)
	test.That(t, r.Run(context.Background()), test.ShouldEqual, ErrAlreadyStarted)

	r.Stop(context.Background())
	test.That(t, r.Wait(context.Background()), test.ShouldBeNil)
	test.That(t, ctrl.inits.Load(), test.ShouldEqual, 1)
	test.That(t, ctrl.preStops.Load(), test.ShouldEqual, 1)
	test.That(t, ctrl.finals.Load(), test.ShouldEqual, 1)
	test.That(t, r.Running(), test.ShouldBeFalse)
	test.That(t, r.Ready(), test.ShouldBeFalse)
}

func TestRunFinallyOnCancel(t *testing.T) {
	ctrl := &instrumented{loopPanic: true}
	logger, logs := logging.NewObservedTestLogger(t)
	params := fastParams(t)
	params.Logger = logger
	r := NewRuntime(ctrl, params)

	ctx, cancel := context.WithCancel(context.Background())
	startRuntime(t, ctx, r)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, 2)
	})
	// Panicking loops are logged and the runtime keeps going.
	test.That(t, logs.FilterMessage("controller loop failed").Len(), test.ShouldBeGreaterThan, 0)

	cancel()
	test.That(t, r.Wait(context.Background()), test.ShouldBeNil)
	test.That(t, ctrl.finals.Load(), test.ShouldEqual, 1)
}

func TestInitFailureKeepsRunning(t *testing.T) {
	ctrl := &instrumented{initErr: errors.New("bad config")}
	r := NewRuntime(ctrl, fastParams(t))
	startRuntime(t, context.Background(), r)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, 0)
	})
	test.That(t, r.Ready(), test.ShouldBeFalse)

	ctrl.initErr = nil
	test.That(t, r.RefreshSettings(context.Background()), test.ShouldBeNil)
	test.That(t, r.Ready(), test.ShouldBeTrue)

	r.Stop(context.Background())
	test.That(t, r.Wait(context.Background()), test.ShouldBeNil)
}

func TestStopBeforeRun(t *testing.T) {
	ctrl := &instrumented{}
	r := NewRuntime(ctrl, fastParams(t))
	r.Stop(context.Background())
	test.That(t, r.Run(context.Background()), test.ShouldBeNil)
	test.That(t, ctrl.inits.Load(), test.ShouldEqual, 0)
	test.That(t, ctrl.loops.Load(), test.ShouldEqual, 0)
	test.That(t, ctrl.finals.Load(), test.ShouldEqual, 1)
}

func TestRefreshSettingsHandshake(t *testing.T) {
	ctrl := &instrumented{reloadHold: 30 * time.Millisecond}
	r := NewRuntime(ctrl, fastParams(t))
	startRuntime(t, context.Background(), r)
	defer func() {
		r.Stop(context.Background())
		test.That(t, r.Wait(context.Background()), test.ShouldBeNil)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, 2)
	})

	for i := 0; i < 3; i++ {
		test.That(t, r.RefreshSettings(context.Background()), test.ShouldBeNil)
	}
	test.That(t, ctrl.inits.Load(), test.ShouldEqual, 4)
	test.That(t, ctrl.overlap.Load(), test.ShouldBeFalse)
	test.That(t, ctrl.loopsDuringReload.Load(), test.ShouldEqual, 0)
	test.That(t, r.Paused(), test.ShouldBeFalse)

	// The loop resumes after the reload.
	before := ctrl.loops.Load()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, before)
	})
}

// gatedLoop blocks in Loop until released and records reloads that overlap a Loop call.
type gatedLoop struct {
	instrumented
	gate chan struct{}
}

func (c *gatedLoop) Loop(ctx context.Context) error {
	c.inLoop.Store(true)
	defer c.inLoop.Store(false)
	c.loops.Add(1)
	select {
	case <-c.gate:
	case <-ctx.Done():
	}
	return nil
}

func TestRefreshSettingsCancelled(t *testing.T) {
	ctrl := &gatedLoop{gate: make(chan struct{})}
	r := NewRuntime(ctrl, fastParams(t))
	startRuntime(t, context.Background(), r)
	defer func() {
		r.Stop(context.Background())
		close(ctrl.gate)
		test.That(t, r.Wait(context.Background()), test.ShouldBeNil)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.inLoop.Load(), test.ShouldBeTrue)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.RefreshSettings(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, ctrl.inits.Load(), test.ShouldEqual, 1)
	test.That(t, r.pauseRequested.Load(), test.ShouldEqual, 0)
	test.That(t, r.Paused(), test.ShouldBeFalse)

	// Later refreshes still wait for the running Loop and never overlap it.
	for i := 0; i < 5; i++ {
		ctrl.gate <- struct{}{}
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, ctrl.inLoop.Load(), test.ShouldBeTrue)
		})
		done := make(chan error, 1)
		go func() { done <- r.RefreshSettings(context.Background()) }()
		ctrl.gate <- struct{}{}
		test.That(t, <-done, test.ShouldBeNil)
		test.That(t, ctrl.overlap.Load(), test.ShouldBeFalse)
	}
	test.That(t, ctrl.inits.Load(), test.ShouldEqual, 6)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, r.Paused(), test.ShouldBeFalse)
	})
}

func TestPausedLoopRunsNoLogic(t *testing.T) {
	ctrl := &instrumented{}
	r := NewRuntime(ctrl, fastParams(t))
	startRuntime(t, context.Background(), r)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, 0)
	})

	r.pauseRequested.Store(1)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, r.Paused(), test.ShouldBeTrue)
	})
	held := ctrl.loops.Load()
	time.Sleep(20 * time.Millisecond)
	test.That(t, ctrl.loops.Load(), test.ShouldEqual, held)

	r.pauseRequested.Store(0)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.loops.Load(), test.ShouldBeGreaterThan, held)
	})

	test.That(t, r.Paused(), test.ShouldBeFalse)

	// A stop while paused still finalizes.
	r.pauseRequested.Store(2)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, r.Paused(), test.ShouldBeTrue)
	})
	r.Stop(context.Background())
	test.That(t, r.Wait(context.Background()), test.ShouldBeNil)
	test.That(t, ctrl.finals.Load(), test.ShouldEqual, 1)
}

func TestRefreshSettingsNotRunning(t *testing.T) {
	ctrl := &instrumented{}
	r := NewRuntime(ctrl, fastParams(t))
	test.That(t, r.RefreshSettings(context.Background()), test.ShouldBeNil)
	test.That(t, ctrl.inits.Load(), test.ShouldEqual, 1)
	test.That(t, r.Ready(), test.ShouldBeTrue)
}

func TestAttemptExecuteAlwaysFailing(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	var calls int
	ok := AttemptExecute(context.Background(), clock.New(), logger, func(context.Context) error {
		calls++
		return errors.New("output unreachable")
	}, 3, time.Millisecond)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, calls, test.ShouldEqual, 3)
	test.That(t, logs.FilterMessage("attempt failed, retrying").Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("giving up after 3 attempts").Len(), test.ShouldEqual, 1)
}

func TestAttemptExecuteRecoversPanics(t *testing.T) {
	var calls int
	ok := AttemptExecute(context.Background(), clock.New(), logging.NewTestLogger(t), func(context.Context) error {
		calls++
		if calls < 2 {
			panic("driver crashed")
		}
		return nil
	}, 3, time.Millisecond)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, calls, test.ShouldEqual, 2)
}

func TestAttemptExecuteWaitsDelay(t *testing.T) {
	mockClock := clock.NewMock()
	r := NewRuntime(&instrumented{}, Params{Name: "retry", Clock: mockClock, Logger: logging.NewTestLogger(t)})
	var calls atomic.Int32
	result := make(chan bool, 1)
	go func() {
		result <- r.AttemptExecute(context.Background(), func(context.Context) error {
			calls.Add(1)
			return errors.New("nope")
		}, 2, DefaultAttemptDelay)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, calls.Load(), test.ShouldEqual, 1)
	})
	mockClock.Add(DefaultAttemptDelay / 2)
	test.That(t, calls.Load(), test.ShouldEqual, 1)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mockClock.Add(DefaultAttemptDelay)
		test.That(tb, calls.Load(), test.ShouldEqual, 2)
	})
	test.That(t, <-result, test.ShouldBeFalse)
}

func TestAttemptExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int
	ok := AttemptExecute(ctx, clock.NewMock(), logging.NewTestLogger(t), func(context.Context) error {
		calls++
		return errors.New("nope")
	}, 5, time.Hour)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, calls, test.ShouldEqual, 1)
}
