package daemon_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.mycodo.org/mycodo/config"
	"go.mycodo.org/mycodo/control"
	"go.mycodo.org/mycodo/daemon"
	"go.mycodo.org/mycodo/input"
	infake "go.mycodo.org/mycodo/input/fake"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/options"
	"go.mycodo.org/mycodo/output"
	outfake "go.mycodo.org/mycodo/output/fake"
	"go.mycodo.org/mycodo/pid"
)

func testConfig(stateFile string) *config.Config {
	return &config.Config{
		Daemon: config.Daemon{PIDSampleRate: 0.01, InputSampleRate: 0.01, StateFile: stateFile},
		Outputs: []output.Config{{ID: "heater", Model: outfake.ModelName}},
		Inputs: []input.Config{{
			ID: "sensor", Model: infake.ModelName, Activated: true, Period: 0.02,
			Attributes: map[string]interface{}{"value": 20},
		}},
		Methods: []*method.Method{{
			ID: "short", Kind: method.KindDuration,
			Durations: []method.DurationSegment{{DurationSec: 0.2, SetpointStart: 22}},
		}},
		PIDs: []pid.Config{{
			ID:            "pid1",
			Activated:     true,
			Measurement:   options.MeasurementRef{DeviceID: "sensor", MeasurementID: "value"},
			MaxMeasureAge: 10,
			Setpoint:      25,
			Gains:         control.Gains{Kp: 1, IntegratorMin: -100, IntegratorMax: 100, Direction: control.Raise},
			Period:        0.05,
			Raise:         &pid.OutputRef{OutputID: "heater", Type: output.OnOff, MaxDuration: 0.02},
		}},
	}
}

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	d, err := daemon.New(context.Background(), cfg, daemon.Params{
		Logger:       logging.NewTestLogger(t),
		AttemptDelay: 10 * time.Millisecond,
	})
	test.That(t, err, test.ShouldBeNil)
	return d
}

func lastValue(tb testing.TB, d *daemon.Daemon, device, meas string) (float64, bool) {
	r, ok, err := d.Measurements().Last(context.Background(), device, meas, 0)
	test.That(tb, err, test.ShouldBeNil)
	return r.Value, ok
}

func TestDaemonRegulates(t *testing.T) {
	ctx := context.Background()
	d := newDaemon(t, testConfig(filepath.Join(t.TempDir(), "state.json")))
	test.That(t, d.Start(ctx), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		sp, ok := lastValue(tb, d, "pid1", measurement.ChannelKey(pid.ChannelSetpoint))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, sp, test.ShouldEqual, 25)
		secs, ok := lastValue(tb, d, "pid1", measurement.ChannelKey(pid.ChannelDuration))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, secs, test.ShouldEqual, 0.02)
		test.That(tb, d.Measurements().History("heater", measurement.ChannelKey(0), time.Time{}), test.ShouldNotBeEmpty)
	})

	statuses := d.Status()
	test.That(t, statuses, test.ShouldHaveLength, 2)
	test.That(t, statuses[0].Kind, test.ShouldEqual, daemon.KindInput)
	test.That(t, statuses[1].Kind, test.ShouldEqual, daemon.KindPID)
	test.That(t, statuses[1].Detail, test.ShouldStartWith, "active setpoint=25.000")

	test.That(t, d.Close(ctx), test.ShouldBeNil)
	p, err := d.Store().LoadPID(ctx, "pid1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Activated, test.ShouldBeTrue)
}

func TestActivateDeactivate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.PIDs[0].Activated = false
	d := newDaemon(t, cfg)
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()
	test.That(t, d.Start(ctx), test.ShouldBeNil)

	_, err := d.PID("pid1")
	test.That(t, errors.Is(err, daemon.ErrNotActive), test.ShouldBeTrue)
	test.That(t, errors.Is(d.DeactivatePID(ctx, "pid1"), daemon.ErrNotActive), test.ShouldBeTrue)
	test.That(t, d.ActivatePID(ctx, "nope"), test.ShouldNotBeNil)

	test.That(t, d.ActivatePID(ctx, "pid1"), test.ShouldBeNil)
	test.That(t, errors.Is(d.ActivatePID(ctx, "pid1"), daemon.ErrAlreadyActive), test.ShouldBeTrue)
	p, err := d.PID("pid1")
	test.That(t, err, test.ShouldBeNil)
	stored, _ := d.Store().LoadPID(ctx, "pid1")
	test.That(t, stored.Activated, test.ShouldBeTrue)

	test.That(t, p.SetSetpoint(ctx, 21), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		sp, ok := lastValue(tb, d, "pid1", measurement.ChannelKey(pid.ChannelSetpoint))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, sp, test.ShouldEqual, 21)
	})

	test.That(t, d.DeactivatePID(ctx, "pid1"), test.ShouldBeNil)
	stored, _ = d.Store().LoadPID(ctx, "pid1")
	test.That(t, stored.Activated, test.ShouldBeFalse)
	test.That(t, stored.Setpoint, test.ShouldEqual, 21)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		_, err := d.PID("pid1")
		test.That(tb, err, test.ShouldNotBeNil)
	})

	test.That(t, d.DeactivateInput(ctx, "sensor"), test.ShouldBeNil)
	test.That(t, d.ActivateInput(ctx, "nope"), test.ShouldNotBeNil)
}

func TestMethodEndDeactivates(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.PIDs[0].SetpointTracking = pid.TrackMethod
	cfg.PIDs[0].SetpointTrackingID = "short"
	d := newDaemon(t, cfg)
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()
	test.That(t, d.Start(ctx), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		sp, ok := lastValue(tb, d, "pid1", measurement.ChannelKey(pid.ChannelSetpoint))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, sp, test.ShouldEqual, 22)
	})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		_, err := d.PID("pid1")
		test.That(tb, err, test.ShouldNotBeNil)
	})
	stored, err := d.Store().LoadPID(ctx, "pid1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stored.Activated, test.ShouldBeFalse)
	anchor, err := d.Store().LoadMethodAnchor(ctx, "pid1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, anchor.Start.IsZero(), test.ShouldBeTrue)
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	state := filepath.Join(t.TempDir(), "state.json")
	d := newDaemon(t, testConfig(state))
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()
	test.That(t, d.Start(ctx), test.ShouldBeNil)

	test.That(t, d.Reload(ctx, testConfig(state)), test.ShouldBeNil)

	next := testConfig(state)
	next.PIDs[0].Setpoint = 30
	second := next.PIDs[0]
	second.ID = "pid2"
	second.Raise = &pid.OutputRef{OutputID: "fan", Type: output.PWM}
	next.PIDs = append(next.PIDs, second)
	next.Outputs = append(next.Outputs, output.Config{ID: "fan", Model: outfake.ModelName})
	test.That(t, next.Validate(), test.ShouldBeNil)
	test.That(t, d.Reload(ctx, next), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		sp, ok := lastValue(tb, d, "pid1", measurement.ChannelKey(pid.ChannelSetpoint))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, sp, test.ShouldEqual, 30)
		duty, ok := lastValue(tb, d, "pid2", measurement.ChannelKey(pid.ChannelDutyCycle))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, duty, test.ShouldBeGreaterThan, 0)
	})

	last := testConfig(state)
	last.Inputs[0].Activated = false
	last.PIDs = nil
	test.That(t, d.Reload(ctx, last), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, d.Status(), test.ShouldBeEmpty)
	})
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "mycodo.json")
	writeJSON := func(setpoint float64) {
		cfg := testConfig("state.json")
		cfg.PIDs[0].Setpoint = setpoint
		test.That(t, writeConfig(path, cfg), test.ShouldBeNil)
	}
	writeJSON(25)
	cfg, err := config.Read(path)
	test.That(t, err, test.ShouldBeNil)
	d := newDaemon(t, cfg)
	defer func() {
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	}()
	w, err := config.NewWatcher(path, nil, 10*time.Millisecond, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()
	test.That(t, d.Start(ctx), test.ShouldBeNil)
	d.Watch(w)

	writeJSON(23)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		sp, ok := lastValue(tb, d, "pid1", measurement.ChannelKey(pid.ChannelSetpoint))
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, sp, test.ShouldEqual, 23)
	})
}
