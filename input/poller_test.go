package input_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/input/fake"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
)

type loaderFunc func(ctx context.Context, id string) (input.Config, error)

func (f loaderFunc) LoadInput(ctx context.Context, id string) (input.Config, error) {
	return f(ctx, id)
}

func staticLoader(cfg *input.Config) input.ConfigLoader {
	return loaderFunc(func(ctx context.Context, id string) (input.Config, error) {
		if id != cfg.ID {
			return input.Config{}, errors.Errorf("no input %q", id)
		}
		return *cfg, nil
	})
}

func TestCatalog(t *testing.T) {
	test.That(t, input.RegisteredModels(), test.ShouldContain, fake.ModelName)
	test.That(t, func() {
		input.RegisterModel(input.Model{Name: fake.ModelName, Constructor: nil})
	}, test.ShouldPanic)
}

func TestValidate(t *testing.T) {
	cfg := input.Config{Model: "nope"}
	err := cfg.Validate("inputs.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown input model "nope"`)
	test.That(t, err.Error(), test.ShouldContainSubstring, "period")

	cfg = input.Config{ID: "in", Model: fake.ModelName, Period: 1, Attributes: map[string]interface{}{"bogus": 1}}
	err = cfg.Validate("inputs.in")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bogus")
}

func TestPollerWritesReadings(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	store := measurement.NewStore(clk, 0)
	cfg := &input.Config{
		ID: "sensor", Model: fake.ModelName, Period: 5, StartOffset: 1,
		Attributes: map[string]interface{}{"value": 20, "step": 0.5},
	}
	poller := input.NewPoller(input.PollerParams{
		ID: "sensor", Loader: staticLoader(cfg), Sink: store, Clock: clk, Logger: logging.NewTestLogger(t),
	})
	test.That(t, poller.InitializeVariables(ctx), test.ShouldBeNil)

	test.That(t, poller.Loop(ctx), test.ShouldBeNil)
	_, ok, err := store.Last(ctx, "sensor", "value", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	clk.Add(time.Second)
	test.That(t, poller.Loop(ctx), test.ShouldBeNil)
	reading, ok, err := store.Last(ctx, "sensor", "value", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, reading.Value, test.ShouldEqual, 20)
	test.That(t, reading.Time, test.ShouldEqual, clk.Now())

	clk.Add(5 * time.Second)
	test.That(t, poller.Loop(ctx), test.ShouldBeNil)
	reading, _, _ = store.Last(ctx, "sensor", "value", 0)
	test.That(t, reading.Value, test.ShouldEqual, 20.5)
	test.That(t, store.History("sensor", "value", time.Time{}), test.ShouldHaveLength, 2)
}

func TestPollerReadFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	store := measurement.NewStore(clk, 0)
	cfg := &input.Config{ID: "flaky", Model: fake.ModelName, Period: 1}
	logger, logs := logging.NewObservedTestLogger(t)
	poller := input.NewPoller(input.PollerParams{ID: "flaky", Loader: staticLoader(cfg), Sink: store, Clock: clk, Logger: logger})
	test.That(t, poller.InitializeVariables(ctx), test.ShouldBeNil)

	sensor, ok := fake.Lookup("flaky")
	test.That(t, ok, test.ShouldBeTrue)
	sensor.Fail(errors.New("bus error"))
	test.That(t, poller.Loop(ctx), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("cannot read sensor").Len(), test.ShouldEqual, 1)
	_, ok, _ = store.Last(ctx, "flaky", "value", 0)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestPollerReloadAndFinally(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	cfg := &input.Config{ID: "reloaded", Model: fake.ModelName, Period: 1}
	poller := input.NewPoller(input.PollerParams{
		ID: "reloaded", Loader: staticLoader(cfg), Sink: measurement.NewStore(clk, 0), Clock: clk, Logger: logging.NewTestLogger(t),
	})
	test.That(t, poller.InitializeVariables(ctx), test.ShouldBeNil)
	first, _ := fake.Lookup("reloaded")

	test.That(t, poller.InitializeVariables(ctx), test.ShouldBeNil)
	second, _ := fake.Lookup("reloaded")
	test.That(t, first.Closed(), test.ShouldBeTrue)
	test.That(t, second.Closed(), test.ShouldBeFalse)

	poller.RunFinally(ctx)
	test.That(t, second.Closed(), test.ShouldBeTrue)

	cfg.Period = 0
	test.That(t, poller.InitializeVariables(ctx), test.ShouldNotBeNil)
	test.That(t, poller.Loop(ctx), test.ShouldBeNil)
}
