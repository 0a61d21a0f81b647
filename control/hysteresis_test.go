package control

import (
	"testing"

	"go.viam.com/test"
)

func TestHysteresisNoBand(t *testing.T) {
	for _, dir := range []Direction{Raise, Lower, Both} {
		for _, measure := range []float64{-50, 0, 19.99, 20, 20.01, 1e6} {
			eff, ok := CheckHysteresis(measure, 20, 0, dir, NewState())
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, eff, test.ShouldEqual, 20)
		}
	}
}

func TestHysteresisSingleDirection(t *testing.T) {
	for _, dir := range []Direction{Raise, Lower} {
		state := NewState()
		eff, ok := CheckHysteresis(17, 20, 2, dir, state)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, eff, test.ShouldEqual, 22)

		eff, _ = CheckHysteresis(19, 20, 2, dir, state)
		test.That(t, eff, test.ShouldEqual, 19)
		eff, _ = CheckHysteresis(18, 20, 2, dir, state)
		test.That(t, eff, test.ShouldEqual, 18)

		eff, _ = CheckHysteresis(23, 20, 2, dir, state)
		test.That(t, eff, test.ShouldEqual, 18)
		test.That(t, state.AllowRaising, test.ShouldBeFalse)
	}
}

func TestHysteresisBothLatch(t *testing.T) {
	state := NewState()
	state.Integrator = 7
	state.Derivator = 3

	eff, ok := CheckHysteresis(17, 20, 2, Both, state)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, eff, test.ShouldEqual, 18)
	test.That(t, state.AllowRaising, test.ShouldBeTrue)
	test.That(t, state.AllowLowering, test.ShouldBeFalse)
	test.That(t, state.Integrator, test.ShouldEqual, 0)
	test.That(t, state.Derivator, test.ShouldEqual, 0)

	// Staying in the same regime keeps accumulated error.
	state.Integrator = 5
	_, _ = CheckHysteresis(16, 20, 2, Both, state)
	test.That(t, state.Integrator, test.ShouldEqual, 5)

	_, ok = CheckHysteresis(20, 20, 2, Both, state)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, state.Integrator, test.ShouldEqual, 5)

	eff, ok = CheckHysteresis(23, 20, 2, Both, state)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, eff, test.ShouldEqual, 22)
	test.That(t, state.AllowLowering, test.ShouldBeTrue)
	test.That(t, state.AllowRaising, test.ShouldBeFalse)
	test.That(t, state.Integrator, test.ShouldEqual, 0)
}

func TestControlVarToDutyCycle(t *testing.T) {
	test.That(t, ControlVarToDutyCycle(10, 10), test.ShouldEqual, 100)
	test.That(t, ControlVarToDutyCycle(0, 10), test.ShouldEqual, 0)
	test.That(t, ControlVarToDutyCycle(2.5, 10), test.ShouldEqual, 25)
	test.That(t, ControlVarToDutyCycle(1000, 10), test.ShouldEqual, 100)
	test.That(t, ControlVarToDutyCycle(-4, 10), test.ShouldEqual, 0)
	test.That(t, ControlVarToDutyCycle(5, 0), test.ShouldEqual, 0)

	prev := -1.0
	for cv := -5.0; cv <= 30; cv += 0.5 {
		duty := ControlVarToDutyCycle(cv, 20)
		test.That(t, duty, test.ShouldBeGreaterThanOrEqualTo, prev)
		test.That(t, duty, test.ShouldBeBetweenOrEqual, 0, 100)
		prev = duty
	}
}
