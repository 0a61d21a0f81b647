package control

import (
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestIntegratorStaysClamped(t *testing.T) {
	gains := Gains{Kp: 1, Ki: 0.5, Kd: 0.1, IntegratorMin: -20, IntegratorMax: 35, Direction: Raise}
	state := NewState()
	//nolint:gosec
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		measure := rng.Float64()*200 - 100
		Update(measure, 10, gains, state)
		test.That(t, state.Integrator, test.ShouldBeGreaterThanOrEqualTo, gains.IntegratorMin)
		test.That(t, state.Integrator, test.ShouldBeLessThanOrEqualTo, gains.IntegratorMax)
	}
}

func TestUpdateAtSetpointIsZero(t *testing.T) {
	gains := Gains{Kp: 1, IntegratorMin: -100, IntegratorMax: 100, Direction: Raise}
	state := NewState()
	cv, updated := Update(21.5, 21.5, gains, state)
	test.That(t, updated, test.ShouldBeTrue)
	test.That(t, cv, test.ShouldEqual, 0)
	test.That(t, state.SetpointBand, test.ShouldBeNil)
}

func TestUpdateTerms(t *testing.T) {
	gains := Gains{Kp: 2, Ki: 0.5, Kd: 3, IntegratorMin: -100, IntegratorMax: 100, Direction: Raise}
	state := NewState()

	// First update seeds the derivator, so no derivative kick.
	cv, _ := Update(8, 10, gains, state)
	test.That(t, state.PValue, test.ShouldEqual, 4)
	test.That(t, state.Integrator, test.ShouldEqual, 2)
	test.That(t, state.IValue, test.ShouldEqual, 1)
	test.That(t, state.DValue, test.ShouldEqual, 0)
	test.That(t, cv, test.ShouldEqual, 5)
	test.That(t, state.FirstUpdate, test.ShouldBeFalse)

	cv, _ = Update(9, 10, gains, state)
	test.That(t, state.PValue, test.ShouldEqual, 2)
	test.That(t, state.Integrator, test.ShouldEqual, 3)
	test.That(t, state.IValue, test.ShouldEqual, 1.5)
	test.That(t, state.DValue, test.ShouldEqual, -3)
	test.That(t, cv, test.ShouldEqual, 0.5)
	test.That(t, state.Derivator, test.ShouldEqual, 1)
}

func TestUpdateFrozenInsideBand(t *testing.T) {
	gains := Gains{Kp: 1, IntegratorMin: -100, IntegratorMax: 100, Band: 1, Direction: Both}
	state := NewState()
	cv, updated := Update(5, 10, gains, state)
	test.That(t, updated, test.ShouldBeTrue)
	test.That(t, cv, test.ShouldEqual, 4)
	test.That(t, *state.SetpointBand, test.ShouldEqual, 9)

	cv, updated = Update(9.5, 10, gains, state)
	test.That(t, updated, test.ShouldBeFalse)
	test.That(t, cv, test.ShouldEqual, 4)
	test.That(t, state.ControlVariable, test.ShouldEqual, 4)
}

func TestGainsValidate(t *testing.T) {
	good := Gains{IntegratorMin: -1, IntegratorMax: 1, Direction: Lower}
	test.That(t, good.Validate(), test.ShouldBeNil)

	bad := Gains{IntegratorMin: 1, IntegratorMax: 1, Band: -1, Direction: "sideways"}
	err := bad.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "integrator_min")
	test.That(t, err.Error(), test.ShouldContainSubstring, "band")
	test.That(t, err.Error(), test.ShouldContainSubstring, "sideways")
}

func TestStateReset(t *testing.T) {
	state := NewState()
	state.Integrator = 4
	state.AllowRaising = true
	state.FirstUpdate = false
	state.Reset()
	test.That(t, state.Integrator, test.ShouldEqual, 0)
	test.That(t, state.AllowRaising, test.ShouldBeFalse)
	test.That(t, state.FirstUpdate, test.ShouldBeTrue)
	test.That(t, state.Status(), test.ShouldContainSubstring, "P=0.000")
}
