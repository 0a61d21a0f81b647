// Package control implements the PID math used by the PID controller: hysteresis gating around
// the setpoint, the P/I/D accumulation with a clamped integrator, and the conversion of a control
// variable into a PWM duty cycle.
package control

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Direction is the side of the setpoint a PID regulates.
type Direction string

// Regulation directions.
const (
	Raise Direction = "raise"
	Lower Direction = "lower"
	Both  Direction = "both"
)

// Validate returns an error for an unknown direction.
func (d Direction) Validate() error {
	switch d {
	case Raise, Lower, Both:
		return nil
	}
	return errors.Errorf("unknown direction %q", string(d))
}

// Raises reports whether d drives a raise output.
func (d Direction) Raises() bool { return d == Raise || d == Both }

// Lowers reports whether d drives a lower output.
func (d Direction) Lowers() bool { return d == Lower || d == Both }

// Gains holds the tuning of one PID. It is replaced wholesale on reload.
type Gains struct {
	Kp            float64   `json:"kp" yaml:"kp"`
	Ki            float64   `json:"ki" yaml:"ki"`
	Kd            float64   `json:"kd" yaml:"kd"`
	IntegratorMin float64   `json:"integrator_min" yaml:"integrator_min"`
	IntegratorMax float64   `json:"integrator_max" yaml:"integrator_max"`
	Band          float64   `json:"band" yaml:"band"`
	Direction     Direction `json:"direction" yaml:"direction"`
}

// Validate checks the gain invariants.
func (g Gains) Validate() error {
	var errs error
	if g.IntegratorMin >= g.IntegratorMax {
		errs = multierr.Append(errs, errors.Errorf(
			"integrator_min (%v) must be less than integrator_max (%v)", g.IntegratorMin, g.IntegratorMax))
	}
	if g.Band < 0 {
		errs = multierr.Append(errs, errors.Errorf("band must not be negative, got %v", g.Band))
	}
	return multierr.Append(errs, g.Direction.Validate())
}

// State is the mutable state of one PID. It is owned by a single controller.
type State struct {
	Integrator      float64
	Derivator       float64
	Error           float64
	PValue          float64
	IValue          float64
	DValue          float64
	ControlVariable float64
	// SetpointBand is the effective setpoint picked by hysteresis when it differs from the
	// configured setpoint, nil otherwise.
	SetpointBand  *float64
	AllowRaising  bool
	AllowLowering bool
	FirstUpdate   bool
}

// NewState returns the state of a PID that has not run yet.
func NewState() *State {
	return &State{FirstUpdate: true}
}

// Reset clears accumulated error, as after a reload or a setpoint method change.
func (s *State) Reset() {
	*s = State{FirstUpdate: true}
}

// Status renders the last computed terms.
func (s *State) Status() string {
	return fmt.Sprintf("P=%.3f I=%.3f D=%.3f out=%.3f (integrator=%.3f, derivator=%.3f)",
		s.PValue, s.IValue, s.DValue, s.ControlVariable, s.Integrator, s.Derivator)
}

// Update runs one PID step against measure and returns the control variable. When hysteresis
// freezes the PID (direction both, measure inside the band) the state is untouched and the
// previous control variable is returned with updated == false.
func Update(measure, setpoint float64, gains Gains, state *State) (cv float64, updated bool) {
	eff, ok := CheckHysteresis(measure, setpoint, gains.Band, gains.Direction, state)
	if !ok {
		return state.ControlVariable, false
	}
	if eff != setpoint {
		band := eff
		state.SetpointBand = &band
	} else {
		state.SetpointBand = nil
	}

	state.Error = eff - measure
	state.PValue = gains.Kp * state.Error

	state.Integrator = clamp(state.Integrator+state.Error, gains.IntegratorMin, gains.IntegratorMax)
	state.IValue = state.Integrator * gains.Ki

	if state.FirstUpdate {
		state.Derivator = state.Error
		state.FirstUpdate = false
	}
	state.DValue = gains.Kd * (state.Error - state.Derivator)
	state.Derivator = state.Error

	state.ControlVariable = state.PValue + state.IValue + state.DValue
	return state.ControlVariable, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
