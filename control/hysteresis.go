package control

// CheckHysteresis returns the setpoint the PID should regulate toward this cycle.
//
// With no band the setpoint is returned as is. For raise or lower, a measure below the band
// targets the top of the band, one above targets the bottom, and one inside targets itself so
// the error is zero. For both, leaving the band on one side targets that edge and latches the
// regime; switching regime resets the integrator and derivator. Inside the band ok is false and
// the PID holds its output.
func CheckHysteresis(measure, setpoint, band float64, direction Direction, state *State) (effective float64, ok bool) {
	if band == 0 {
		return setpoint, true
	}
	bandMin := setpoint - band
	bandMax := setpoint + band

	if direction == Both {
		switch {
		case measure < bandMin:
			if !state.AllowRaising {
				state.Integrator = 0
				state.Derivator = 0
				state.AllowRaising = true
				state.AllowLowering = false
			}
			return bandMin, true
		case measure > bandMax:
			if !state.AllowLowering {
				state.Integrator = 0
				state.Derivator = 0
				state.AllowLowering = true
				state.AllowRaising = false
			}
			return bandMax, true
		default:
			return 0, false
		}
	}

	switch {
	case measure < bandMin:
		return bandMax, true
	case measure > bandMax:
		return bandMin, true
	default:
		return measure, true
	}
}
