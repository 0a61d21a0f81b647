package control

// ControlVarToDutyCycle converts a control variable expressed in seconds of a period into a
// duty cycle percentage in [0, 100].
func ControlVarToDutyCycle(controlVariable, period float64) float64 {
	if period <= 0 {
		return 0
	}
	if controlVariable > period {
		return 100
	}
	return clamp(controlVariable/period*100, 0, 100)
}
