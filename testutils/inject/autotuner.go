package inject

import (
	"time"

	"go.mycodo.org/mycodo/pid"
)

// Autotuner is an injected pid.Autotuner.
type Autotuner struct {
	pid.Autotuner
	StepFunc func(now time.Time, measurement float64) (pid.AutotuneStep, error)
}

// Step calls the injected Step or the real version.
func (a *Autotuner) Step(now time.Time, measurement float64) (pid.AutotuneStep, error) {
	if a.StepFunc == nil {
		return a.Autotuner.Step(now, measurement)
	}
	return a.StepFunc(now, measurement)
}
