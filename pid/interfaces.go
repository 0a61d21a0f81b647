package pid

import (
	"context"
	"time"

	"go.mycodo.org/mycodo/control"
	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/output"
)

// MethodAnchor is when the tracked method was started, and when it ends if it does.
type MethodAnchor struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// ConfigStore holds PID configuration and the state that must survive a restart.
type ConfigStore interface {
	LoadPID(ctx context.Context, id string) (Config, error)
	// UpdatePID applies mutate to the stored configuration of a PID.
	UpdatePID(ctx context.Context, id string, mutate func(*Config)) error
	LoadMethod(ctx context.Context, id string) (*method.Method, error)
	LoadMethodAnchor(ctx context.Context, pidID string) (MethodAnchor, error)
	// PersistMethodAnchor stores the anchor. A zero start clears it.
	PersistMethodAnchor(ctx context.Context, pidID string, start, end time.Time) error
	SetActivated(ctx context.Context, pidID string, activated bool) error
}

// OutputSink drives outputs. Commands are absolute so repeating one is harmless.
type OutputSink interface {
	On(ctx context.Context, id string, channel int, cmd output.Command, minOff time.Duration) error
	Off(ctx context.Context, id string, channel int) error
	Capabilities(id string) ([]output.Capability, error)
}

// TuningRule is one set of gains derived by an autotuner.
type TuningRule struct {
	Name  string
	Gains control.Gains
}

// AutotuneStep is the outcome of feeding one measurement to an autotuner. Until Converged the
// PID drives its raise output with Output.
type AutotuneStep struct {
	Converged bool
	Output    float64
	Rules     []TuningRule
}

// Autotuner is a relay feedback autotuner.
type Autotuner interface {
	Step(now time.Time, measurement float64) (AutotuneStep, error)
}

// AutotunerFactory builds an autotuner for a PID regulating toward setpoint.
type AutotunerFactory func(cfg AutotuneConfig, setpoint float64, period time.Duration) (Autotuner, error)
