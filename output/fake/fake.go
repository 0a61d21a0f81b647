// Package fake is an in-memory output model supporting every capability. It is used for dry runs
// and tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
	"go.mycodo.org/mycodo/output"
)

// ModelName is the registered model name.
const ModelName = "fake"

func init() {
	output.RegisterModel(output.Model{
		Name:         ModelName,
		Description:  "in-memory output that only logs",
		Capabilities: []output.Capability{output.OnOff, output.PWM, output.Volume, output.Value},
		Schema: options.Schema{
			{ID: "flow_rate", Name: "Flow rate (ml/s)", Type: options.Float, Default: 1.0, Min: options.Bound(1e-6)},
		},
		Constructor: func(ctx context.Context, cfg output.Config, opts options.Values, logger logging.Logger) (output.Driver, error) {
			flow, _ := opts["flow_rate"].(float64)
			return NewDriver(logger, flow), nil
		},
	})
}

// Call is one recorded driver call. Off calls have a zero Command.
type Call struct {
	Channel int
	Off     bool
	Command output.Command
}

// Driver records every call.
type Driver struct {
	mu       sync.Mutex
	logger   logging.Logger
	flowRate float64
	calls    []Call
	closed   bool
	// FailNext makes the next n Apply calls fail.
	failNext int
}

// NewDriver returns a Driver dosing at flowRate ml/s.
func NewDriver(logger logging.Logger, flowRate float64) *Driver {
	if flowRate <= 0 {
		flowRate = 1
	}
	return &Driver{logger: logger, flowRate: flowRate}
}

// Apply implements output.Driver.
func (d *Driver) Apply(ctx context.Context, channel int, cmd output.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fake output closed")
	}
	if d.failNext > 0 {
		d.failNext--
		return errors.New("fake output failure")
	}
	d.calls = append(d.calls, Call{Channel: channel, Command: cmd})
	d.logger.Debugw("fake output applied", "channel", channel, "command", cmd.String())
	return nil
}

// Off implements output.Driver.
func (d *Driver) Off(ctx context.Context, channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Channel: channel, Off: true})
	return nil
}

// Close implements output.Driver.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// DoseDuration implements output.Doser.
func (d *Driver) DoseDuration(ml float64) time.Duration {
	return time.Duration(ml / d.flowRate * float64(time.Second))
}

// FailNext makes the next n Apply calls fail.
func (d *Driver) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// Calls returns a copy of the recorded calls.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
