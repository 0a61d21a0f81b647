// Package output is the catalog of output models and the Manager that owns actuator state.
//
// A model declares the capabilities its driver supports. Controllers only talk to the Manager,
// which checks the requested capability, enforces minimum off times and turns timed outputs off
// again on its clock.
package output

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
)

// Capability is a way an output can be driven.
type Capability string

// Output capabilities.
const (
	// OnOff outputs switch on for a duration in seconds. A zero duration means until turned off.
	OnOff Capability = "on_off"
	// PWM outputs take a duty cycle percentage.
	PWM Capability = "pwm"
	// Volume outputs dispense an amount in milliliters.
	Volume Capability = "volume"
	// Value outputs take an arbitrary number.
	Value Capability = "value"
)

// Validate returns an error for an unknown capability.
func (c Capability) Validate() error {
	switch c {
	case OnOff, PWM, Volume, Value:
		return nil
	}
	return errors.Errorf("unknown output type %q", string(c))
}

// Unit returns the unit of command amounts for c.
func (c Capability) Unit() string {
	switch c {
	case OnOff:
		return "s"
	case PWM:
		return "percent"
	case Volume:
		return "ml"
	default:
		return "none"
	}
}

// Command is an absolute request: the state it describes replaces whatever the output was doing.
type Command struct {
	Kind   Capability
	Amount float64
}

// Duration returns an OnOff command for secs seconds.
func Duration(secs float64) Command { return Command{Kind: OnOff, Amount: secs} }

// DutyCycle returns a PWM command.
func DutyCycle(pct float64) Command { return Command{Kind: PWM, Amount: pct} }

// Dispense returns a Volume command.
func Dispense(ml float64) Command { return Command{Kind: Volume, Amount: ml} }

// SetValue returns a Value command.
func SetValue(v float64) Command { return Command{Kind: Value, Amount: v} }

func (c Command) String() string {
	return fmt.Sprintf("%s=%g%s", c.Kind, c.Amount, c.Kind.Unit())
}

// Driver is the hardware side of an output.
type Driver interface {
	// Apply drives the channel to the command. Timed commands are turned off by the Manager.
	Apply(ctx context.Context, channel int, cmd Command) error
	Off(ctx context.Context, channel int) error
	Close(ctx context.Context) error
}

// Doser is implemented by volume drivers that dispense by running for a while. The Manager uses
// it to schedule the off.
type Doser interface {
	DoseDuration(ml float64) time.Duration
}

// Config is the configuration of one output.
type Config struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Model      string                 `json:"model" yaml:"model"`
	Channels   int                    `json:"channels,omitempty" yaml:"channels,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// OffAtStart turns every channel off when the output is added.
	OffAtStart bool `json:"off_at_start,omitempty" yaml:"off_at_start,omitempty"`
}

// ChannelCount returns the number of channels, at least one.
func (c Config) ChannelCount() int {
	if c.Channels < 1 {
		return 1
	}
	return c.Channels
}

// Constructor builds a driver from its parsed options.
type Constructor func(ctx context.Context, cfg Config, opts options.Values, logger logging.Logger) (Driver, error)

// Model is a registered output model.
type Model struct {
	Name         string
	Description  string
	Capabilities []Capability
	Schema       options.Schema
	Constructor  Constructor
}

// Supports reports whether the model has capability c.
func (m Model) Supports(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

var (
	modelsMu sync.RWMutex
	models   = map[string]Model{}
)

// RegisterModel adds a model to the catalog. Registering a name twice panics.
func RegisterModel(model Model) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	if _, old := models[model.Name]; old {
		panic(errors.Errorf("trying to register two output models named %s", model.Name))
	}
	if model.Constructor == nil {
		panic(errors.Errorf("output model %s has no constructor", model.Name))
	}
	models[model.Name] = model
}

// LookupModel returns the model registered under name.
func LookupModel(name string) (Model, bool) {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	m, ok := models[name]
	return m, ok
}

// RegisteredModels returns the sorted names of every registered model.
func RegisteredModels() []string {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
