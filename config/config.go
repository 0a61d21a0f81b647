// Package config reads the daemon configuration file and keeps the runtime state PIDs persist
// between restarts.
//
// The file holds daemon settings and every output, input, method and PID. It may be JSON or
// YAML (by extension) and may reference environment variables as ${NAME}.
package config

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/output"
	"go.mycodo.org/mycodo/pid"
)

// Defaults of the daemon settings.
const (
	DefaultStateFile          = "mycodo-state.json"
	DefaultMeasurementHistory = 1000
)

// Daemon holds the settings of the daemon itself.
type Daemon struct {
	// PIDSampleRate is the wake interval of PID loops in seconds, 0.25 when unset.
	PIDSampleRate float64 `json:"pid_sample_rate,omitempty" yaml:"pid_sample_rate,omitempty"`
	// InputSampleRate is the wake interval of input pollers in seconds, 1 when unset.
	InputSampleRate float64 `json:"input_sample_rate,omitempty" yaml:"input_sample_rate,omitempty"`
	// StateFile persists method anchors and runtime PID changes. Relative paths are resolved
	// against the directory of the configuration file.
	StateFile          string                        `json:"state_file,omitempty" yaml:"state_file,omitempty"`
	MeasurementHistory int                           `json:"measurement_history,omitempty" yaml:"measurement_history,omitempty"`
	LogLevel           string                        `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile            *logging.FileAppenderConfig   `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogPatterns        []logging.LoggerPatternConfig `json:"log_patterns,omitempty" yaml:"log_patterns,omitempty"`
}

// Validate checks the daemon settings.
func (d *Daemon) Validate(path string) error {
	var errs error
	if d.PIDSampleRate < 0 || d.InputSampleRate < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: sample rates must not be negative", path))
	}
	if d.MeasurementHistory < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: measurement_history must not be negative", path))
	}
	if d.LogLevel != "" {
		if _, err := logging.LevelFromString(d.LogLevel); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, path))
		}
	}
	if d.LogFile != nil && d.LogFile.Filename == "" {
		errs = multierr.Append(errs, errors.Errorf("%s.log_file: filename is required", path))
	}
	for i, pattern := range d.LogPatterns {
		if err := pattern.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s.log_patterns.%d", path, i))
		}
	}
	return errs
}

// Config is the whole configuration file.
type Config struct {
	Daemon  Daemon           `json:"daemon" yaml:"daemon"`
	Outputs []output.Config  `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Inputs  []input.Config   `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Methods []*method.Method `json:"methods,omitempty" yaml:"methods,omitempty"`
	PIDs    []pid.Config     `json:"pids,omitempty" yaml:"pids,omitempty"`

	// ConfigFilePath is the file the configuration was read from, if any.
	ConfigFilePath string `json:"-" yaml:"-"`
}

// EnsureIDs gives every output, input, method and PID without an id a random one.
func (c *Config) EnsureIDs() {
	for i := range c.Outputs {
		if c.Outputs[i].ID == "" {
			c.Outputs[i].ID = uuid.NewString()
		}
	}
	for i := range c.Inputs {
		if c.Inputs[i].ID == "" {
			c.Inputs[i].ID = uuid.NewString()
		}
	}
	for _, m := range c.Methods {
		if m != nil && m.ID == "" {
			m.ID = uuid.NewString()
		}
	}
	for i := range c.PIDs {
		if c.PIDs[i].ID == "" {
			c.PIDs[i].ID = uuid.NewString()
		}
	}
}

// Output returns the output with the given id.
func (c *Config) Output(id string) (output.Config, bool) {
	return lo.Find(c.Outputs, func(o output.Config) bool { return o.ID == id })
}

// Input returns the input with the given id.
func (c *Config) Input(id string) (input.Config, bool) {
	return lo.Find(c.Inputs, func(in input.Config) bool { return in.ID == id })
}

// Method returns the method with the given id.
func (c *Config) Method(id string) (*method.Method, bool) {
	return lo.Find(c.Methods, func(m *method.Method) bool { return m != nil && m.ID == id })
}

// PID returns the PID with the given id.
func (c *Config) PID(id string) (pid.Config, bool) {
	return lo.Find(c.PIDs, func(p pid.Config) bool { return p.ID == id })
}

// Validate checks every section and the references between them.
func (c *Config) Validate() error {
	errs := c.Daemon.Validate("daemon")

	errs = multierr.Append(errs, duplicates("outputs", lo.Map(c.Outputs, func(o output.Config, _ int) string { return o.ID })))
	errs = multierr.Append(errs, duplicates("inputs", lo.Map(c.Inputs, func(in input.Config, _ int) string { return in.ID })))
	errs = multierr.Append(errs, duplicates("pids", lo.Map(c.PIDs, func(p pid.Config, _ int) string { return p.ID })))
	methodIDs := lo.FilterMap(c.Methods, func(m *method.Method, _ int) (string, bool) { return lo.FromPtr(m).ID, m != nil })
	errs = multierr.Append(errs, duplicates("methods", methodIDs))

	for _, o := range c.Outputs {
		errs = multierr.Append(errs, validateOutput(o))
	}
	for i := range c.Inputs {
		in := c.Inputs[i]
		errs = multierr.Append(errs, in.Validate(fmt.Sprintf("inputs.%s", in.ID)))
	}
	for i, m := range c.Methods {
		if m == nil {
			errs = multierr.Append(errs, errors.Errorf("methods.%d: empty method", i))
			continue
		}
		errs = multierr.Append(errs, m.Validate("methods."+m.ID))
	}
	for i := range c.PIDs {
		errs = multierr.Append(errs, c.validatePID(&c.PIDs[i]))
	}
	return errs
}

func validateOutput(o output.Config) error {
	path := "outputs." + o.ID
	model, ok := output.LookupModel(o.Model)
	if !ok {
		return errors.Errorf("%s: unknown output model %q", path, o.Model)
	}
	_, err := model.Schema.Parse(path+".attributes", o.Attributes)
	return err
}

func (c *Config) validatePID(p *pid.Config) error {
	path := "pids." + p.ID
	errs := p.Validate(path)
	for _, ref := range p.Outputs() {
		o, ok := c.Output(ref.OutputID)
		if !ok {
			errs = multierr.Append(errs, errors.Errorf("%s: unknown output %q", path, ref.OutputID))
			continue
		}
		if model, ok := output.LookupModel(o.Model); ok && !model.Supports(ref.Type) {
			errs = multierr.Append(errs, errors.Errorf("%s: output %q (%s) cannot be driven as %s", path, o.ID, o.Model, ref.Type))
		}
		if ref.Channel < 0 || ref.Channel >= o.ChannelCount() {
			errs = multierr.Append(errs, errors.Errorf("%s: output %q has no channel %d", path, o.ID, ref.Channel))
		}
	}
	if p.Tracking() == pid.TrackMethod && p.SetpointTrackingID != "" {
		if _, ok := c.Method(p.SetpointTrackingID); !ok {
			errs = multierr.Append(errs, errors.Errorf("%s: unknown method %q", path, p.SetpointTrackingID))
		}
	}
	return errs
}

func duplicates(section string, ids []string) error {
	var errs error
	for _, id := range lo.FindDuplicates(ids) {
		errs = multierr.Append(errs, errors.Errorf("%s: duplicate id %q", section, id))
	}
	return errs
}
