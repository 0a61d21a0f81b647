package pid

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.mycodo.org/mycodo/control"
	"go.mycodo.org/mycodo/options"
	"go.mycodo.org/mycodo/output"
)

// SetpointTracking selects where the setpoint comes from.
type SetpointTracking string

// Setpoint tracking modes.
const (
	TrackNone      SetpointTracking = "none"
	TrackMethod    SetpointTracking = "method"
	TrackInputMath SetpointTracking = "input_math"
)

// OutputRef is the output a PID drives in one direction.
type OutputRef struct {
	OutputID string            `json:"output_id" yaml:"output_id"`
	Channel  int               `json:"channel,omitempty" yaml:"channel,omitempty"`
	Type     output.Capability `json:"type" yaml:"type"`
	// MinDuration and MaxDuration bound the amount sent: seconds for on_off, duty cycle percent
	// for pwm, the value for value outputs. Zero disables a bound.
	MinDuration float64 `json:"min_duration,omitempty" yaml:"min_duration,omitempty"`
	MaxDuration float64 `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	// MinOffDuration is passed to the output, which refuses to turn on again sooner.
	MinOffDuration float64 `json:"min_off_duration,omitempty" yaml:"min_off_duration,omitempty"`
	// AlwaysMinPWM keeps a pwm output at MinDuration instead of 0 when there is nothing to do.
	AlwaysMinPWM bool `json:"always_min_pwm,omitempty" yaml:"always_min_pwm,omitempty"`
}

func (ref *OutputRef) validate(path string) error {
	var errs error
	if ref.OutputID == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "output_id"))
	}
	if err := ref.Type.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, path))
	}
	if ref.MinDuration < 0 || ref.MaxDuration < 0 || ref.MinOffDuration < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: durations must not be negative", path))
	}
	if ref.MaxDuration > 0 && ref.MinDuration > ref.MaxDuration {
		errs = multierr.Append(errs, errors.Errorf("%s: min_duration is above max_duration", path))
	}
	return errs
}

// AutotuneConfig enables relay autotuning instead of regulation.
type AutotuneConfig struct {
	Activated bool    `json:"activated,omitempty" yaml:"activated,omitempty"`
	Noiseband float64 `json:"noiseband,omitempty" yaml:"noiseband,omitempty"`
	Outstep   float64 `json:"outstep,omitempty" yaml:"outstep,omitempty"`
}

// Config is the configuration of one PID controller. It is loaded wholesale on every
// (re)initialization.
type Config struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Activated bool   `json:"activated" yaml:"activated"`

	// Measurement is the regulated measurement.
	Measurement options.MeasurementRef `json:"measurement" yaml:"measurement"`
	Unit        string                 `json:"unit,omitempty" yaml:"unit,omitempty"`
	// MaxMeasureAge is the oldest acceptable measurement, in seconds.
	MaxMeasureAge float64 `json:"max_measure_age" yaml:"max_measure_age"`

	Setpoint      float64 `json:"setpoint" yaml:"setpoint"`
	control.Gains `yaml:",inline"`

	// Period is the control period in seconds. StartOffset delays the first period.
	Period      float64 `json:"period" yaml:"period"`
	StartOffset float64 `json:"start_offset,omitempty" yaml:"start_offset,omitempty"`

	Raise *OutputRef `json:"raise,omitempty" yaml:"raise,omitempty"`
	Lower *OutputRef `json:"lower,omitempty" yaml:"lower,omitempty"`
	// StoreLowerAsNegative records lower amounts as negative numbers. SendLowerAsNegative sends
	// them negative to value outputs.
	StoreLowerAsNegative bool `json:"store_lower_as_negative,omitempty" yaml:"store_lower_as_negative,omitempty"`
	SendLowerAsNegative  bool `json:"send_lower_as_negative,omitempty" yaml:"send_lower_as_negative,omitempty"`

	SetpointTracking SetpointTracking `json:"setpoint_tracking,omitempty" yaml:"setpoint_tracking,omitempty"`
	// SetpointTrackingID is a method id, or "device,measurement" for input_math.
	SetpointTrackingID     string  `json:"setpoint_tracking_id,omitempty" yaml:"setpoint_tracking_id,omitempty"`
	SetpointTrackingMaxAge float64 `json:"setpoint_tracking_max_age,omitempty" yaml:"setpoint_tracking_max_age,omitempty"`

	Autotune AutotuneConfig `json:"autotune,omitempty" yaml:"autotune,omitempty"`

	LogLevelDebug bool `json:"log_level_debug,omitempty" yaml:"log_level_debug,omitempty"`

	// Held and Paused are set by the hold and pause commands and restored on restart.
	Held   bool `json:"held,omitempty" yaml:"held,omitempty"`
	Paused bool `json:"paused,omitempty" yaml:"paused,omitempty"`
}

// Tracking returns the setpoint tracking mode, TrackNone when unset.
func (c *Config) Tracking() SetpointTracking {
	if c.SetpointTracking == "" {
		return TrackNone
	}
	return c.SetpointTracking
}

// Outputs returns the output references used by the configured direction.
func (c *Config) Outputs() []*OutputRef {
	var refs []*OutputRef
	if c.Direction.Raises() && c.Raise != nil {
		refs = append(refs, c.Raise)
	}
	if c.Direction.Lowers() && c.Lower != nil {
		refs = append(refs, c.Lower)
	}
	return refs
}

// Validate checks the configuration. path prefixes error messages.
func (c *Config) Validate(path string) error {
	var errs error
	if c.ID == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "id"))
	}
	if c.Measurement.DeviceID == "" || c.Measurement.MeasurementID == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "measurement"))
	}
	if c.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period must be positive, got %v", path, c.Period))
	}
	if c.MaxMeasureAge < 0 || c.StartOffset < 0 || c.SetpointTrackingMaxAge < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: ages and offsets must not be negative", path))
	}
	if err := c.Gains.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, path))
	}
	if c.Direction.Raises() {
		if c.Raise == nil {
			errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "raise"))
		} else {
			errs = multierr.Append(errs, c.Raise.validate(path+".raise"))
		}
	}
	if c.Direction.Lowers() {
		if c.Lower == nil {
			errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "lower"))
		} else {
			errs = multierr.Append(errs, c.Lower.validate(path+".lower"))
		}
	}
	switch c.Tracking() {
	case TrackNone:
	case TrackMethod:
		if c.SetpointTrackingID == "" {
			errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "setpoint_tracking_id"))
		}
	case TrackInputMath:
		if _, err := options.ParseMeasurementRef(c.SetpointTrackingID); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s.setpoint_tracking_id", path))
		}
	default:
		errs = multierr.Append(errs, errors.Errorf("%s: unknown setpoint_tracking %q", path, c.SetpointTracking))
	}
	if c.Autotune.Activated && c.Autotune.Outstep <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: autotune outstep must be positive", path))
	}
	return errs
}
