// Package method computes time-varying setpoints. A Method is an ordered list of segments of a
// single Kind; Evaluate returns the setpoint for an instant.
package method

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.mycodo.org/mycodo/logging"
)

// Kind selects the trajectory shape of a Method.
type Kind string

// Method kinds.
const (
	KindDateRange  Kind = "date"
	KindDailyRange Kind = "daily"
	KindSine       Kind = "daily_sine"
	KindBezier     Kind = "daily_bezier"
	KindDuration   Kind = "duration"
)

// ErrUnknownKind is returned for a method kind this package cannot evaluate.
var ErrUnknownKind = errors.New("unknown method kind")

const secondsPerDay = 86400.0

// DateRange interpolates between two setpoints over an absolute time window.
type DateRange struct {
	Start         time.Time `json:"start" yaml:"start"`
	End           time.Time `json:"end" yaml:"end"`
	SetpointStart float64   `json:"setpoint_start" yaml:"setpoint_start"`
	// SetpointEnd defaults to SetpointStart, a flat segment.
	SetpointEnd *float64 `json:"setpoint_end,omitempty" yaml:"setpoint_end,omitempty"`
}

// DailyRange interpolates between two setpoints over a window of the day, "HH:MM:SS".
type DailyRange struct {
	Start         string   `json:"start" yaml:"start"`
	End           string   `json:"end" yaml:"end"`
	SetpointStart float64  `json:"setpoint_start" yaml:"setpoint_start"`
	SetpointEnd   *float64 `json:"setpoint_end,omitempty" yaml:"setpoint_end,omitempty"`
}

// Sine is a sinusoid over the day.
type Sine struct {
	Amplitude  float64 `json:"amplitude" yaml:"amplitude"`
	Frequency  float64 `json:"frequency" yaml:"frequency"`
	ShiftAngle float64 `json:"shift_angle" yaml:"shift_angle"`
	ShiftY     float64 `json:"shift_y" yaml:"shift_y"`
}

// Point is a Bezier control point.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Bezier is a cubic Bezier curve over the day. P0.X maps to the end of the day and P3.X to its
// start.
type Bezier struct {
	ShiftAngle float64 `json:"shift_angle" yaml:"shift_angle"`
	P0         Point   `json:"p0" yaml:"p0"`
	P1         Point   `json:"p1" yaml:"p1"`
	P2         Point   `json:"p2" yaml:"p2"`
	P3         Point   `json:"p3" yaml:"p3"`
}

// DurationSegment lasts DurationSec seconds from the end of the previous one. A zero duration is
// the terminal marker that makes the sequence repeat from the start.
type DurationSegment struct {
	DurationSec   float64  `json:"duration_sec" yaml:"duration_sec"`
	SetpointStart float64  `json:"setpoint_start" yaml:"setpoint_start"`
	SetpointEnd   *float64 `json:"setpoint_end,omitempty" yaml:"setpoint_end,omitempty"`
}

// Method is a setpoint trajectory. Only the segments matching Kind are used.
type Method struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Kind Kind   `json:"kind" yaml:"kind"`

	DateRanges  []DateRange       `json:"date_ranges,omitempty" yaml:"date_ranges,omitempty"`
	DailyRanges []DailyRange      `json:"daily_ranges,omitempty" yaml:"daily_ranges,omitempty"`
	Sine        *Sine             `json:"sine,omitempty" yaml:"sine,omitempty"`
	Bezier      *Bezier           `json:"bezier,omitempty" yaml:"bezier,omitempty"`
	Durations   []DurationSegment `json:"durations,omitempty" yaml:"durations,omitempty"`
}

// Evaluate returns the setpoint at now. anchor is the instant the method was started and only
// matters for KindDuration. A nil setpoint with ended false means the method defines no value at
// now and the caller keeps its default. ended is true once a duration method ran past its last
// segment.
func (m *Method) Evaluate(logger logging.Logger, now, anchor time.Time) (setpoint *float64, ended bool) {
	switch m.Kind {
	case KindDateRange:
		return evaluateDateRange(m.DateRanges, now), false
	case KindDailyRange:
		return evaluateDailyRange(m.DailyRanges, now), false
	case KindSine:
		if m.Sine == nil {
			return nil, false
		}
		v := m.Sine.at(secondsOfDay(now))
		return &v, false
	case KindBezier:
		if m.Bezier == nil {
			return nil, false
		}
		v, err := m.Bezier.at(secondsOfDay(now))
		if err != nil && logger != nil {
			logger.Errorw("bezier curve undefined at this time of day, using 0", "method", m.ID, "error", err)
		}
		return &v, false
	case KindDuration:
		return evaluateDuration(m.Durations, now.Sub(anchor).Seconds())
	}
	if logger != nil {
		logger.Errorw("cannot evaluate method", "method", m.ID, "kind", m.Kind)
	}
	return nil, false
}

// ShouldRestart reports whether a duration method repeats once exhausted.
func (m *Method) ShouldRestart() bool {
	if m.Kind != KindDuration {
		return false
	}
	for _, seg := range m.Durations {
		if seg.DurationSec == 0 {
			return true
		}
	}
	return false
}

// EndTime returns when a method started at start finishes: start plus the total duration of a
// non-repeating duration method, or the latest segment end of a date range method. Other methods
// never end and return the zero time.
func (m *Method) EndTime(start time.Time) time.Time {
	switch m.Kind {
	case KindDuration:
		if m.ShouldRestart() {
			return time.Time{}
		}
		var total float64
		for _, seg := range m.Durations {
			total += seg.DurationSec
		}
		return start.Add(time.Duration(total * float64(time.Second)))
	case KindDateRange:
		var end time.Time
		for _, seg := range m.DateRanges {
			if seg.End.After(end) {
				end = seg.End
			}
		}
		return end
	default:
		return time.Time{}
	}
}

// Validate checks the segments of the method kind.
func (m *Method) Validate(path string) error {
	var errs error
	wrap := func(err error) error { return errors.Wrapf(err, "%s", path) }
	switch m.Kind {
	case KindDateRange:
		if len(m.DateRanges) == 0 {
			return wrap(errors.New("date method needs at least one range"))
		}
		for i, seg := range m.DateRanges {
			if !seg.End.After(seg.Start) {
				errs = multierr.Append(errs, wrap(errors.Errorf("date range %d ends before it starts", i)))
			}
		}
	case KindDailyRange:
		if len(m.DailyRanges) == 0 {
			return wrap(errors.New("daily method needs at least one range"))
		}
		for i, seg := range m.DailyRanges {
			start, err := parseTimeOfDay(seg.Start)
			if err != nil {
				errs = multierr.Append(errs, wrap(errors.Wrapf(err, "daily range %d start", i)))
				continue
			}
			end, err := parseTimeOfDay(seg.End)
			if err != nil {
				errs = multierr.Append(errs, wrap(errors.Wrapf(err, "daily range %d end", i)))
				continue
			}
			if end <= start {
				errs = multierr.Append(errs, wrap(errors.Errorf("daily range %d ends before it starts", i)))
			}
		}
	case KindSine:
		if m.Sine == nil {
			return wrap(errors.New("sine method needs a sine definition"))
		}
	case KindBezier:
		if m.Bezier == nil {
			return wrap(errors.New("bezier method needs control points"))
		}
		if m.Bezier.P0.X == m.Bezier.P3.X {
			errs = multierr.Append(errs, wrap(errors.New("bezier p0.x and p3.x must differ")))
		}
	case KindDuration:
		if len(m.Durations) == 0 {
			return wrap(errors.New("duration method needs at least one segment"))
		}
		for i, seg := range m.Durations {
			switch {
			case seg.DurationSec < 0:
				errs = multierr.Append(errs, wrap(errors.Errorf("duration segment %d is negative", i)))
			case seg.DurationSec == 0 && i != len(m.Durations)-1:
				errs = multierr.Append(errs, wrap(errors.Errorf(
					"duration segment %d: only the last segment may be the repeat marker", i)))
			}
		}
		if len(m.Durations) == 1 && m.Durations[0].DurationSec == 0 {
			errs = multierr.Append(errs, wrap(errors.New("duration method has no timed segment")))
		}
	default:
		return wrap(errors.Wrapf(ErrUnknownKind, "%q", string(m.Kind)))
	}
	return errs
}

// Sample evaluates the method from start to end every step, as if it was started at start.
func (m *Method) Sample(start, end time.Time, step time.Duration) []Sample {
	if step <= 0 {
		return nil
	}
	var samples []Sample
	for now := start; !now.After(end); now = now.Add(step) {
		sp, ended := m.Evaluate(nil, now, start)
		samples = append(samples, Sample{Time: now, Setpoint: sp, Ended: ended})
		if ended {
			break
		}
	}
	return samples
}

// Sample is one evaluated instant.
type Sample struct {
	Time     time.Time
	Setpoint *float64
	Ended    bool
}

func secondsOfDay(now time.Time) float64 {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return now.Sub(midnight).Seconds()
}
