// Package options parses the custom options of output and input models. Each model declares a
// Schema; user supplied attributes are checked against it, coerced to the declared types, and
// decoded into the model's typed options struct.
package options

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// FieldType is the type of an option.
type FieldType string

// Option types.
const (
	Integer           FieldType = "integer"
	Float             FieldType = "float"
	Bool              FieldType = "bool"
	Text              FieldType = "text"
	Select            FieldType = "select"
	SelectMeasurement FieldType = "select_measurement"
	SelectDevice      FieldType = "select_device"
)

// Field declares one option.
type Field struct {
	ID          string
	Name        string
	Type        FieldType
	Default     interface{}
	Required    bool
	Description string
	// Choices are the allowed values of a Select field.
	Choices []string
	// Min and Max bound numeric fields when set.
	Min *float64
	Max *float64
}

// Schema is the list of options of a model.
type Schema []Field

// MeasurementRef selects one measurement of one device. Its text form is "device,measurement".
type MeasurementRef struct {
	DeviceID      string `json:"device_id" yaml:"device_id"`
	MeasurementID string `json:"measurement_id" yaml:"measurement_id"`
}

func (ref MeasurementRef) String() string {
	return ref.DeviceID + "," + ref.MeasurementID
}

// ParseMeasurementRef parses "device,measurement".
func ParseMeasurementRef(s string) (MeasurementRef, error) {
	device, meas, found := strings.Cut(s, ",")
	device = strings.TrimSpace(device)
	meas = strings.TrimSpace(meas)
	if !found || device == "" || meas == "" {
		return MeasurementRef{}, errors.Errorf("invalid measurement selection %q, want \"device,measurement\"", s)
	}
	return MeasurementRef{DeviceID: device, MeasurementID: meas}, nil
}

// Values are parsed options keyed by field id.
type Values map[string]interface{}

// Parse checks attrs against the schema and returns coerced values with defaults filled in.
// Unknown attributes are errors. path prefixes error messages.
func (s Schema) Parse(path string, attrs map[string]interface{}) (Values, error) {
	var errs error
	out := Values{}
	known := map[string]bool{}
	for _, field := range s {
		known[field.ID] = true
		raw, present := attrs[field.ID]
		if !present || raw == nil {
			if field.Required && field.Default == nil {
				errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, field.ID))
				continue
			}
			if field.Default == nil {
				continue
			}
			raw = field.Default
		}
		val, err := field.coerce(raw)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "%s.%s", path, field.ID))
			continue
		}
		out[field.ID] = val
	}
	for id := range attrs {
		if !known[id] {
			errs = multierr.Append(errs, errors.Errorf("%s: unknown option %q", path, id))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func (f Field) coerce(raw interface{}) (interface{}, error) {
	switch f.Type {
	case Integer:
		v, err := cast.ToIntE(raw)
		if err != nil {
			return nil, err
		}
		return v, f.checkRange(float64(v))
	case Float:
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, err
		}
		return v, f.checkRange(v)
	case Bool:
		return cast.ToBoolE(raw)
	case Text, SelectDevice:
		return cast.ToStringE(raw)
	case Select:
		v, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		for _, choice := range f.Choices {
			if v == choice {
				return v, nil
			}
		}
		return nil, errors.Errorf("%q is not one of %v", v, f.Choices)
	case SelectMeasurement:
		switch typed := raw.(type) {
		case MeasurementRef:
			return typed, nil
		case map[string]interface{}:
			var ref MeasurementRef
			decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &ref, TagName: "json"})
			if err != nil {
				return nil, err
			}
			if err := decoder.Decode(typed); err != nil {
				return nil, err
			}
			if ref.DeviceID == "" || ref.MeasurementID == "" {
				return nil, errors.New("measurement selection needs device_id and measurement_id")
			}
			return ref, nil
		}
		v, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		return ParseMeasurementRef(v)
	}
	return nil, errors.Errorf("unknown option type %q", f.Type)
}

func (f Field) checkRange(v float64) error {
	if f.Min != nil && v < *f.Min {
		return errors.Errorf("%v is below the minimum %v", v, *f.Min)
	}
	if f.Max != nil && v > *f.Max {
		return errors.Errorf("%v is above the maximum %v", v, *f.Max)
	}
	return nil
}

// Decode parses attrs and decodes the values into out, a pointer to a struct whose fields are
// tagged `json:"<field id>"`.
func (s Schema) Decode(path string, attrs map[string]interface{}, out interface{}) error {
	values, err := s.Parse(path, attrs)
	if err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(values)); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}

// Describe renders the schema for the CLI.
func (s Schema) Describe() []string {
	lines := make([]string, 0, len(s))
	for _, f := range s {
		line := fmt.Sprintf("%s (%s)", f.ID, f.Type)
		if f.Required {
			line += " required"
		}
		if f.Default != nil {
			line += fmt.Sprintf(" default=%v", f.Default)
		}
		if len(f.Choices) > 0 {
			line += fmt.Sprintf(" choices=%s", strings.Join(f.Choices, "|"))
		}
		if f.Description != "" {
			line += ": " + f.Description
		}
		lines = append(lines, line)
	}
	return lines
}

// Bound returns a pointer to v, for Field.Min and Field.Max.
func Bound(v float64) *float64 { return &v }
