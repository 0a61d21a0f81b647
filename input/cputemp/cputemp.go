// Package cputemp reads the SoC temperature the kernel exposes in sysfs.
package cputemp

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
)

// ModelName is the registered model name.
const ModelName = "cpu_temperature"

// DefaultPath is the thermal zone of the SoC on a Raspberry Pi.
const DefaultPath = "/sys/class/thermal/thermal_zone0/temp"

// MeasurementID is the id of the only measurement.
const MeasurementID = "temperature"

func init() {
	input.RegisterModel(input.Model{
		Name:         ModelName,
		Description:  "CPU temperature from sysfs",
		Measurements: []input.Measurement{{ID: MeasurementID, Unit: "C"}},
		Schema: options.Schema{
			{ID: "path", Name: "Thermal zone file", Type: options.Text, Default: DefaultPath},
		},
		Constructor: func(ctx context.Context, cfg input.Config, opts options.Values, logger logging.Logger) (input.Sensor, error) {
			path, _ := opts["path"].(string)
			return New(path), nil
		},
	})
}

// Sensor reads a thermal zone file holding millidegrees Celsius.
type Sensor struct {
	path string
}

// New returns a Sensor reading path.
func New(path string) *Sensor {
	if path == "" {
		path = DefaultPath
	}
	return &Sensor{path: path}
}

// Readings implements input.Sensor.
func (s *Sensor) Readings(ctx context.Context) (map[string]float64, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read cpu temperature")
	}
	milli, err := cast.ToFloat64E(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, errors.Wrapf(err, "unexpected content in %s", s.path)
	}
	return map[string]float64{MeasurementID: milli / 1000}, nil
}

// Close implements input.Sensor.
func (s *Sensor) Close(ctx context.Context) error {
	return nil
}
