// Package fake is an in-memory input for dry runs and tests. It reports a value that can be set
// at runtime, optionally drifting by a fixed step on every read.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
)

// ModelName is the registered model name.
const ModelName = "fake"

var (
	sensorsMu sync.Mutex
	sensors   = map[string]*Sensor{}
)

func init() {
	input.RegisterModel(input.Model{
		Name:         ModelName,
		Description:  "in-memory input",
		Measurements: []input.Measurement{{ID: "value"}},
		Schema: options.Schema{
			{ID: "value", Name: "Initial value", Type: options.Float, Default: 0.0},
			{ID: "step", Name: "Change per read", Type: options.Float, Default: 0.0},
		},
		Constructor: func(ctx context.Context, cfg input.Config, opts options.Values, logger logging.Logger) (input.Sensor, error) {
			value, _ := opts["value"].(float64)
			step, _ := opts["step"].(float64)
			s := &Sensor{value: value, step: step}
			sensorsMu.Lock()
			sensors[cfg.ID] = s
			sensorsMu.Unlock()
			return s, nil
		},
	})
}

// Lookup returns the sensor most recently built for an input id.
func Lookup(id string) (*Sensor, bool) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()
	s, ok := sensors[id]
	return s, ok
}

// Sensor is an in-memory input.Sensor.
type Sensor struct {
	mu     sync.Mutex
	value  float64
	step   float64
	fail   error
	closed bool
}

// Set changes the reported value.
func (s *Sensor) Set(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

// Fail makes reads return err until called with nil.
func (s *Sensor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Closed reports whether Close was called.
func (s *Sensor) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Readings implements input.Sensor.
func (s *Sensor) Readings(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("fake input closed")
	}
	if s.fail != nil {
		return nil, s.fail
	}
	v := s.value
	s.value += s.step
	return map[string]float64{"value": v}, nil
}

// Close implements input.Sensor.
func (s *Sensor) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
