// Package input polls sensors. Each input runs as its own controller: every period it reads the
// sensor and writes one record per measurement, which PIDs pick up as their process variable.
package input

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
)

// Measurement is one value a sensor model produces.
type Measurement struct {
	ID   string
	Unit string
}

// Sensor is the hardware side of an input.
type Sensor interface {
	// Readings returns the current value of each measurement, keyed by measurement id.
	Readings(ctx context.Context) (map[string]float64, error)
	Close(ctx context.Context) error
}

// Config is the configuration of one input.
type Config struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Model     string `json:"model" yaml:"model"`
	Activated bool   `json:"activated" yaml:"activated"`
	// Period is the poll period in seconds. StartOffset delays the first read.
	Period      float64                `json:"period" yaml:"period"`
	StartOffset float64                `json:"start_offset,omitempty" yaml:"start_offset,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	LogLevelDebug bool `json:"log_level_debug,omitempty" yaml:"log_level_debug,omitempty"`
}

// Validate checks the configuration against the model catalog.
func (c *Config) Validate(path string) error {
	var errs error
	if c.ID == "" {
		errs = multierr.Append(errs, goutils.NewConfigValidationFieldRequiredError(path, "id"))
	}
	if c.Period <= 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: period must be positive, got %v", path, c.Period))
	}
	if c.StartOffset < 0 {
		errs = multierr.Append(errs, errors.Errorf("%s: start_offset must not be negative", path))
	}
	model, ok := LookupModel(c.Model)
	if !ok {
		return multierr.Append(errs, errors.Errorf("%s: unknown input model %q", path, c.Model))
	}
	if _, err := model.Schema.Parse(path+".attributes", c.Attributes); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Constructor builds a sensor from its parsed options.
type Constructor func(ctx context.Context, cfg Config, opts options.Values, logger logging.Logger) (Sensor, error)

// Model is a registered input model.
type Model struct {
	Name         string
	Description  string
	Measurements []Measurement
	Schema       options.Schema
	Constructor  Constructor
}

// Unit returns the unit of a measurement of the model.
func (m Model) Unit(measurementID string) string {
	meas, _ := lo.Find(m.Measurements, func(meas Measurement) bool { return meas.ID == measurementID })
	return meas.Unit
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
		panic(errors.Errorf("trying to register two input models named %s", model.Name))
	}
	if model.Constructor == nil {
		panic(errors.Errorf("input model %s has no constructor", model.Name))
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
	names := lo.Keys(models)
	slices.Sort(names)
	return names
}
