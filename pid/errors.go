package pid

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError is a missing or malformed PID configuration. It disables only the PID it belongs
// to.
type ConfigError struct {
	ID  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pid %s: invalid configuration: %v", e.ID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrMeasurementUnavailable marks a missing or stale measurement. The PID turns its outputs off
// for the period and tries again on the next one.
var ErrMeasurementUnavailable = errors.New("measurement unavailable")
