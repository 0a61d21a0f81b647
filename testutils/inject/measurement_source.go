package inject

import (
	"context"
	"time"

	"go.mycodo.org/mycodo/measurement"
)

// MeasurementSource is an injected measurement.Source.
type MeasurementSource struct {
	measurement.Source
	LastFunc func(ctx context.Context, deviceID, measurementID string, maxAge time.Duration) (measurement.Reading, bool, error)
}

// Last calls the injected Last or the real version.
func (s *MeasurementSource) Last(
	ctx context.Context, deviceID, measurementID string, maxAge time.Duration,
) (measurement.Reading, bool, error) {
	if s.LastFunc == nil {
		return s.Source.Last(ctx, deviceID, measurementID, maxAge)
	}
	return s.LastFunc(ctx, deviceID, measurementID, maxAge)
}
