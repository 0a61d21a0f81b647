// Package measurement defines where controllers read measurements from and write their own
// samples to, with an in-memory implementation of both.
package measurement

import (
	"context"
	"fmt"
	"time"
)

// Reading is one timestamped value.
type Reading struct {
	Time  time.Time
	Value float64
}

// Source returns the latest reading of a device measurement no older than maxAge. A zero maxAge
// accepts any age. ok is false when there is no such reading.
type Source interface {
	Last(ctx context.Context, deviceID, measurementID string, maxAge time.Duration) (reading Reading, ok bool, err error)
}

// Record is a sample written by a controller or input.
type Record struct {
	DeviceID      string
	MeasurementID string
	Channel       int
	Unit          string
	Value         float64
	// Time defaults to the time of the write.
	Time time.Time
}

// Key returns the measurement id a record is stored under: MeasurementID when set, the channel
// otherwise.
func (r Record) Key() string {
	if r.MeasurementID != "" {
		return r.MeasurementID
	}
	return ChannelKey(r.Channel)
}

// ChannelKey is the measurement id of a channel with no explicit id.
func ChannelKey(channel int) string {
	return fmt.Sprintf("channel_%d", channel)
}

// Sink stores records.
type Sink interface {
	Write(ctx context.Context, record Record) error
}
