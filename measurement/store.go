package measurement

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DefaultHistory is the number of readings a Store keeps per measurement.
const DefaultHistory = 1024

type seriesKey struct {
	device      string
	measurement string
}

type series struct {
	unit     string
	readings []Reading
}

// Store is a bounded in-memory Source and Sink.
type Store struct {
	mu      sync.RWMutex
	clk     clock.Clock
	limit   int
	series  map[seriesKey]*series
	writers []func(Record)
}

// NewStore returns a Store keeping up to history readings per measurement.
func NewStore(clk clock.Clock, history int) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &Store{clk: clk, limit: history, series: map[seriesKey]*series{}}
}

// OnWrite registers fn to be called after every write.
func (s *Store) OnWrite(fn func(Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writers = append(s.writers, fn)
}

// Write appends a record, dropping the oldest reading past the history limit.
func (s *Store) Write(ctx context.Context, record Record) error {
	if record.DeviceID == "" {
		return errors.New("record has no device id")
	}
	if record.Time.IsZero() {
		record.Time = s.clk.Now()
	}
	key := seriesKey{record.DeviceID, record.Key()}

	s.mu.Lock()
	ser, ok := s.series[key]
	if !ok {
		ser = &series{}
		s.series[key] = ser
	}
	ser.unit = record.Unit
	ser.readings = append(ser.readings, Reading{Time: record.Time, Value: record.Value})
	if over := len(ser.readings) - s.limit; over > 0 {
		ser.readings = append([]Reading(nil), ser.readings[over:]...)
	}
	writers := s.writers
	s.mu.Unlock()

	for _, fn := range writers {
		fn(record)
	}
	return nil
}

// Last implements Source.
func (s *Store) Last(ctx context.Context, deviceID, measurementID string, maxAge time.Duration) (Reading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[seriesKey{deviceID, measurementID}]
	if !ok || len(ser.readings) == 0 {
		return Reading{}, false, nil
	}
	last := ser.readings[len(ser.readings)-1]
	if maxAge > 0 && s.clk.Since(last.Time) > maxAge {
		return Reading{}, false, nil
	}
	return last, true, nil
}

// History returns the readings of a measurement taken at or after since, oldest first.
func (s *Store) History(deviceID, measurementID string, since time.Time) []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[seriesKey{deviceID, measurementID}]
	if !ok {
		return nil
	}
	return lo.Filter(ser.readings, func(r Reading, _ int) bool {
		return !r.Time.Before(since)
	})
}

// Unit returns the unit last written for a measurement.
func (s *Store) Unit(deviceID, measurementID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.series[seriesKey{deviceID, measurementID}]; ok {
		return ser.unit
	}
	return ""
}

// Measurements returns the measurement ids stored for a device.
func (s *Store) Measurements(deviceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := lo.Filter(lo.Keys(s.series), func(k seriesKey, _ int) bool { return k.device == deviceID })
	return lo.Map(keys, func(k seriesKey, _ int) string { return k.measurement })
}
