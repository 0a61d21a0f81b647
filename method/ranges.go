package method

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

func interpolate(start float64, end *float64, frac float64) float64 {
	if end == nil {
		return start
	}
	return start + (*end-start)*frac
}

func evaluateDateRange(segments []DateRange, now time.Time) *float64 {
	for _, seg := range segments {
		if now.Before(seg.Start) || now.After(seg.End) {
			continue
		}
		span := seg.End.Sub(seg.Start).Seconds()
		frac := 0.0
		if span > 0 {
			frac = now.Sub(seg.Start).Seconds() / span
		}
		v := interpolate(seg.SetpointStart, seg.SetpointEnd, frac)
		return &v
	}
	return nil
}

// Daily ranges compare time of day only, so every instant is projected to the same reference
// day.
func evaluateDailyRange(segments []DailyRange, now time.Time) *float64 {
	tod := secondsOfDay(now)
	for _, seg := range segments {
		start, err := parseTimeOfDay(seg.Start)
		if err != nil {
			continue
		}
		end, err := parseTimeOfDay(seg.End)
		if err != nil {
			continue
		}
		if tod < start || tod > end {
			continue
		}
		frac := 0.0
		if end > start {
			frac = (tod - start) / (end - start)
		}
		v := interpolate(seg.SetpointStart, seg.SetpointEnd, frac)
		return &v
	}
	return nil
}

func evaluateDuration(segments []DurationSegment, elapsed float64) (*float64, bool) {
	var previous, total float64
	for _, seg := range segments {
		if seg.DurationSec == 0 {
			continue
		}
		total += seg.DurationSec
		if previous <= elapsed && elapsed < total {
			v := interpolate(seg.SetpointStart, seg.SetpointEnd, (elapsed-previous)/seg.DurationSec)
			return &v, false
		}
		previous = total
	}
	if elapsed >= total {
		return nil, true
	}
	// Negative elapsed: the anchor is in the future.
	return nil, false
}

var timeOfDayLayouts = []string{"15:04:05", "15:04"}

// parseTimeOfDay returns seconds since midnight.
func parseTimeOfDay(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, errors.Errorf("invalid time of day %q, want HH:MM:SS", s)
}
