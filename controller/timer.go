package controller

import "time"

// PeriodTimer fires on a fixed phase grid. Missed periods collapse into a single firing and the
// grid never drifts.
type PeriodTimer struct {
	next   time.Time
	period time.Duration
}

// NewPeriodTimer returns a timer first due at first.
func NewPeriodTimer(first time.Time, period time.Duration) *PeriodTimer {
	return &PeriodTimer{next: first, period: period}
}

// Due reports whether the timer fired at now. When it did, the next firing is the first grid
// point strictly after now.
func (p *PeriodTimer) Due(now time.Time) bool {
	if now.Before(p.next) {
		return false
	}
	if p.period <= 0 {
		p.next = now.Add(time.Nanosecond)
		return true
	}
	missed := now.Sub(p.next) / p.period
	p.next = p.next.Add((missed + 1) * p.period)
	return true
}

// Next returns the next firing time.
func (p *PeriodTimer) Next() time.Time { return p.next }

// Period returns the grid spacing.
func (p *PeriodTimer) Period() time.Duration { return p.period }

// Reset moves the grid to start at first with a new period.
func (p *PeriodTimer) Reset(first time.Time, period time.Duration) {
	p.next = first
	p.period = period
}
