package pid

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/control"
	"go.mycodo.org/mycodo/measurement"
)

// Hold keeps actuating the last control variable without updating the PID.
func (p *PID) Hold(ctx context.Context) error {
	p.logger.Info("held")
	return p.setMode(ctx, true, false)
}

// Pause stops updating and actuating until Resume.
func (p *PID) Pause(ctx context.Context) error {
	p.logger.Info("paused")
	return p.setMode(ctx, false, true)
}

// Resume ends a hold or pause.
func (p *PID) Resume(ctx context.Context) error {
	p.logger.Info("resumed")
	return p.setMode(ctx, false, false)
}

func (p *PID) setMode(ctx context.Context, held, paused bool) error {
	p.mu.Lock()
	p.held, p.paused = held, paused
	p.cfg.Held, p.cfg.Paused = held, paused
	p.mu.Unlock()
	return p.store.UpdatePID(ctx, p.id, func(cfg *Config) {
		cfg.Held, cfg.Paused = held, paused
	})
}

// SetSetpoint changes the fixed setpoint and stores it.
func (p *PID) SetSetpoint(ctx context.Context, setpoint float64) error {
	p.mu.Lock()
	p.cfg.Setpoint = setpoint
	p.mu.Unlock()
	p.logger.Infow("setpoint changed", "setpoint", setpoint)
	return p.store.UpdatePID(ctx, p.id, func(cfg *Config) { cfg.Setpoint = setpoint })
}

// SetMethod starts tracking a method from now. An empty id returns to the fixed setpoint.
func (p *PID) SetMethod(ctx context.Context, methodID string) error {
	now := p.clk.Now()
	if methodID == "" {
		if err := p.store.PersistMethodAnchor(ctx, p.id, time.Time{}, time.Time{}); err != nil {
			return err
		}
		p.mu.Lock()
		p.cfg.SetpointTracking = TrackNone
		p.cfg.SetpointTrackingID = ""
		p.method = nil
		p.anchor = MethodAnchor{}
		p.mu.Unlock()
		return p.store.UpdatePID(ctx, p.id, func(cfg *Config) {
			cfg.SetpointTracking = TrackNone
			cfg.SetpointTrackingID = ""
		})
	}

	if err := p.store.PersistMethodAnchor(ctx, p.id, time.Time{}, time.Time{}); err != nil {
		return err
	}
	m, anchor, err := p.loadMethod(ctx, methodID, now)
	if err != nil {
		return errors.Wrapf(err, "cannot track method %q", methodID)
	}
	p.mu.Lock()
	p.cfg.SetpointTracking = TrackMethod
	p.cfg.SetpointTrackingID = methodID
	p.method = m
	p.anchor = anchor
	p.state.Reset()
	p.mu.Unlock()
	p.logger.Infow("tracking method", "method", methodID, "start", anchor.Start)
	return p.store.UpdatePID(ctx, p.id, func(cfg *Config) {
		cfg.SetpointTracking = TrackMethod
		cfg.SetpointTrackingID = methodID
	})
}

// SetIntegrator overwrites the integrator.
func (p *PID) SetIntegrator(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Integrator = v
}

// SetDerivator overwrites the derivator.
func (p *PID) SetDerivator(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Derivator = v
}

// SetKp changes the proportional gain and stores it.
func (p *PID) SetKp(ctx context.Context, v float64) error {
	return p.setGain(ctx, "kp", v, func(g *control.Gains) { g.Kp = v })
}

// SetKi changes the integral gain and stores it.
func (p *PID) SetKi(ctx context.Context, v float64) error {
	return p.setGain(ctx, "ki", v, func(g *control.Gains) { g.Ki = v })
}

// SetKd changes the derivative gain and stores it.
func (p *PID) SetKd(ctx context.Context, v float64) error {
	return p.setGain(ctx, "kd", v, func(g *control.Gains) { g.Kd = v })
}

func (p *PID) setGain(ctx context.Context, name string, v float64, set func(*control.Gains)) error {
	p.mu.Lock()
	set(&p.cfg.Gains)
	p.mu.Unlock()
	p.logger.Infow("gain changed", name, v)
	return p.store.UpdatePID(ctx, p.id, func(cfg *Config) { set(&cfg.Gains) })
}

// Snapshot is the observable state of a PID.
type Snapshot struct {
	ID                     string
	Held                   bool
	Paused                 bool
	Setpoint               *float64
	SetpointBand           *float64
	Gains                  control.Gains
	Integrator             float64
	Derivator              float64
	Error                  float64
	PValue, IValue, DValue float64
	ControlVariable        float64
	LastMeasurement        *measurement.Reading
	LastMeasurementSuccess bool
	Method                 string
	MethodStart            time.Time
	MethodEnd              time.Time
	Autotuning             bool
}

// Snapshot returns the current state.
func (p *PID) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := Snapshot{
		ID:                     p.id,
		Held:                   p.held,
		Paused:                 p.paused,
		Gains:                  p.cfg.Gains,
		Integrator:             p.state.Integrator,
		Derivator:              p.state.Derivator,
		Error:                  p.state.Error,
		PValue:                 p.state.PValue,
		IValue:                 p.state.IValue,
		DValue:                 p.state.DValue,
		ControlVariable:        p.state.ControlVariable,
		LastMeasurementSuccess: p.lastSuccess,
		Autotuning:             p.autotuner != nil,
	}
	if p.setpoint != nil {
		v := *p.setpoint
		snap.Setpoint = &v
	}
	if p.state.SetpointBand != nil {
		v := *p.state.SetpointBand
		snap.SetpointBand = &v
	}
	if p.lastMeasure != nil {
		r := *p.lastMeasure
		snap.LastMeasurement = &r
	}
	if p.method != nil {
		snap.Method = p.method.ID
		snap.MethodStart = p.anchor.Start
		snap.MethodEnd = p.anchor.End
	}
	return snap
}

// Status renders the state in one line.
func (p *PID) Status() string {
	snap := p.Snapshot()
	mode := "active"
	switch {
	case snap.Paused:
		mode = "paused"
	case snap.Held:
		mode = "held"
	case snap.Autotuning:
		mode = "autotuning"
	}
	setpoint := "none"
	if snap.Setpoint != nil {
		setpoint = fmt.Sprintf("%.3f", *snap.Setpoint)
	}
	p.mu.Lock()
	terms := p.state.Status()
	p.mu.Unlock()
	return fmt.Sprintf("%s setpoint=%s %s", mode, setpoint, terms)
}
