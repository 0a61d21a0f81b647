// Package pid is the PID controller: it resolves a setpoint (fixed, method trajectory or
// another measurement), reads the regulated measurement, runs the PID math once per control
// period and drives its raise and lower outputs, recording every term of the computation.
package pid

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.mycodo.org/mycodo/control"
	"go.mycodo.org/mycodo/controller"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/options"
)

// DefaultSampleRate is the wake interval of a PID runtime. The control period is configured
// separately and is usually much longer.
const DefaultSampleRate = 250 * time.Millisecond

// Params are the collaborators of a PID.
type Params struct {
	ID           string
	Store        ConfigStore
	Measurements measurement.Source
	Records      measurement.Sink
	Outputs      OutputSink
	// Autotuners builds the autotuner when autotuning is activated. Nil disables autotuning.
	Autotuners AutotunerFactory
	// Deactivate is called when the PID stops itself: a finished method or autotune. It must not
	// block on the loop.
	Deactivate   func(ctx context.Context)
	AttemptDelay time.Duration
	Clock        clock.Clock
	Logger       logging.Logger
}

// PID is one PID controller.
type PID struct {
	id           string
	store        ConfigStore
	measurements measurement.Source
	records      measurement.Sink
	outputs      OutputSink
	autotuners   AutotunerFactory
	deactivate   func(ctx context.Context)
	attemptDelay time.Duration
	clk          clock.Clock
	logger       logging.Logger

	mu          sync.Mutex
	configured  bool
	cfg         Config
	state       *control.State
	method      *method.Method
	anchor      MethodAnchor
	timer       *controller.PeriodTimer
	autotuner   Autotuner
	held        bool
	paused      bool
	stopping    bool
	setpoint    *float64
	lastMeasure *measurement.Reading
	lastSuccess bool
}

var (
	_ controller.Controller = (*PID)(nil)
	_ controller.PreStopper = (*PID)(nil)
	_ controller.Finalizer  = (*PID)(nil)
)

// New returns an unconfigured PID. The runtime configures it through InitializeVariables.
func New(params Params) *PID {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logging.NewLogger("pid." + params.ID)
	}
	if params.AttemptDelay <= 0 {
		params.AttemptDelay = controller.DefaultAttemptDelay
	}
	return &PID{
		id:           params.ID,
		store:        params.Store,
		measurements: params.Measurements,
		records:      params.Records,
		outputs:      params.Outputs,
		autotuners:   params.Autotuners,
		deactivate:   params.Deactivate,
		attemptDelay: params.AttemptDelay,
		clk:          params.Clock,
		logger:       params.Logger,
		state:        control.NewState(),
	}
}

// ID returns the PID id.
func (p *PID) ID() string { return p.id }

// InitializeVariables loads the configuration and resets the PID state. Hold and pause are
// restored from the configuration store.
func (p *PID) InitializeVariables(ctx context.Context) error {
	p.mu.Lock()
	p.stopping = false
	p.mu.Unlock()

	cfg, err := p.store.LoadPID(ctx, p.id)
	if err != nil {
		return p.unconfigure(&ConfigError{ID: p.id, Err: err})
	}
	if err := cfg.Validate("pids." + p.id); err != nil {
		return p.unconfigure(&ConfigError{ID: p.id, Err: err})
	}
	for _, ref := range cfg.Outputs() {
		caps, err := p.outputs.Capabilities(ref.OutputID)
		if err != nil {
			return p.unconfigure(&ConfigError{ID: p.id, Err: err})
		}
		if !lo.Contains(caps, ref.Type) {
			return p.unconfigure(&ConfigError{
				ID:  p.id,
				Err: errors.Errorf("output %q cannot be driven as %s", ref.OutputID, ref.Type),
			})
		}
	}

	if cfg.LogLevelDebug {
		p.logger.SetLevel(logging.DEBUG)
	} else {
		p.logger.SetLevel(logging.INFO)
	}

	now := p.clk.Now()
	var (
		m      *method.Method
		anchor MethodAnchor
	)
	if cfg.Tracking() == TrackMethod {
		if m, anchor, err = p.loadMethod(ctx, cfg.SetpointTrackingID, now); err != nil {
			return p.unconfigure(&ConfigError{ID: p.id, Err: err})
		}
	}

	var tuner Autotuner
	if cfg.Autotune.Activated {
		tuner, err = p.newAutotuner(cfg)
		if err != nil {
			p.logger.Errorw("cannot start autotune", "error", err)
			p.autotuneOff(ctx)
			p.deactivateSelf(ctx)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.state.Reset()
	p.method = m
	p.anchor = anchor
	p.autotuner = tuner
	p.setpoint = nil
	p.held, p.paused = cfg.Held, cfg.Paused
	switch {
	case cfg.Paused:
		p.logger.Info("starting paused")
	case cfg.Held:
		p.logger.Info("starting held")
	}
	first := now.Add(secondsToDuration(cfg.StartOffset))
	p.timer = controller.NewPeriodTimer(first, secondsToDuration(cfg.Period))
	p.configured = true
	p.logger.Debugw("pid initialized",
		"measurement", cfg.Measurement.String(), "direction", cfg.Direction, "period", cfg.Period,
		"tracking", cfg.Tracking(), "first_period", first)
	return nil
}

func (p *PID) unconfigure(err error) error {
	p.mu.Lock()
	p.configured = false
	p.mu.Unlock()
	return err
}

// loadMethod loads a method and its anchor, starting it at now when it has no anchor yet.
func (p *PID) loadMethod(ctx context.Context, methodID string, now time.Time) (*method.Method, MethodAnchor, error) {
	m, err := p.store.LoadMethod(ctx, methodID)
	if err != nil {
		return nil, MethodAnchor{}, err
	}
	if err := m.Validate("methods." + methodID); err != nil {
		return nil, MethodAnchor{}, err
	}
	anchor, err := p.store.LoadMethodAnchor(ctx, p.id)
	if err != nil {
		return nil, MethodAnchor{}, err
	}
	if anchor.Start.IsZero() {
		anchor = MethodAnchor{Start: now, End: m.EndTime(now)}
		if err := p.store.PersistMethodAnchor(ctx, p.id, anchor.Start, anchor.End); err != nil {
			return nil, MethodAnchor{}, err
		}
	}
	return m, anchor, nil
}

func (p *PID) newAutotuner(cfg Config) (Autotuner, error) {
	if p.autotuners == nil {
		return nil, errors.New("no autotuner available")
	}
	if cfg.Raise == nil {
		return nil, errors.New("autotune needs a raise output")
	}
	return p.autotuners(cfg.Autotune, cfg.Setpoint, secondsToDuration(cfg.Period))
}

// Loop runs a control period when one is due.
func (p *PID) Loop(ctx context.Context) error {
	p.mu.Lock()
	if !p.configured || p.stopping {
		p.mu.Unlock()
		return nil
	}
	now := p.clk.Now()
	if !p.timer.Due(now) {
		p.mu.Unlock()
		return nil
	}
	if p.paused {
		p.mu.Unlock()
		p.logger.Debug("paused, skipping period")
		return nil
	}
	if p.autotuner != nil {
		p.mu.Unlock()
		p.autotuneStep(ctx, now)
		return nil
	}
	p.mu.Unlock()

	setpoint, terminal := p.resolveSetpoint(ctx, now)
	if terminal {
		return nil
	}

	reading, err := p.readMeasurement(ctx)
	if err != nil {
		p.mu.Lock()
		p.lastSuccess = false
		p.mu.Unlock()
		p.logger.Warnw("turning outputs off", "error", err)
		p.allOff(ctx)
		return nil
	}

	p.mu.Lock()
	p.lastMeasure = &reading
	p.lastSuccess = true
	p.setpoint = setpoint
	if setpoint == nil {
		p.mu.Unlock()
		p.logger.Debug("no setpoint, actuation suspended")
		return nil
	}
	if !p.held {
		control.Update(reading.Value, *setpoint, p.cfg.Gains, p.state)
	}
	plan := p.planLocked(*setpoint)
	p.mu.Unlock()

	p.logger.Debugw("period",
		"measurement", reading.Value, "setpoint", *setpoint, "output", plan.controlVariable,
		"p", plan.p, "i", plan.i, "d", plan.d, "held", plan.held)
	p.execute(ctx, now, plan)
	return nil
}

// resolveSetpoint returns the setpoint of this period. terminal is true when a finished method
// deactivated the PID.
func (p *PID) resolveSetpoint(ctx context.Context, now time.Time) (setpoint *float64, terminal bool) {
	p.mu.Lock()
	cfg := p.cfg
	m := p.method
	anchor := p.anchor
	p.mu.Unlock()

	switch cfg.Tracking() {
	case TrackMethod:
		sp, ended := m.Evaluate(p.logger, now, anchor.Start)
		if ended {
			if !m.ShouldRestart() {
				p.logger.Warnw("method ended, the pid must be reactivated", "method", m.ID)
				p.clearAnchor(ctx)
				p.deactivateSelf(ctx)
				return nil, true
			}
			anchor = MethodAnchor{Start: now, End: m.EndTime(now)}
			if err := p.store.PersistMethodAnchor(ctx, p.id, anchor.Start, anchor.End); err != nil {
				p.logger.Errorw("cannot persist method start", "error", err)
			}
			p.mu.Lock()
			p.anchor = anchor
			p.mu.Unlock()
			p.logger.Infow("method restarted", "method", m.ID)
			sp, _ = m.Evaluate(p.logger, now, anchor.Start)
		}
		if sp == nil {
			return lo.ToPtr(cfg.Setpoint), false
		}
		return sp, false
	case TrackInputMath:
		ref, err := options.ParseMeasurementRef(cfg.SetpointTrackingID)
		if err != nil {
			return nil, false
		}
		reading, ok, err := p.measurements.Last(ctx, ref.DeviceID, ref.MeasurementID, secondsToDuration(cfg.SetpointTrackingMaxAge))
		if err != nil || !ok {
			p.logger.Warnw("no recent setpoint measurement", "measurement", ref.String(), "error", err)
			return nil, false
		}
		return lo.ToPtr(reading.Value), false
	default:
		return lo.ToPtr(cfg.Setpoint), false
	}
}

func (p *PID) readMeasurement(ctx context.Context) (measurement.Reading, error) {
	p.mu.Lock()
	ref := p.cfg.Measurement
	maxAge := secondsToDuration(p.cfg.MaxMeasureAge)
	p.mu.Unlock()

	var (
		reading measurement.Reading
		ok      bool
		lastErr error
	)
	// A failing source is retried. A missing or stale reading is an answer, not a failure.
	read := func(ctx context.Context) error {
		reading, ok, lastErr = p.measurements.Last(ctx, ref.DeviceID, ref.MeasurementID, maxAge)
		return lastErr
	}
	if !p.attempt(ctx, read) {
		return measurement.Reading{}, errors.Wrapf(ErrMeasurementUnavailable, "%s: %v", ref.String(), lastErr)
	}
	if !ok {
		return measurement.Reading{}, errors.Wrapf(ErrMeasurementUnavailable, "%s: none in the last %s", ref.String(), maxAge)
	}
	return reading, nil
}

func (p *PID) autotuneStep(ctx context.Context, now time.Time) {
	reading, err := p.readMeasurement(ctx)
	if err != nil {
		p.logger.Warnw("autotune: turning outputs off", "error", err)
		p.allOff(ctx)
		return
	}
	p.mu.Lock()
	tuner := p.autotuner
	p.lastMeasure = &reading
	p.lastSuccess = true
	p.mu.Unlock()

	step, err := tuner.Step(now, reading.Value)
	if err != nil {
		p.logger.Errorw("autotune failed", "error", err)
		p.stopAutotune(ctx)
		return
	}
	if step.Converged {
		p.logger.Info("autotune finished")
		for _, rule := range step.Rules {
			p.logger.Infow("autotune gains", "rule", rule.Name, "kp", rule.Gains.Kp, "ki", rule.Gains.Ki, "kd", rule.Gains.Kd)
		}
		p.stopAutotune(ctx)
		return
	}

	p.mu.Lock()
	p.state.ControlVariable = step.Output
	plan := p.planLocked(p.cfg.Setpoint)
	p.mu.Unlock()
	p.execute(ctx, now, plan)
}

func (p *PID) stopAutotune(ctx context.Context) {
	p.mu.Lock()
	p.autotuner = nil
	p.cfg.Autotune.Activated = false
	p.mu.Unlock()
	p.autotuneOff(ctx)
	p.allOff(ctx)
	p.deactivateSelf(ctx)
}

func (p *PID) autotuneOff(ctx context.Context) {
	if err := p.store.UpdatePID(ctx, p.id, func(cfg *Config) { cfg.Autotune.Activated = false }); err != nil {
		p.logger.Errorw("cannot deactivate autotune", "error", err)
	}
}

func (p *PID) clearAnchor(ctx context.Context) {
	if err := p.store.PersistMethodAnchor(ctx, p.id, time.Time{}, time.Time{}); err != nil {
		p.logger.Errorw("cannot clear method start", "error", err)
	}
	p.mu.Lock()
	p.anchor = MethodAnchor{}
	p.mu.Unlock()
}

// deactivateSelf marks the PID inactive and asks its owner to stop it.
func (p *PID) deactivateSelf(ctx context.Context) {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
	if err := p.store.SetActivated(ctx, p.id, false); err != nil {
		p.logger.Errorw("cannot mark pid inactive", "error", err)
	}
	if p.deactivate != nil {
		p.deactivate(ctx)
	}
}

// PrepareDeactivate marks the next stop as a user deactivation: the method anchor is cleared so
// the next activation starts the method over. A plain daemon shutdown keeps the anchor.
func (p *PID) PrepareDeactivate() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
}

// PreStop clears the method anchor of a deactivated PID.
func (p *PID) PreStop(ctx context.Context) {
	p.mu.Lock()
	reset := p.stopping && p.configured && p.cfg.Tracking() == TrackMethod
	p.mu.Unlock()
	if reset {
		p.clearAnchor(ctx)
	}
}

// RunFinally turns off the outputs of the configured direction.
func (p *PID) RunFinally(ctx context.Context) {
	p.allOff(ctx)
}

func (p *PID) allOff(ctx context.Context) {
	p.mu.Lock()
	refs := p.cfg.Outputs()
	p.mu.Unlock()
	for _, ref := range refs {
		ref := ref
		p.attempt(ctx, func(ctx context.Context) error {
			return p.outputs.Off(ctx, ref.OutputID, ref.Channel)
		})
	}
}

func (p *PID) attempt(ctx context.Context, op func(context.Context) error) bool {
	return controller.AttemptExecute(ctx, p.clk, p.logger, op, controller.DefaultAttempts, p.attemptDelay)
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
