// Package daemon runs the control engine: it builds outputs from the configuration, runs one
// controller runtime per active input and PID, and applies configuration changes while running.
package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.mycodo.org/mycodo/config"
	"go.mycodo.org/mycodo/controller"
	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
	"go.mycodo.org/mycodo/output"
	"go.mycodo.org/mycodo/pid"
	"go.mycodo.org/mycodo/utils"
)

// Controller kinds.
const (
	KindInput = "input"
	KindPID   = "pid"
)

var (
	// ErrAlreadyActive is returned when activating a running controller.
	ErrAlreadyActive = errors.New("controller already active")
	// ErrNotActive is returned when addressing a controller that is not running.
	ErrNotActive = errors.New("controller not active")
)

// Params configure a Daemon.
type Params struct {
	Clock  clock.Clock
	Logger logging.Logger
	// Autotuners builds PID autotuners. Nil disables autotuning.
	Autotuners pid.AutotunerFactory
	// AttemptDelay is the delay between retries of output commands.
	AttemptDelay time.Duration
}

type handle struct {
	kind    string
	id      string
	runtime *controller.Runtime
	pid     *pid.PID
}

// Daemon owns every controller.
type Daemon struct {
	clk          clock.Clock
	logger       logging.Logger
	autotuners   pid.AutotunerFactory
	attemptDelay time.Duration

	store        *config.FileStore
	measurements *measurement.Store
	outputs      *output.Manager

	mu      sync.Mutex
	handles map[string]*handle
	workers utils.StoppableWorkers
	closed  bool
}

func handleKey(kind, id string) string {
	return kind + "/" + id
}

// New builds the outputs of cfg. Controllers start with Start.
func New(ctx context.Context, cfg *config.Config, params Params) (*Daemon, error) {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logging.NewLogger("mycodod")
	}
	if err := logging.ApplyLoggerPatterns(cfg.Daemon.LogPatterns); err != nil {
		return nil, err
	}
	store, err := config.NewFileStore(cfg, params.Logger.Sublogger("state"))
	if err != nil {
		return nil, err
	}
	history := cfg.Daemon.MeasurementHistory
	if history == 0 {
		history = config.DefaultMeasurementHistory
	}
	meas := measurement.NewStore(params.Clock, history)
	d := &Daemon{
		clk:          params.Clock,
		logger:       params.Logger,
		autotuners:   params.Autotuners,
		attemptDelay: params.AttemptDelay,
		store:        store,
		measurements: meas,
		outputs: output.NewManager(output.ManagerParams{
			Clock:  params.Clock,
			Logger: params.Logger.Sublogger("output"),
			Sink:   meas,
		}),
		handles: map[string]*handle{},
		workers: utils.NewStoppableWorkers(),
	}
	var errs error
	for _, o := range cfg.Outputs {
		errs = multierr.Append(errs, d.outputs.Add(ctx, o))
	}
	if errs != nil {
		return nil, multierr.Append(errs, d.outputs.Close(ctx))
	}
	return d, nil
}

// Measurements returns the measurement store shared by inputs, PIDs and outputs.
func (d *Daemon) Measurements() *measurement.Store { return d.measurements }

// Outputs returns the output manager.
func (d *Daemon) Outputs() *output.Manager { return d.outputs }

// Store returns the configuration store.
func (d *Daemon) Store() *config.FileStore { return d.store }

// Config returns the configuration in use.
func (d *Daemon) Config() *config.Config { return d.store.Config() }

// Start runs every activated input, then every activated PID.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.store.Config()
	var errs error
	for _, in := range cfg.Inputs {
		if in.Activated {
			errs = multierr.Append(errs, d.startInput(in.ID))
		}
	}
	for _, p := range cfg.PIDs {
		effective, err := d.store.LoadPID(ctx, p.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if effective.Activated {
			errs = multierr.Append(errs, d.startPID(p.ID))
		}
	}
	return errs
}

func (d *Daemon) sampleRate(seconds float64, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds * float64(time.Second))
}

// launch registers h and runs its runtime until it stops.
func (d *Daemon) launch(h *handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("daemon closed")
	}
	key := handleKey(h.kind, h.id)
	if _, ok := d.handles[key]; ok {
		return errors.Wrapf(ErrAlreadyActive, "%s %s", h.kind, h.id)
	}
	d.handles[key] = h
	d.workers.AddWorkers(func(ctx context.Context) {
		if err := h.runtime.Run(ctx); err != nil {
			d.logger.Errorw("controller failed", "kind", h.kind, "id", h.id, "error", err)
		}
		d.mu.Lock()
		if d.handles[key] == h {
			delete(d.handles, key)
		}
		d.mu.Unlock()
	})
	return nil
}

func (d *Daemon) startInput(id string) error {
	logger := d.logger.Sublogger(KindInput).Sublogger(id)
	poller := input.NewPoller(input.PollerParams{
		ID: id, Loader: d.store, Sink: d.measurements, Clock: d.clk, Logger: logger,
	})
	rt := controller.NewRuntime(poller, controller.Params{
		Name:       id,
		SampleRate: d.sampleRate(d.store.Config().Daemon.InputSampleRate, controller.DefaultSampleRate),
		Clock:      d.clk,
		Logger:     logger,
	})
	return d.launch(&handle{kind: KindInput, id: id, runtime: rt})
}

func (d *Daemon) startPID(id string) error {
	logger := d.logger.Sublogger(KindPID).Sublogger(id)
	var rt *controller.Runtime
	p := pid.New(pid.Params{
		ID:           id,
		Store:        d.store,
		Measurements: d.measurements,
		Records:      d.measurements,
		Outputs:      d.outputs,
		Autotuners:   d.autotuners,
		Deactivate: func(ctx context.Context) {
			rt.Stop(ctx)
		},
		AttemptDelay: d.attemptDelay,
		Clock:        d.clk,
		Logger:       logger,
	})
	rt = controller.NewRuntime(p, controller.Params{
		Name:       id,
		SampleRate: d.sampleRate(d.store.Config().Daemon.PIDSampleRate, pid.DefaultSampleRate),
		Clock:      d.clk,
		Logger:     logger,
	})
	return d.launch(&handle{kind: KindPID, id: id, runtime: rt, pid: p})
}

func (d *Daemon) handle(kind, id string) (*handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handles[handleKey(kind, id)]
	return h, ok
}

// stop stops a controller and waits for its shutdown hook.
func (d *Daemon) stop(ctx context.Context, h *handle) error {
	defer utils.SlowLogger(ctx, d.clk, d.logger, "waiting for controller to stop", "kind", h.kind, "id", h.id)()
	h.runtime.Stop(ctx)
	return h.runtime.Wait(ctx)
}

// ActivatePID marks a PID active and starts it.
func (d *Daemon) ActivatePID(ctx context.Context, id string) error {
	if _, ok := d.store.Config().PID(id); !ok {
		return errors.Errorf("no pid %q", id)
	}
	if _, ok := d.handle(KindPID, id); ok {
		return errors.Wrapf(ErrAlreadyActive, "pid %s", id)
	}
	if err := d.store.SetActivated(ctx, id, true); err != nil {
		return err
	}
	return d.startPID(id)
}

// DeactivatePID stops a PID, turns its outputs off and marks it inactive. A tracked method
// starts over on the next activation.
func (d *Daemon) DeactivatePID(ctx context.Context, id string) error {
	h, ok := d.handle(KindPID, id)
	if !ok {
		return errors.Wrapf(ErrNotActive, "pid %s", id)
	}
	h.pid.PrepareDeactivate()
	if err := d.stop(ctx, h); err != nil {
		return err
	}
	return d.store.SetActivated(ctx, id, false)
}

// ActivateInput starts an input. Input activation is not persisted.
func (d *Daemon) ActivateInput(ctx context.Context, id string) error {
	if _, ok := d.store.Config().Input(id); !ok {
		return errors.Errorf("no input %q", id)
	}
	return d.startInput(id)
}

// DeactivateInput stops an input.
func (d *Daemon) DeactivateInput(ctx context.Context, id string) error {
	h, ok := d.handle(KindInput, id)
	if !ok {
		return errors.Wrapf(ErrNotActive, "input %s", id)
	}
	return d.stop(ctx, h)
}

// PID returns a running PID for commands.
func (d *Daemon) PID(id string) (*pid.PID, error) {
	h, ok := d.handle(KindPID, id)
	if !ok {
		return nil, errors.Wrapf(ErrNotActive, "pid %s", id)
	}
	return h.pid, nil
}

// Status describes one running controller.
type Status struct {
	Kind    string
	ID      string
	Running bool
	Ready   bool
	Detail  string
}

// Status returns the state of every running controller, sorted by kind then id.
func (d *Daemon) Status() []Status {
	d.mu.Lock()
	handles := make([]*handle, 0, len(d.handles))
	for _, h := range d.handles {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	out := make([]Status, 0, len(handles))
	for _, h := range handles {
		st := Status{Kind: h.kind, ID: h.id, Running: h.runtime.Running(), Ready: h.runtime.Ready()}
		if h.pid != nil {
			st.Detail = h.pid.Status()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close stops every controller, leaving PIDs marked active and their methods anchored so the
// next start resumes them, then closes the outputs.
func (d *Daemon) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	handles := make([]*handle, 0, len(d.handles))
	for _, h := range d.handles {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		h.runtime.Stop(ctx)
	}
	slow := utils.SlowLogger(ctx, d.clk, d.logger, "waiting for controllers to stop", "count", len(handles))
	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, h.runtime.Wait(ctx))
	}
	slow()
	d.workers.Stop()
	return multierr.Append(errs, d.outputs.Close(ctx))
}
