package output

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
)

// State is the last commanded state of one output channel.
type State struct {
	On      bool
	Command Command
	OnSince time.Time
	// OnUntil is when a timed command ends. Zero for untimed commands.
	OnUntil time.Time
	// OffUntil is the end of the minimum off time of the last activation.
	OffUntil time.Time
}

type channelState struct {
	State
	timer *clock.Timer
	// gen invalidates a scheduled off when the channel was commanded again.
	gen uint64
}

type managedOutput struct {
	mu       sync.Mutex
	cfg      Config
	model    Model
	driver   Driver
	channels []*channelState
}

// ManagerParams configure a Manager.
type ManagerParams struct {
	Clock  clock.Clock
	Logger logging.Logger
	// Sink, when set, receives a record for every state change.
	Sink measurement.Sink
}

// Manager owns every configured output and its state. It is safe for concurrent use by several
// controllers.
type Manager struct {
	mu      sync.RWMutex
	clk     clock.Clock
	logger  logging.Logger
	sink    measurement.Sink
	outputs map[string]*managedOutput
}

// NewManager returns an empty Manager.
func NewManager(params ManagerParams) *Manager {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logging.NewLogger("output")
	}
	return &Manager{
		clk:     params.Clock,
		logger:  params.Logger,
		sink:    params.Sink,
		outputs: map[string]*managedOutput{},
	}
}

// Add builds the driver of cfg and takes ownership of it. An existing output with the same id
// is replaced.
func (m *Manager) Add(ctx context.Context, cfg Config) error {
	model, ok := LookupModel(cfg.Model)
	if !ok {
		return errors.Errorf("output %s: unknown model %q", cfg.ID, cfg.Model)
	}
	opts, err := model.Schema.Parse("outputs."+cfg.ID+".attributes", cfg.Attributes)
	if err != nil {
		return err
	}
	logger := m.logger.Sublogger(cfg.ID)
	driver, err := model.Constructor(ctx, cfg, opts, logger)
	if err != nil {
		return errors.Wrapf(err, "output %s", cfg.ID)
	}
	out := &managedOutput{cfg: cfg, model: model, driver: driver}
	for i := 0; i < cfg.ChannelCount(); i++ {
		out.channels = append(out.channels, &channelState{})
	}
	if cfg.OffAtStart {
		for ch := range out.channels {
			if err := driver.Off(ctx, ch); err != nil {
				logger.Warnw("could not turn output off at start", "channel", ch, "error", err)
			}
		}
	}

	m.mu.Lock()
	old := m.outputs[cfg.ID]
	m.outputs[cfg.ID] = out
	m.mu.Unlock()
	if old != nil {
		return m.shutdown(ctx, old)
	}
	return nil
}

// Remove turns an output off and closes its driver.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	out, ok := m.outputs[id]
	delete(m.outputs, id)
	m.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownOutput, id)
	}
	return m.shutdown(ctx, out)
}

// Close turns every output off and closes the drivers.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	outputs := m.outputs
	m.outputs = map[string]*managedOutput{}
	m.mu.Unlock()

	var errs error
	for _, out := range outputs {
		errs = multierr.Append(errs, m.shutdown(ctx, out))
	}
	return errs
}

func (m *Manager) shutdown(ctx context.Context, out *managedOutput) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	var errs error
	for ch, st := range out.channels {
		m.cancelTimer(st)
		if st.On {
			errs = multierr.Append(errs, out.driver.Off(ctx, ch))
			st.On = false
		}
	}
	return multierr.Append(errs, out.driver.Close(ctx))
}

func (m *Manager) get(id string, channel int) (*managedOutput, error) {
	m.mu.RLock()
	out, ok := m.outputs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrUnknownOutput, id)
	}
	if channel < 0 || channel >= len(out.channels) {
		return nil, errors.Errorf("output %s has no channel %d", id, channel)
	}
	return out, nil
}

// Capabilities returns what the model of output id supports.
func (m *Manager) Capabilities(id string) ([]Capability, error) {
	out, err := m.get(id, 0)
	if err != nil {
		return nil, err
	}
	return append([]Capability(nil), out.model.Capabilities...), nil
}

// State returns the state of one channel.
func (m *Manager) State(id string, channel int) (State, error) {
	out, err := m.get(id, channel)
	if err != nil {
		return State{}, err
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.channels[channel].State, nil
}

// IDs returns the ids of every output.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.outputs))
	for id := range m.outputs {
		ids = append(ids, id)
	}
	return ids
}

// On drives a channel to cmd. Timed commands (durations, and volumes on dosing drivers) are
// turned off on the Manager clock; a running timed command is only ever extended. minOff keeps
// the channel from turning on again until minOff after the command ends; while that window is
// open On returns ErrMinOffActive.
func (m *Manager) On(ctx context.Context, id string, channel int, cmd Command, minOff time.Duration) error {
	out, err := m.get(id, channel)
	if err != nil {
		return err
	}
	if !out.model.Supports(cmd.Kind) {
		return errors.Wrapf(ErrUnsupported, "output %s (%s) cannot take %s", id, out.model.Name, cmd.Kind)
	}
	if cmd.Kind != Value && cmd.Amount < 0 {
		return errors.Errorf("output %s: negative amount %v", id, cmd.Amount)
	}
	if cmd.Kind == PWM && cmd.Amount > 100 {
		cmd.Amount = 100
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	st := out.channels[channel]
	now := m.clk.Now()

	if !st.On && now.Before(st.OffUntil) {
		return errors.Wrapf(ErrMinOffActive, "output %s channel %d until %s", id, channel,
			st.OffUntil.Format(time.RFC3339))
	}
	if (cmd.Kind == PWM || cmd.Kind == Volume) && cmd.Amount == 0 {
		return m.off(ctx, out, channel)
	}

	var runFor time.Duration
	switch cmd.Kind {
	case OnOff:
		runFor = secondsToDuration(cmd.Amount)
	case Volume:
		if doser, ok := out.driver.(Doser); ok {
			runFor = doser.DoseDuration(cmd.Amount)
		}
	case PWM, Value:
	}

	if runFor > 0 && st.On && st.Command.Kind == cmd.Kind && st.OnUntil.After(now.Add(runFor)) {
		m.logger.CDebugw(ctx, "output already on for longer, keeping it", "output", id, "channel", channel,
			"until", st.OnUntil)
		return nil
	}

	if err := out.driver.Apply(ctx, channel, cmd); err != nil {
		return errors.Wrapf(err, "output %s channel %d", id, channel)
	}

	m.cancelTimer(st)
	if !st.On {
		st.OnSince = now
	}
	st.On = true
	st.Command = cmd
	st.OnUntil = time.Time{}
	if runFor > 0 {
		st.OnUntil = now.Add(runFor)
		gen := st.gen
		st.timer = m.clk.AfterFunc(runFor, func() { m.autoOff(id, channel, gen) })
		if minOff > 0 {
			st.OffUntil = st.OnUntil.Add(minOff)
		}
	}
	m.logger.CDebugw(ctx, "output on", "output", id, "channel", channel, "command", cmd.String())
	m.record(ctx, id, channel, cmd.Kind.Unit(), cmd.Amount, now)
	return nil
}

// Off turns a channel off.
func (m *Manager) Off(ctx context.Context, id string, channel int) error {
	out, err := m.get(id, channel)
	if err != nil {
		return err
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	return m.off(ctx, out, channel)
}

func (m *Manager) off(ctx context.Context, out *managedOutput, channel int) error {
	st := out.channels[channel]
	m.cancelTimer(st)
	if err := out.driver.Off(ctx, channel); err != nil {
		return errors.Wrapf(err, "output %s channel %d", out.cfg.ID, channel)
	}
	wasOn := st.On
	st.On = false
	st.OnUntil = time.Time{}
	if wasOn {
		m.record(ctx, out.cfg.ID, channel, st.Command.Kind.Unit(), 0, m.clk.Now())
	}
	return nil
}

func (m *Manager) autoOff(id string, channel int, gen uint64) {
	m.mu.RLock()
	out, ok := m.outputs[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	st := out.channels[channel]
	if st.gen != gen || !st.On {
		return
	}
	ctx := context.Background()
	if err := m.off(ctx, out, channel); err != nil {
		m.logger.Errorw("timed output could not be turned off", "output", id, "channel", channel, "error", err)
		return
	}
	m.logger.Debugw("timed output finished", "output", id, "channel", channel)
}

func (m *Manager) cancelTimer(st *channelState) {
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (m *Manager) record(ctx context.Context, id string, channel int, unit string, value float64, at time.Time) {
	if m.sink == nil {
		return
	}
	err := m.sink.Write(ctx, measurement.Record{DeviceID: id, Channel: channel, Unit: unit, Value: value, Time: at})
	if err != nil {
		m.logger.Warnw("could not record output state", "output", id, "error", err)
	}
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
