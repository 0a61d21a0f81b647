package input

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/controller"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
)

// ConfigLoader returns the current configuration of an input.
type ConfigLoader interface {
	LoadInput(ctx context.Context, id string) (Config, error)
}

// PollerParams are the collaborators of a Poller.
type PollerParams struct {
	ID     string
	Loader ConfigLoader
	Sink   measurement.Sink
	Clock  clock.Clock
	Logger logging.Logger
}

// Poller is the controller of one input.
type Poller struct {
	id     string
	loader ConfigLoader
	sink   measurement.Sink
	clk    clock.Clock
	logger logging.Logger

	cfg    Config
	model  Model
	sensor Sensor
	timer  *controller.PeriodTimer
}

var (
	_ controller.Controller = (*Poller)(nil)
	_ controller.Finalizer  = (*Poller)(nil)
)

// NewPoller returns an unconfigured poller.
func NewPoller(params PollerParams) *Poller {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logging.NewLogger("input." + params.ID)
	}
	return &Poller{
		id:     params.ID,
		loader: params.Loader,
		sink:   params.Sink,
		clk:    params.Clock,
		logger: params.Logger,
	}
}

// InitializeVariables loads the configuration and (re)builds the sensor.
func (p *Poller) InitializeVariables(ctx context.Context) error {
	cfg, err := p.loader.LoadInput(ctx, p.id)
	if err != nil {
		return err
	}
	path := "inputs." + p.id
	if err := cfg.Validate(path); err != nil {
		return err
	}
	model, _ := LookupModel(cfg.Model)
	opts, err := model.Schema.Parse(path+".attributes", cfg.Attributes)
	if err != nil {
		return err
	}
	if cfg.LogLevelDebug {
		p.logger.SetLevel(logging.DEBUG)
	} else {
		p.logger.SetLevel(logging.INFO)
	}

	p.closeSensor(ctx)
	sensor, err := model.Constructor(ctx, cfg, opts, p.logger)
	if err != nil {
		return errors.Wrapf(err, "cannot build input %q", p.id)
	}
	p.cfg = cfg
	p.model = model
	p.sensor = sensor
	first := p.clk.Now().Add(time.Duration(cfg.StartOffset * float64(time.Second)))
	p.timer = controller.NewPeriodTimer(first, time.Duration(cfg.Period*float64(time.Second)))
	return nil
}

// Loop reads the sensor when a period is due.
func (p *Poller) Loop(ctx context.Context) error {
	if p.sensor == nil {
		return nil
	}
	now := p.clk.Now()
	if !p.timer.Due(now) {
		return nil
	}
	readings, err := p.sensor.Readings(ctx)
	if err != nil {
		p.logger.Warnw("cannot read sensor", "error", err)
		return nil
	}
	for id, value := range readings {
		rec := measurement.Record{
			DeviceID:      p.id,
			MeasurementID: id,
			Unit:          p.model.Unit(id),
			Value:         value,
			Time:          now,
		}
		if err := p.sink.Write(ctx, rec); err != nil {
			p.logger.Warnw("cannot record", "measurement", id, "error", err)
		}
	}
	p.logger.Debugw("read", "readings", readings)
	return nil
}

// RunFinally closes the sensor.
func (p *Poller) RunFinally(ctx context.Context) {
	p.closeSensor(ctx)
}

func (p *Poller) closeSensor(ctx context.Context) {
	if p.sensor == nil {
		return
	}
	if err := p.sensor.Close(ctx); err != nil {
		p.logger.Warnw("cannot close sensor", "error", err)
	}
	p.sensor = nil
}
