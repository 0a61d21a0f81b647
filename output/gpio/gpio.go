// Package gpio registers output models driving GPIO pins through periph.io: a relay, a hardware
// PWM pin and a peristaltic pump dosing by run time.
package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
	"go.mycodo.org/mycodo/output"
)

// Model names.
const (
	OnOffModel = "gpio_on_off"
	PWMModel   = "gpio_pwm"
	PumpModel  = "gpio_pump"
)

var hostInit sync.Once

// initHost loads the periph host drivers once. A failure is logged and pins already known to
// gpioreg stay usable.
func initHost(logger logging.Logger) {
	hostInit.Do(func() {
		if _, err := host.Init(); err != nil {
			logger.Warnw("periph host initialization failed", "error", err)
		}
	})
}

func pinByName(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin named %q", name)
	}
	return pin, nil
}

func init() {
	output.RegisterModel(output.Model{
		Name:         OnOffModel,
		Description:  "relay or other on/off load on a GPIO pin",
		Capabilities: []output.Capability{output.OnOff},
		Schema: options.Schema{
			{ID: "pin", Name: "Pin", Type: options.Text, Required: true, Description: "periph pin name, e.g. GPIO17"},
			{ID: "active_high", Name: "On state", Type: options.Bool, Default: true},
		},
		Constructor: newSwitch,
	})
	output.RegisterModel(output.Model{
		Name:         PWMModel,
		Description:  "hardware PWM on a GPIO pin",
		Capabilities: []output.Capability{output.PWM},
		Schema: options.Schema{
			{ID: "pin", Name: "Pin", Type: options.Text, Required: true},
			{ID: "frequency", Name: "Frequency (Hz)", Type: options.Integer, Default: 1000, Min: options.Bound(1)},
			{ID: "invert", Name: "Invert signal", Type: options.Bool, Default: false},
		},
		Constructor: newPWM,
	})
	output.RegisterModel(output.Model{
		Name:         PumpModel,
		Description:  "peristaltic pump switched by a GPIO pin, dosing by run time",
		Capabilities: []output.Capability{output.OnOff, output.Volume},
		Schema: options.Schema{
			{ID: "pin", Name: "Pin", Type: options.Text, Required: true},
			{ID: "active_high", Name: "On state", Type: options.Bool, Default: true},
			{
				ID: "flow_rate", Name: "Flow rate (ml/min)", Type: options.Float, Required: true,
				Min: options.Bound(0.001),
			},
		},
		Constructor: newPump,
	})
}

type switchOptions struct {
	Pin        string  `json:"pin"`
	ActiveHigh bool    `json:"active_high"`
	FlowRate   float64 `json:"flow_rate"`
}

// Switch drives one pin high or low.
type Switch struct {
	mu     sync.Mutex
	pin    gpio.PinIO
	on     gpio.Level
	logger logging.Logger
}

func decode(cfg output.Config, opts options.Values, out interface{}) error {
	model, _ := output.LookupModel(cfg.Model)
	attrs := map[string]interface{}{}
	for k, v := range opts {
		attrs[k] = v
	}
	return model.Schema.Decode("outputs."+cfg.ID+".attributes", attrs, out)
}

func newSwitch(ctx context.Context, cfg output.Config, opts options.Values, logger logging.Logger) (output.Driver, error) {
	var so switchOptions
	if err := decode(cfg, opts, &so); err != nil {
		return nil, err
	}
	initHost(logger)
	pin, err := pinByName(so.Pin)
	if err != nil {
		return nil, err
	}
	return NewSwitch(pin, so.ActiveHigh, logger), nil
}

// NewSwitch returns a Switch on pin.
func NewSwitch(pin gpio.PinIO, activeHigh bool, logger logging.Logger) *Switch {
	on := gpio.High
	if !activeHigh {
		on = gpio.Low
	}
	return &Switch{pin: pin, on: on, logger: logger}
}

// Apply switches the pin on. Durations are timed by the output manager.
func (s *Switch) Apply(ctx context.Context, channel int, cmd output.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin.Out(s.on)
}

// Off switches the pin off.
func (s *Switch) Off(ctx context.Context, channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin.Out(!s.on)
}

// Close leaves the pin off.
func (s *Switch) Close(ctx context.Context) error {
	return s.Off(ctx, 0)
}

// Pump is a Switch that doses by running at a known flow rate.
type Pump struct {
	*Switch
	mlPerSecond float64
}

func newPump(ctx context.Context, cfg output.Config, opts options.Values, logger logging.Logger) (output.Driver, error) {
	var so switchOptions
	if err := decode(cfg, opts, &so); err != nil {
		return nil, err
	}
	initHost(logger)
	pin, err := pinByName(so.Pin)
	if err != nil {
		return nil, err
	}
	return NewPump(pin, so.ActiveHigh, so.FlowRate, logger), nil
}

// NewPump returns a pump on pin with a flow rate in ml/min.
func NewPump(pin gpio.PinIO, activeHigh bool, mlPerMinute float64, logger logging.Logger) *Pump {
	return &Pump{Switch: NewSwitch(pin, activeHigh, logger), mlPerSecond: mlPerMinute / 60}
}

// DoseDuration implements output.Doser.
func (p *Pump) DoseDuration(ml float64) time.Duration {
	if p.mlPerSecond <= 0 {
		return 0
	}
	return time.Duration(ml / p.mlPerSecond * float64(time.Second))
}

// Apply runs the pump. Volumes are converted to run time by the output manager.
func (p *Pump) Apply(ctx context.Context, channel int, cmd output.Command) error {
	if cmd.Kind == output.Volume {
		p.logger.Debugw("dispensing", "ml", cmd.Amount, "seconds", p.DoseDuration(cmd.Amount).Seconds())
	}
	return p.Switch.Apply(ctx, channel, cmd)
}

type pwmOptions struct {
	Pin       string `json:"pin"`
	Frequency int    `json:"frequency"`
	Invert    bool   `json:"invert"`
}

// PWM drives a hardware PWM pin.
type PWM struct {
	mu     sync.Mutex
	pin    gpio.PinIO
	freq   physic.Frequency
	invert bool
}

func newPWM(ctx context.Context, cfg output.Config, opts options.Values, logger logging.Logger) (output.Driver, error) {
	var po pwmOptions
	if err := decode(cfg, opts, &po); err != nil {
		return nil, err
	}
	initHost(logger)
	pin, err := pinByName(po.Pin)
	if err != nil {
		return nil, err
	}
	return NewPWM(pin, po.Frequency, po.Invert), nil
}

// NewPWM returns a PWM output on pin at freqHz.
func NewPWM(pin gpio.PinIO, freqHz int, invert bool) *PWM {
	return &PWM{pin: pin, freq: physic.Frequency(freqHz) * physic.Hertz, invert: invert}
}

func (p *PWM) set(pct float64) error {
	if p.invert {
		pct = 100 - pct
	}
	duty := gpio.Duty(pct / 100 * float64(gpio.DutyMax))
	if err := p.pin.PWM(duty, p.freq); err != nil {
		return errors.Wrapf(err, "pin %s does not support hardware PWM", p.pin.Name())
	}
	return nil
}

// Apply sets the duty cycle.
func (p *PWM) Apply(ctx context.Context, channel int, cmd output.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set(cmd.Amount)
}

// Off sets a zero duty cycle.
func (p *PWM) Off(ctx context.Context, channel int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set(0)
}

// Close stops the PWM.
func (p *PWM) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.set(0); err != nil {
		return err
	}
	return p.pin.Halt()
}
