package pid

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"go.mycodo.org/mycodo/control"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/measurement"
	"go.mycodo.org/mycodo/output"
)

// Record channels of a PID.
const (
	ChannelSetpoint = iota
	ChannelBandMin
	ChannelBandMax
	ChannelP
	ChannelI
	ChannelD
	ChannelDuration
	ChannelDutyCycle
	ChannelVolume
	ChannelValue
)

func outputChannel(kind output.Capability) int {
	switch kind {
	case output.OnOff:
		return ChannelDuration
	case output.PWM:
		return ChannelDutyCycle
	case output.Volume:
		return ChannelVolume
	default:
		return ChannelValue
	}
}

type action struct {
	ref OutputRef
	cmd output.Command
}

// plan is what one period does, computed under the lock and executed outside it.
type plan struct {
	setpoint        float64
	band            float64
	controlVariable float64
	p, i, d         float64
	held            bool
	debug           bool
	unit            string
	actions         []action
	amounts         map[int]float64
	units           map[int]string
}

func (p *PID) planLocked(setpoint float64) plan {
	cv := p.state.ControlVariable
	pl := plan{
		setpoint:        setpoint,
		band:            p.cfg.Band,
		controlVariable: cv,
		p:               p.state.PValue,
		i:               p.state.IValue,
		d:               p.state.DValue,
		held:            p.held,
		debug:           p.cfg.LogLevelDebug,
		unit:            p.cfg.Unit,
		amounts:         map[int]float64{},
		units:           map[int]string{},
	}
	if p.cfg.Direction.Raises() && p.cfg.Raise != nil {
		act, amount := p.directionAction(*p.cfg.Raise, cv, false)
		if act != nil {
			pl.actions = append(pl.actions, *act)
		}
		ch := outputChannel(p.cfg.Raise.Type)
		pl.amounts[ch] = amount
		pl.units[ch] = p.cfg.Raise.Type.Unit()
	}
	if p.cfg.Direction.Lowers() && p.cfg.Lower != nil {
		act, amount := p.directionAction(*p.cfg.Lower, -cv, true)
		if act != nil {
			pl.actions = append(pl.actions, *act)
		}
		ch := outputChannel(p.cfg.Lower.Type)
		if _, shared := pl.amounts[ch]; !shared || cv < 0 {
			pl.amounts[ch] = amount
			pl.units[ch] = p.cfg.Lower.Type.Unit()
		}
	}
	return pl
}

// directionAction returns the command for one direction given the control variable seen from
// that direction, and the amount to record.
func (p *PID) directionAction(ref OutputRef, magnitude float64, lower bool) (*action, float64) {
	var (
		cmd    output.Command
		amount float64
		send   bool
	)
	switch ref.Type {
	case output.PWM:
		if magnitude > 0 {
			amount = control.ControlVarToDutyCycle(magnitude, p.cfg.Period)
			if ref.MinDuration > 0 && amount < ref.MinDuration {
				amount = ref.MinDuration
			}
			if ref.MaxDuration > 0 && amount > ref.MaxDuration {
				amount = ref.MaxDuration
			}
			cmd, send = output.DutyCycle(amount), true
		} else if !ref.AlwaysMinPWM {
			// Off, unless the output is to stay at the duty it was last given.
			cmd, send = output.DutyCycle(0), true
		}
	case output.OnOff:
		if magnitude > 0 {
			amount = capAt(magnitude, ref.MaxDuration)
			if amount > ref.MinDuration {
				cmd, send = output.Duration(amount), true
			} else {
				amount = 0
			}
		}
	case output.Volume:
		if magnitude > 0 {
			amount = magnitude
			cmd, send = output.Dispense(amount), true
		}
	case output.Value:
		if magnitude > 0 {
			amount = capAt(magnitude, ref.MaxDuration)
			if amount >= ref.MinDuration {
				sent := amount
				if lower && p.cfg.SendLowerAsNegative {
					sent = -sent
				}
				cmd, send = output.SetValue(sent), true
			} else {
				amount = 0
			}
		}
	}
	if lower && p.cfg.StoreLowerAsNegative {
		amount = -amount
	}
	if !send {
		return nil, amount
	}
	return &action{ref: ref, cmd: cmd}, amount
}

func capAt(v, max float64) float64 {
	if max > 0 {
		return math.Min(v, max)
	}
	return v
}

func (p *PID) execute(ctx context.Context, now time.Time, pl plan) {
	if pl.debug {
		ctx = logging.WithDebugOwner(ctx, p.id)
	}
	for _, act := range pl.actions {
		act := act
		minOff := secondsToDuration(act.ref.MinOffDuration)
		p.attempt(ctx, func(ctx context.Context) error {
			err := p.outputs.On(ctx, act.ref.OutputID, act.ref.Channel, act.cmd, minOff)
			if errors.Is(err, output.ErrMinOffActive) {
				p.logger.Debugw("output resting", "output", act.ref.OutputID, "command", act.cmd.String())
				return nil
			}
			return err
		})
	}
	p.writeRecords(ctx, now, pl)
}

func (p *PID) writeRecords(ctx context.Context, now time.Time, pl plan) {
	if p.records == nil {
		return
	}
	write := func(channel int, unit string, value float64) {
		rec := measurement.Record{DeviceID: p.id, Channel: channel, Unit: unit, Value: value, Time: now}
		if err := p.records.Write(ctx, rec); err != nil {
			p.logger.Warnw("cannot record", "channel", channel, "error", err)
		}
	}
	write(ChannelSetpoint, pl.unit, pl.setpoint)
	if pl.band > 0 {
		write(ChannelBandMin, pl.unit, pl.setpoint-pl.band)
		write(ChannelBandMax, pl.unit, pl.setpoint+pl.band)
	}
	write(ChannelP, pl.unit, pl.p)
	write(ChannelI, pl.unit, pl.i)
	write(ChannelD, pl.unit, pl.d)
	for _, ch := range []int{ChannelDuration, ChannelDutyCycle, ChannelVolume, ChannelValue} {
		if amount, ok := pl.amounts[ch]; ok {
			write(ch, pl.units[ch], amount)
		}
	}
}
