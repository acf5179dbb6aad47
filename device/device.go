package device

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/commands"
	"github.com/calvinmclean/mixtender/config"
	"github.com/calvinmclean/mixtender/dispatch"
	"github.com/calvinmclean/mixtender/log"
	"github.com/calvinmclean/mixtender/metering"
	"github.com/calvinmclean/mixtender/motion"
	"github.com/calvinmclean/mixtender/notify"
)

var (
	ErrNotHomed = errors.New("transport is not homed")
	ErrNoCup    = errors.New("no cup on the tray")
)

// Device is the dispenser. It wires the transport, the dispenser and the dispatcher to the
// hardware and runs them from a single heartbeat
type Device struct {
	cfg   config.Config
	clock mixtender.Clock
	out   io.Writer

	axis       motion.Axis
	transport  *motion.Controller
	dispenser  *metering.Controller
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	parser     *commands.Parser
	tickers    []Ticker

	homed   bool
	verbose bool

	log log.Logger
}

var _ commands.Controller = &Device{}

// New registers the stations, valves and pumps of cfg. Notifications and command output are
// written to out
func New(cfg config.Config, hw Hardware, out io.Writer) (*Device, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if len(hw.Servos) != len(cfg.Valves) {
		return nil, errors.Errorf("%d valves are configured but %d servos were provided", len(cfg.Valves), len(hw.Servos))
	}
	if len(hw.PumpPins) != cfg.Pumps {
		return nil, errors.Errorf("%d pumps are configured but %d pins were provided", cfg.Pumps, len(hw.PumpPins))
	}
	if hw.Scale == nil || hw.HomeSwitch == nil {
		return nil, errors.New("scale and home switch are required")
	}
	if hw.Clock == nil {
		hw.Clock = mixtender.SystemClock{}
	}

	d := &Device{
		cfg:     cfg,
		clock:   hw.Clock,
		out:     out,
		tickers: hw.Tickers,
		log:     log.New("device"),
	}

	d.axis = hw.Axis
	if d.axis == nil {
		stepMode := motion.StepModeFull
		if cfg.Transport.HalfStep {
			stepMode = motion.StepModeHalf
		}
		stepper, err := motion.NewStepper(motion.StepperConfig{
			Pins:     hw.Coils,
			StepMode: stepMode,
			Clock:    hw.Clock,
		})
		if err != nil {
			return nil, errors.Wrap(err, "error creating stepper")
		}
		d.axis = stepper
		d.tickers = append(d.tickers, stepper)
	}

	d.transport = motion.New(d.axis, hw.HomeSwitch, cfg.Transport.Homing, cfg.Transport.ParkPosition)
	for _, position := range cfg.Transport.Stations {
		d.transport.DefineStation(position)
	}
	d.transport.OnTargetReached = func(s motion.Station, index int) {
		d.log.WithFields(log.Fields{
			"station":  index,
			"position": s.Position,
		}).Debug("arrived")
	}

	d.dispenser, err = metering.New(hw.Scale, hw.Clock, cfg.MeteringConfig())
	if err != nil {
		return nil, errors.Wrap(err, "error creating dispenser")
	}
	for i, servo := range hw.Servos {
		valve, err := metering.NewValve(servo, cfg.Valves[i])
		if err != nil {
			return nil, errors.Wrapf(err, "error creating valve %d", i+1)
		}
		d.dispenser.RegisterValve(valve)
	}
	for _, pin := range hw.PumpPins {
		d.dispenser.RegisterPump(metering.NewPump(pin))
	}
	d.dispenser.OnComplete = func(t mixtender.DeviceType, index int, weight float64) {
		d.log.WithFields(log.Fields{
			"type":   t,
			"index":  index,
			"weight": weight,
		}).Info("dispensed")
	}

	d.notifier = notify.New(out)
	d.dispatcher = dispatch.New(d.transport, d.dispenser, hw.Clock, cfg.DispatchConfig())
	d.dispatcher.SetObserver(d.notifier)

	d.parser = commands.NewParser(d)

	d.log.WithFields(cfg.LogFields()).Info("device created")
	return d, nil
}

// Heartbeat services the hardware, including a coil stepper, and then each controller once. The dispatcher goes last so it
// sees the state the others reached on this tick
func (d *Device) Heartbeat() {
	for _, t := range d.tickers {
		t.Tick()
	}
	d.transport.Heartbeat()
	d.dispenser.Heartbeat()
	d.dispatcher.Heartbeat()
}

// Feed passes one byte of command input to the parser
func (d *Device) Feed(b byte) {
	d.parser.Feed(b)
}

// Run calls Heartbeat every HeartbeatInterval and feeds bytes from input between heartbeats.
// input may be nil. It returns when ctx is done
func (d *Device) Run(ctx context.Context, input <-chan byte) error {
	ticker := time.NewTicker(time.Duration(d.cfg.HeartbeatInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.dispenser.AbortDispensing()
			d.release()
			return ctx.Err()
		case b, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			d.Feed(b)
		case <-ticker.C:
			d.Heartbeat()
		}
	}
}

// Home starts homing the transport. The scale is tared once the tray is referenced, as the park
// move begins
func (d *Device) Home() {
	if d.dispatcher.IsServing() {
		d.log.Warn("cannot home while serving")
		return
	}

	d.homed = false
	d.transport.RefMachine(func(ok bool) {
		d.homed = ok
		d.dispenser.Tare()
		d.log.WithField("ok", ok).Info("homing complete")
	})
}

// Homed is true once the first homing completed
func (d *Device) Homed() bool {
	return d.homed
}

func (d *Device) CurrentPosition() int32 {
	return d.transport.CurrentPosition()
}

func (d *Device) MoveStepsLeft(steps uint32) {
	d.transport.MoveStepsLeft(steps)
}

func (d *Device) MoveStepsRight(steps uint32) {
	d.transport.MoveStepsRight(steps)
}

// StartOrder starts a job once the transport is homed and a cup is waiting
func (d *Device) StartOrder(order []dispatch.Ingredient) error {
	if !d.homed {
		return ErrNotHomed
	}
	if d.dispatcher.State() == dispatch.StateNoCup {
		return ErrNoCup
	}
	return d.dispatcher.StartOrder(order)
}

// Cancel stops dispensing. A transport that is not referenced yet keeps homing and parks by
// itself, so only a referenced transport is sent back to park
func (d *Device) Cancel() {
	switch d.transport.State() {
	case motion.StateNotReady, motion.StateHoming:
		d.dispenser.AbortDispensing()
		d.log.WithField("transport", d.transport.State()).Info("cancel ignored until homing completes")
		return
	}
	d.dispatcher.Cancel()
}

// release de-energizes the motor coils when they are driven directly
func (d *Device) release() {
	type releaser interface{ Release() }
	if r, ok := d.axis.(releaser); ok {
		r.Release()
	}
}

func (d *Device) Tare() {
	d.dispenser.Tare()
}

func (d *Device) SelectValveForTrim(id int, p mixtender.ValvePosition) error {
	return d.dispenser.SelectValveForTrim(id, p)
}

func (d *Device) TrimValve(delta int) error {
	return d.dispenser.TrimValve(delta)
}

func (d *Device) ResetTrimPositions() error {
	return d.dispenser.ResetTrimPositions()
}

func (d *Device) LatestWeight() float64 {
	return d.dispenser.LatestWeight()
}

func (d *Device) AbsoluteWeight() float64 {
	return d.dispenser.AbsoluteWeight()
}

// Debug reports the state of every controller
func (d *Device) Debug() {
	line := fmt.Sprintf("transport=%s position=%d dispatch=%s metering=%s weight=%.2f absolute=%.2f",
		d.transport.State(),
		d.transport.CurrentPosition(),
		d.dispatcher.State(),
		d.dispenser.State(),
		d.dispenser.LatestWeight(),
		d.dispenser.AbsoluteWeight(),
	)
	if status, ok := d.dispatcher.StepStatus(); ok {
		line += fmt.Sprintf(" step=%d station=%d target=%.2f dispensed=%.2f",
			status.Index, status.StationIndex, status.TargetWeight, status.DispensedWeight)
	}
	d.Report(line)
}

// Verbose toggles debug logging
func (d *Device) Verbose() {
	d.verbose = !d.verbose
	log.SetDebug(d.verbose)
	d.Report(fmt.Sprintf("verbose=%t", d.verbose))
}

// Report writes a line to the output
func (d *Device) Report(s string) {
	_, err := fmt.Fprintln(d.out, s)
	if err != nil {
		d.log.Errorf("error writing output: %v", err)
	}
}

func (d *Device) Transport() *motion.Controller {
	return d.transport
}

func (d *Device) Dispenser() *metering.Controller {
	return d.dispenser
}

func (d *Device) Dispatcher() *dispatch.Dispatcher {
	return d.dispatcher
}
