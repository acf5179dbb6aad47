// Package tmc drives the transport with a TMC5160 in positioning mode. The chip runs the ramp
// itself, so the Axis only writes targets and speeds and reads the position back
package tmc

import (
	"github.com/pkg/errors"
	"tinygo.org/x/drivers/tmc5160"

	"github.com/calvinmclean/mixtender/log"
	"github.com/calvinmclean/mixtender/motion"
)

// Registers is register access to one driver. *tmc5160.Driver satisfies it
type Registers interface {
	ReadRegister(reg uint8) (uint32, error)
	WriteRegister(reg uint8, value uint32) error
}

type Config struct {
	// MicroSteps per full step. Positions and speeds of the Axis are in full steps
	MicroSteps int32
	// Acceleration is in full steps per second squared
	Acceleration float32

	GlobalScaler uint32
	RunCurrent   uint8
	HoldCurrent  uint8

	// Stepper has the clock frequency used to convert speeds into register values
	Stepper tmc5160.Stepper
}

func DefaultConfig() Config {
	return Config{
		MicroSteps:   256,
		Acceleration: 250,
		GlobalScaler: 60,
		RunCurrent:   31,
		HoldCurrent:  16,
		Stepper:      tmc5160.NewDefaultStepper(),
	}
}

// Axis implements motion.Axis. Register errors are logged and kept in Err, since the Axis
// methods cannot return them
type Axis struct {
	regs Registers
	cfg  Config

	speed   uint16
	stopped bool
	// target is in microsteps
	target int32

	err error
	log log.Logger
}

var _ motion.Axis = &Axis{}

func New(regs Registers, cfg Config) (*Axis, error) {
	if regs == nil {
		return nil, errors.New("error creating tmc axis: missing registers")
	}
	if _, ok := microStepResolution(cfg.MicroSteps); !ok {
		return nil, errors.Errorf("error creating tmc axis: invalid micro steps %d", cfg.MicroSteps)
	}
	if cfg.Stepper.Fclk == 0 {
		cfg.Stepper.Fclk = tmc5160.DefaultFclk
	}
	if cfg.Stepper.GearRatio == 0 {
		cfg.Stepper.GearRatio = tmc5160.DefaultGearRatio
	}

	return &Axis{
		regs: regs,
		cfg:  cfg,
		log:  log.New("tmc"),
	}, nil
}

// SetLogger replaces the default logger
func (a *Axis) SetLogger(l log.Logger) {
	a.log = l
}

// Configure sets currents, chopper and ramp registers and selects positioning mode. The motor
// holds its position afterwards
func (a *Axis) Configure() error {
	ihold := tmc5160.NewIHOLD_IRUN()
	ihold.Ihold = a.cfg.HoldCurrent
	ihold.Irun = a.cfg.RunCurrent
	ihold.IholdDelay = 7

	chop := tmc5160.NewCHOPCONF()
	chop.Toff = 5
	chop.Tbl = 2
	chop.HstrtTfd = 4
	chop.HendOffset = 0
	chop.Mres, _ = microStepResolution(a.cfg.MicroSteps)

	gconf := tmc5160.NewGCONF()
	gconf.EnPwmMode = true

	accel := a.accelerationRegister()

	writes := []struct {
		reg   uint8
		value uint32
	}{
		{tmc5160.GLOBAL_SCALER, a.cfg.GlobalScaler},
		{tmc5160.IHOLD_IRUN, ihold.Pack()},
		{tmc5160.CHOPCONF, chop.Pack()},
		{tmc5160.GCONF, gconf.Pack()},
		{tmc5160.RAMPMODE, uint32(tmc5160.PositioningMode)},
		{tmc5160.VMAX, 0},
		{tmc5160.VSTART, 0},
		{tmc5160.V_1, 0},
		{tmc5160.A_1, accel},
		{tmc5160.AMAX, accel},
		{tmc5160.DMAX, accel},
		// D1 must not be 0 in positioning mode, even with V1 = 0
		{tmc5160.D_1, 100},
		{tmc5160.VSTOP, 10},
	}
	for _, w := range writes {
		err := a.regs.WriteRegister(w.reg, w.value)
		if err != nil {
			return errors.Wrapf(err, "error writing register 0x%02X", w.reg)
		}
	}

	position, err := a.readPosition()
	if err != nil {
		return err
	}
	a.target = position
	return errors.Wrap(a.regs.WriteRegister(tmc5160.XTARGET, uint32(position)), "error writing target")
}

// microStepResolution is the CHOPCONF.MRES value: 0 for 256 micro steps up to 8 for full steps
func microStepResolution(microSteps int32) (uint8, bool) {
	for mres := uint8(0); mres <= 8; mres++ {
		if microSteps == 256>>mres {
			return mres, true
		}
	}
	return 0, false
}

// accelerationRegister converts the acceleration into AMAX units:
// a[µsteps/s²] = AMAX * fCLK² / (512*256) / 2^24
func (a *Axis) accelerationRegister() uint32 {
	fclk := float64(a.cfg.Stepper.Fclk) * 1e6
	microSteps := float64(a.cfg.Acceleration) * float64(a.cfg.MicroSteps)
	v := microSteps / (fclk * fclk / (512 * 256) / (1 << 24))
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint32(v)
}

func (a *Axis) write(reg uint8, value uint32) {
	err := a.regs.WriteRegister(reg, value)
	if err != nil {
		a.err = errors.Wrapf(err, "error writing register 0x%02X", reg)
		a.log.Error(a.err)
	}
}

func (a *Axis) readPosition() (int32, error) {
	v, err := a.regs.ReadRegister(tmc5160.XACTUAL)
	if err != nil {
		return 0, errors.Wrap(err, "error reading position")
	}
	return int32(v), nil
}

// Stop ends the move with the deceleration ramp. The next SetMaxSpeed or SetTargetPosition
// restores the speed
func (a *Axis) Stop() {
	a.write(tmc5160.VSTART, 0)
	a.write(tmc5160.VMAX, 0)
	a.stopped = true
}

// CurrentPosition is rounded toward the target, so it only equals the target once the chip
// reached it exactly
func (a *Axis) CurrentPosition() int32 {
	raw, err := a.readPosition()
	if err != nil {
		a.err = err
		a.log.Error(err)
		raw = a.target
	}

	position := raw / a.cfg.MicroSteps
	rem := raw % a.cfg.MicroSteps
	if rem < 0 {
		// floor
		position--
		rem += a.cfg.MicroSteps
	}
	if rem != 0 && raw > a.target {
		position++
	}
	return position
}

// SetCurrentPosition re-labels the current position. The target follows so the motor stays still
func (a *Axis) SetCurrentPosition(p int32) {
	a.target = p * a.cfg.MicroSteps
	a.write(tmc5160.XACTUAL, uint32(a.target))
	a.write(tmc5160.XTARGET, uint32(a.target))
}

func (a *Axis) SetTargetPosition(p int32) {
	if a.stopped {
		a.SetMaxSpeed(a.speed)
	}
	a.target = p * a.cfg.MicroSteps
	a.write(tmc5160.XTARGET, uint32(a.target))
}

// SetMaxSpeed is in full steps per second
func (a *Axis) SetMaxSpeed(stepsPerSecond uint16) {
	a.speed = stepsPerSecond
	a.stopped = false
	vmax := a.cfg.Stepper.DesiredVelocityToVMAX(float32(stepsPerSecond) * float32(a.cfg.MicroSteps))
	a.write(tmc5160.VMAX, vmax)
}

// Err returns the last register error
func (a *Axis) Err() error {
	return a.err
}
