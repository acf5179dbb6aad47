package tmc

import (
	"errors"
	"testing"

	"tinygo.org/x/drivers/tmc5160"

	"github.com/calvinmclean/mixtender/motion"
)

// fakeChip is a register file. The motor moves toward XTARGET by step microsteps per Tick while
// VMAX is not 0
type fakeChip struct {
	regs   map[uint8]uint32
	writes []uint8
	err    error

	step int32
	// physical is the motor position in microsteps. The home switch closes at 0 and below
	physical int32
}

func newFakeChip() *fakeChip {
	return &fakeChip{regs: map[uint8]uint32{}, step: 256}
}

func (c *fakeChip) ReadRegister(reg uint8) (uint32, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.regs[reg], nil
}

func (c *fakeChip) WriteRegister(reg uint8, value uint32) error {
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, reg)
	c.regs[reg] = value
	return nil
}

func (c *fakeChip) Tick() {
	if c.regs[tmc5160.VMAX] == 0 {
		return
	}
	actual := int32(c.regs[tmc5160.XACTUAL])
	delta := int32(c.regs[tmc5160.XTARGET]) - actual
	if delta > c.step {
		delta = c.step
	}
	if delta < -c.step {
		delta = -c.step
	}
	c.regs[tmc5160.XACTUAL] = uint32(actual + delta)
	c.physical += delta
}

type homeSwitch struct{ chip *fakeChip }

func (s homeSwitch) Get() bool { return s.chip.physical <= 0 }

func newTestAxis(t *testing.T, chip *fakeChip) *Axis {
	t.Helper()
	axis, err := New(chip, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return axis
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		microSteps int32
		valid      bool
	}{
		{"256", 256, true},
		{"16", 16, true},
		{"FullStep", 1, true},
		{"Zero", 0, false},
		{"NotPowerOfTwo", 48, false},
		{"TooMany", 512, false},
		{"Negative", -256, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MicroSteps = tt.microSteps
			_, err := New(newFakeChip(), cfg)
			if (err == nil) != tt.valid {
				t.Errorf("expected valid=%t, got err=%v", tt.valid, err)
			}
		})
	}

	_, err := New(nil, DefaultConfig())
	if err == nil {
		t.Error("expected an error without registers")
	}
}

func TestConfigure(t *testing.T) {
	chip := newFakeChip()
	chip.regs[tmc5160.XACTUAL] = 1234
	chip.regs[tmc5160.VMAX] = 5000

	cfg := DefaultConfig()
	cfg.MicroSteps = 16
	axis, err := New(chip, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = axis.Configure()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chip.regs[tmc5160.XTARGET] != 1234 {
		t.Errorf("expected=1234, got=%d", chip.regs[tmc5160.XTARGET])
	}
	if chip.regs[tmc5160.VMAX] != 0 {
		t.Errorf("expected=0, got=%d", chip.regs[tmc5160.VMAX])
	}
	if chip.regs[tmc5160.RAMPMODE] != uint32(tmc5160.PositioningMode) {
		t.Errorf("expected=%d, got=%d", tmc5160.PositioningMode, chip.regs[tmc5160.RAMPMODE])
	}
	if chip.regs[tmc5160.GLOBAL_SCALER] != 60 {
		t.Errorf("expected=60, got=%d", chip.regs[tmc5160.GLOBAL_SCALER])
	}
	if chip.regs[tmc5160.D_1] == 0 {
		t.Error("expected D1 to be set")
	}
	if chip.regs[tmc5160.AMAX] == 0 || chip.regs[tmc5160.AMAX] != chip.regs[tmc5160.DMAX] {
		t.Errorf("expected equal acceleration and deceleration, got AMAX=%d DMAX=%d",
			chip.regs[tmc5160.AMAX], chip.regs[tmc5160.DMAX])
	}

	chop := tmc5160.NewCHOPCONF()
	chop.Unpack(chip.regs[tmc5160.CHOPCONF])
	if chop.Mres != 4 {
		t.Errorf("expected=4, got=%d", chop.Mres)
	}

	current := tmc5160.NewIHOLD_IRUN()
	current.Unpack(chip.regs[tmc5160.IHOLD_IRUN])
	if current.Irun != 31 || current.Ihold != 16 {
		t.Errorf("expected run=31 hold=16, got run=%d hold=%d", current.Irun, current.Ihold)
	}

	// 1234 microsteps is 77.125 full steps
	if axis.CurrentPosition() != 77 {
		t.Errorf("expected=77, got=%d", axis.CurrentPosition())
	}
}

func TestSpeedAndStop(t *testing.T) {
	chip := newFakeChip()
	axis := newTestAxis(t, chip)
	cfg := DefaultConfig()

	axis.SetMaxSpeed(400)
	expected := cfg.Stepper.DesiredVelocityToVMAX(400 * 256)
	if chip.regs[tmc5160.VMAX] != expected || expected == 0 {
		t.Errorf("expected=%d, got=%d", expected, chip.regs[tmc5160.VMAX])
	}

	axis.SetTargetPosition(100)
	if chip.regs[tmc5160.XTARGET] != 100*256 {
		t.Errorf("expected=%d, got=%d", 100*256, chip.regs[tmc5160.XTARGET])
	}

	axis.Stop()
	if chip.regs[tmc5160.VMAX] != 0 {
		t.Errorf("expected=0, got=%d", chip.regs[tmc5160.VMAX])
	}

	// a new target restores the speed
	axis.SetTargetPosition(50)
	if chip.regs[tmc5160.VMAX] != expected {
		t.Errorf("expected=%d, got=%d", expected, chip.regs[tmc5160.VMAX])
	}
	if chip.regs[tmc5160.XTARGET] != 50*256 {
		t.Errorf("expected=%d, got=%d", 50*256, chip.regs[tmc5160.XTARGET])
	}
}

func TestCurrentPosition(t *testing.T) {
	tests := []struct {
		name     string
		target   int32
		actual   int32
		expected int32
	}{
		{"AtTarget", 10, 10 * 256, 10},
		{"BelowTarget", 10, 9*256 + 255, 9},
		{"AboveTarget", 10, 10*256 + 1, 11},
		{"NegativeBelowTarget", 0, -1, -1},
		{"NegativeAboveTarget", -10, -10*256 + 1, -9},
		{"NegativeAtTarget", -10, -10 * 256, -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := newFakeChip()
			axis := newTestAxis(t, chip)
			axis.SetTargetPosition(tt.target)
			chip.regs[tmc5160.XACTUAL] = uint32(tt.actual)

			got := axis.CurrentPosition()
			if got != tt.expected {
				t.Errorf("expected=%d, got=%d", tt.expected, got)
			}
		})
	}
}

func TestSetCurrentPosition(t *testing.T) {
	chip := newFakeChip()
	axis := newTestAxis(t, chip)

	axis.SetCurrentPosition(-40)
	if int32(chip.regs[tmc5160.XACTUAL]) != -40*256 || int32(chip.regs[tmc5160.XTARGET]) != -40*256 {
		t.Errorf("expected both at %d, got actual=%d target=%d",
			-40*256, int32(chip.regs[tmc5160.XACTUAL]), int32(chip.regs[tmc5160.XTARGET]))
	}
	if axis.CurrentPosition() != -40 {
		t.Errorf("expected=-40, got=%d", axis.CurrentPosition())
	}
}

func TestRegisterErrors(t *testing.T) {
	chip := newFakeChip()
	axis := newTestAxis(t, chip)
	axis.SetTargetPosition(20)

	chip.err = errors.New("spi timeout")
	if axis.CurrentPosition() != 20 {
		t.Errorf("expected the target when the position cannot be read, got %d", axis.CurrentPosition())
	}
	if !errors.Is(axis.Err(), chip.err) {
		t.Errorf("expected=%v, got=%v", chip.err, axis.Err())
	}

	err := axis.Configure()
	if !errors.Is(err, chip.err) {
		t.Errorf("expected=%v, got=%v", chip.err, err)
	}
}

func TestHoming(t *testing.T) {
	chip := newFakeChip()
	chip.physical = 1000 * 256
	axis := newTestAxis(t, chip)
	if err := axis.Configure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := motion.New(axis, homeSwitch{chip}, motion.DefaultHomingConfig(), 15)
	c.DefineStation(426)

	var homed bool
	c.RefMachine(func(ok bool) { homed = ok })
	for i := 0; i < 10000 && !c.IsParked(); i++ {
		chip.Tick()
		c.Heartbeat()
	}

	if !homed || !c.IsParked() {
		t.Fatalf("expected to be homed and parked, got %s/%s", c.State(), c.HomingStage())
	}
	if chip.physical != 15*256 || c.CurrentPosition() != 15 {
		t.Errorf("expected=%d/15, got=%d/%d", 15*256, chip.physical, c.CurrentPosition())
	}

	if err := c.GoToStation(1, motion.DefaultSpeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10000 && !c.IsAtTarget(); i++ {
		chip.Tick()
		c.Heartbeat()
	}
	if chip.physical != 426*256 {
		t.Errorf("expected=%d, got=%d", 426*256, chip.physical)
	}
	if axis.Err() != nil {
		t.Errorf("unexpected error: %v", axis.Err())
	}
}
