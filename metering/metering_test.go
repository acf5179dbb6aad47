package metering

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/calvinmclean/mixtender"
)

// fakeScale models a load cell with raw = weight * factor
type fakeScale struct {
	raw    float64
	offset float64
	factor float64
	tares  int
}

func newFakeScale(factor float64) *fakeScale {
	return &fakeScale{factor: factor}
}

func (s *fakeScale) setWeight(w float64) { s.raw = w * s.factor }
func (s *fakeScale) Ready() bool         { return true }
func (s *fakeScale) Units() float64      { return (s.raw - s.offset) / s.factor }
func (s *fakeScale) Tare()               { s.offset = s.raw; s.tares++ }
func (s *fakeScale) Offset() float64     { return s.offset }
func (s *fakeScale) Factor() float64     { return s.factor }

type fakeServo struct{ angles []int }

func (s *fakeServo) SetAngle(a int) error {
	s.angles = append(s.angles, a)
	return nil
}

func (s *fakeServo) last() int { return s.angles[len(s.angles)-1] }

type fakePin struct{ value bool }

func (p *fakePin) Set(v bool) { p.value = v }

type completion struct {
	deviceType mixtender.DeviceType
	index      int
	weight     float64
}

type testRig struct {
	c           *Controller
	scale       *fakeScale
	clock       *mixtender.ManualClock
	servos      []*fakeServo
	pumpPins    []*fakePin
	completions []completion
}

func newTestRig(t *testing.T, valves, pumps int) *testRig {
	t.Helper()
	r := &testRig{
		scale: newFakeScale(1),
		clock: mixtender.NewManualClock(),
	}

	c, err := New(r.scale, r.clock, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.c = c

	for i := range valves {
		servo := &fakeServo{}
		v, err := NewValve(servo, DefaultValveConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := c.RegisterValve(v); n != i+1 {
			t.Fatalf("expected RegisterValve to return %d, got %d", i+1, n)
		}
		r.servos = append(r.servos, servo)
	}
	for i := range pumps {
		pin := &fakePin{}
		if n := c.RegisterPump(NewPump(pin)); n != i+1 {
			t.Fatalf("expected RegisterPump to return %d, got %d", i+1, n)
		}
		r.pumpPins = append(r.pumpPins, pin)
	}

	c.OnComplete = func(dt mixtender.DeviceType, idx int, w float64) {
		r.completions = append(r.completions, completion{dt, idx, w})
	}
	return r
}

// run ticks every 10ms for d
func (r *testRig) run(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += 10 * time.Millisecond {
		r.clock.Advance(10 * time.Millisecond)
		r.c.Heartbeat()
	}
}

func TestValveCycle(t *testing.T) {
	r := newTestRig(t, 2, 1)
	closed := DefaultValveConfig().ClosedAngle
	open := DefaultValveConfig().OpenAngle

	// a cup is on the scale
	r.scale.setWeight(300)
	r.run(500 * time.Millisecond)

	err := r.c.BeginDispensingValve(2, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.c.State() != StateAwaitingStability {
		t.Fatalf("expected AwaitingStability, got %s", r.c.State())
	}
	if r.scale.tares != 1 {
		t.Errorf("expected one tare, got %d", r.scale.tares)
	}

	r.run(490 * time.Millisecond)
	if r.c.State() != StateAwaitingStability {
		t.Fatalf("expected AwaitingStability before the delay, got %s", r.c.State())
	}
	if r.servos[1].last() != closed {
		t.Errorf("expected valve to stay closed, got %d", r.servos[1].last())
	}

	r.run(10 * time.Millisecond)
	if r.c.State() != StateDispensing {
		t.Fatalf("expected Dispensing, got %s", r.c.State())
	}
	if r.servos[1].last() != open {
		t.Errorf("expected valve 2 to open, got %d", r.servos[1].last())
	}
	if r.servos[0].last() != closed {
		t.Errorf("expected valve 1 to stay closed, got %d", r.servos[0].last())
	}

	r.scale.setWeight(300 + 30)
	r.run(200 * time.Millisecond)
	if r.c.State() != StateDispensing {
		t.Fatalf("expected Dispensing below target, got %s", r.c.State())
	}

	r.scale.setWeight(300 + 52)
	r.run(200 * time.Millisecond)
	if r.c.State() != StateAwaitingClosure {
		t.Fatalf("expected AwaitingClosure, got %s", r.c.State())
	}
	if r.servos[1].last() != closed {
		t.Errorf("expected valve 2 to close, got %d", r.servos[1].last())
	}
	if len(r.completions) != 0 {
		t.Errorf("expected no completion before the closure delay")
	}

	r.run(time.Second)
	if r.c.State() != StateFinished {
		t.Fatalf("expected Finished, got %s", r.c.State())
	}
	if len(r.completions) != 1 {
		t.Fatalf("expected one completion, got %d", len(r.completions))
	}
	got := r.completions[0]
	if got.deviceType != mixtender.DeviceTypeValve || got.index != 2 {
		t.Errorf("unexpected completion: %+v", got)
	}
	if math.Abs(got.weight-52) > 0.2 {
		t.Errorf("expected about 52g dispensed, got %v", got.weight)
	}
	if r.c.TargetWeight() != 0 {
		t.Errorf("expected target to be cleared, got %v", r.c.TargetWeight())
	}
}

func TestPumpCycle(t *testing.T) {
	r := newTestRig(t, 1, 2)

	err := r.c.BeginDispensingPump(2, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.run(500 * time.Millisecond)
	if !r.pumpPins[1].value || r.pumpPins[0].value {
		t.Fatalf("expected only pump 2 on, got %v/%v", r.pumpPins[0].value, r.pumpPins[1].value)
	}

	r.scale.setWeight(25)
	r.run(200 * time.Millisecond)
	if r.pumpPins[1].value {
		t.Errorf("expected pump 2 off")
	}

	r.run(time.Second)
	if len(r.completions) != 1 || r.completions[0].deviceType != mixtender.DeviceTypePump || r.completions[0].index != 2 {
		t.Errorf("unexpected completions: %+v", r.completions)
	}
}

func TestAbortDispensing(t *testing.T) {
	t.Run("WhileDispensing", func(t *testing.T) {
		r := newTestRig(t, 1, 1)
		_ = r.c.BeginDispensingPump(1, 100)
		r.run(600 * time.Millisecond)
		if !r.pumpPins[0].value {
			t.Fatalf("expected pump on")
		}

		r.c.AbortDispensing()
		if r.pumpPins[0].value {
			t.Errorf("expected pump off after abort")
		}
		if r.c.State() != StateFinished {
			t.Errorf("expected Finished, got %s", r.c.State())
		}

		r.run(2 * time.Second)
		if len(r.completions) != 0 {
			t.Errorf("expected no completion callback, got %+v", r.completions)
		}
	})

	t.Run("WhileAwaitingStability", func(t *testing.T) {
		r := newTestRig(t, 1, 0)
		_ = r.c.BeginDispensingValve(1, 100)
		r.c.AbortDispensing()
		r.run(2 * time.Second)

		if r.servos[0].last() != DefaultValveConfig().ClosedAngle {
			t.Errorf("expected valve closed, got %d", r.servos[0].last())
		}
		if len(r.completions) != 0 {
			t.Errorf("expected no completion callback")
		}
	})

	t.Run("WithNothingRegistered", func(t *testing.T) {
		r := newTestRig(t, 0, 0)
		r.c.AbortDispensing()
		if r.c.State() != StateFinished {
			t.Errorf("expected Finished, got %s", r.c.State())
		}
	})
}

func TestBeginDispensingInvalidIndex(t *testing.T) {
	r := newTestRig(t, 2, 1)

	tests := []struct {
		name       string
		deviceType mixtender.DeviceType
		index      int
		expected   error
	}{
		{"ValveZero", mixtender.DeviceTypeValve, 0, ErrInvalidValve},
		{"ValveTooHigh", mixtender.DeviceTypeValve, 3, ErrInvalidValve},
		{"PumpTooHigh", mixtender.DeviceTypePump, 2, ErrInvalidPump},
		{"PumpNegative", mixtender.DeviceTypePump, -1, ErrInvalidPump},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.c.BeginDispensing(tt.deviceType, tt.index, 10)
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
			if r.c.State() != StateReady {
				t.Errorf("expected Ready, got %s", r.c.State())
			}
			if r.scale.tares != 0 {
				t.Errorf("expected no tare")
			}
		})
	}
}

func TestTrim(t *testing.T) {
	r := newTestRig(t, 6, 0)
	cfg := DefaultValveConfig()

	err := r.c.SelectValveForTrim(7, mixtender.ValveOpen)
	if !errors.Is(err, ErrInvalidValve) {
		t.Fatalf("expected ErrInvalidValve, got %v", err)
	}
	for i, s := range r.servos {
		if len(s.angles) != 1 || s.last() != cfg.ClosedAngle {
			t.Errorf("valve %d was touched: %v", i+1, s.angles)
		}
	}

	if err := r.c.TrimValve(1); !errors.Is(err, ErrNoValveSelected) {
		t.Errorf("expected ErrNoValveSelected, got %v", err)
	}

	if err := r.c.SelectValveForTrim(2, mixtender.ValveOpen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.servos[1].last() != cfg.OpenAngle {
		t.Errorf("expected=%d, got=%d", cfg.OpenAngle, r.servos[1].last())
	}

	for range 3 {
		_ = r.c.TrimValve(1)
	}
	if r.servos[1].last() != cfg.OpenAngle+3 {
		t.Errorf("expected=%d, got=%d", cfg.OpenAngle+3, r.servos[1].last())
	}

	_ = r.c.SelectValveForTrim(2, mixtender.ValveClosed)
	_ = r.c.TrimValve(-2)
	if r.servos[1].last() != cfg.ClosedAngle-2 {
		t.Errorf("expected=%d, got=%d", cfg.ClosedAngle-2, r.servos[1].last())
	}

	// selecting a position starts its trim over and keeps the other one
	_ = r.c.SelectValveForTrim(2, mixtender.ValveOpen)
	v, _ := r.c.Valve(2)
	if r.servos[1].last() != cfg.OpenAngle {
		t.Errorf("expected=%d, got=%d", cfg.OpenAngle, r.servos[1].last())
	}
	if v.OpenTrim() != 0 || v.ClosedTrim() != -2 {
		t.Errorf("expected open=0 closed=-2, got open=%d closed=%d", v.OpenTrim(), v.ClosedTrim())
	}
	_ = r.c.TrimValve(4)

	if err := r.c.ResetTrimPositions(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OpenTrim() != 0 || v.ClosedTrim() != 0 || r.servos[1].last() != cfg.OpenAngle {
		t.Errorf("expected trims to reset, got open=%d closed=%d angle=%d", v.OpenTrim(), v.ClosedTrim(), r.servos[1].last())
	}

	if err := r.c.SetAllValves(mixtender.ValveClosed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range r.servos {
		if s.last() != cfg.ClosedAngle {
			t.Errorf("valve %d: expected closed, got %d", i+1, s.last())
		}
	}
}

func TestAbsoluteWeight(t *testing.T) {
	r := newTestRig(t, 1, 0)
	r.scale.factor = 2
	cfg := DefaultConfig()
	cfg.EmptyContainerWeight = 10
	c, _ := New(r.scale, r.clock, cfg)

	r.scale.setWeight(100)
	for range 60 {
		c.Heartbeat()
	}
	if math.Abs(c.AbsoluteWeight()-90) > 0.1 {
		t.Errorf("expected=90, got=%v", c.AbsoluteWeight())
	}

	c.Tare()
	for range 60 {
		c.Heartbeat()
	}
	if math.Abs(c.LatestWeight()) > 0.1 {
		t.Errorf("expected tared weight near 0, got %v", c.LatestWeight())
	}
	if math.Abs(c.AbsoluteWeight()-90) > 0.1 {
		t.Errorf("expected absolute weight to ignore tare, expected=90, got=%v", c.AbsoluteWeight())
	}
}
