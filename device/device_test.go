package device

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/config"
	"github.com/calvinmclean/mixtender/dispatch"
	"github.com/calvinmclean/mixtender/hx711"
	"github.com/calvinmclean/mixtender/motion"
	"github.com/calvinmclean/mixtender/sim"
)

// syncBuffer is written by Run and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testRig struct {
	d     *Device
	plant *sim.Plant
	clock *mixtender.ManualClock
	out   *syncBuffer
	step  time.Duration
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	logrus.SetLevel(logrus.WarnLevel)

	cfg := config.Default()
	cfg.HeartbeatInterval = config.Duration(2 * time.Millisecond)

	clock := mixtender.NewManualClock()
	plant := sim.New(sim.DefaultConfig(), clock)

	scale, err := hx711.New(plant.ScaleClock(), plant.ScaleData(), hx711.Config{
		Gain:        hx711.Gain128,
		Factor:      cfg.Scale.Factor,
		TareSamples: cfg.Scale.TareSamples,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := &syncBuffer{}
	d, err := New(cfg, Hardware{
		Coils:      plant.Coils(),
		HomeSwitch: plant.HomeSwitch(),
		Scale:      scale,
		Servos:     plant.Servos(),
		PumpPins:   plant.PumpPins(),
		Tickers:    []Ticker{plant},
		Clock:      clock,
	}, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return &testRig{d, plant, clock, out, time.Duration(cfg.HeartbeatInterval)}
}

// runUntil runs heartbeats until done returns true, for at most limit of simulated time
func (r *testRig) runUntil(t *testing.T, limit time.Duration, done func() bool) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < limit; elapsed += r.step {
		if done() {
			return
		}
		r.clock.Advance(r.step)
		r.d.Heartbeat()
	}
	if !done() {
		t.Fatalf("condition not met after %s: transport=%s dispatch=%s",
			limit, r.d.Transport().State(), r.d.Dispatcher().State())
	}
}

func (r *testRig) home(t *testing.T) {
	t.Helper()
	r.d.Home()
	r.runUntil(t, 30*time.Second, func() bool {
		return r.d.Transport().IsParked() && r.plant.Position() == 15
	})

	if !r.d.Homed() {
		t.Error("expected to be homed")
	}
	if r.plant.Position() != 15 || r.d.CurrentPosition() != 15 {
		t.Errorf("expected=15, got=%d/%d", r.plant.Position(), r.d.CurrentPosition())
	}
}

func (r *testRig) placeCup(t *testing.T) {
	t.Helper()
	r.plant.PlaceCup(30)
	r.runUntil(t, time.Second, func() bool {
		return r.d.Dispatcher().State() == dispatch.StateReady
	})
}

func TestHoming(t *testing.T) {
	r := newTestRig(t)

	if r.d.Transport().State() != motion.StateNotReady {
		t.Errorf("expected=%s, got=%s", motion.StateNotReady, r.d.Transport().State())
	}

	r.home(t)

	// scale is tared at the end of homing
	if math.Abs(r.d.AbsoluteWeight()) > 0.5 {
		t.Errorf("expected an empty tray to weigh ~0, got %v", r.d.AbsoluteWeight())
	}
}

func TestJob(t *testing.T) {
	r := newTestRig(t)
	r.home(t)
	r.placeCup(t)

	_, _ = r.d.parser.Write([]byte("J2=20,7=10\n"))
	if r.d.Dispatcher().State() != dispatch.StateMoving {
		t.Fatalf("expected=%s, got=%s", dispatch.StateMoving, r.d.Dispatcher().State())
	}

	r.runUntil(t, 60*time.Second, func() bool {
		return r.d.Dispatcher().State() == dispatch.StateAwaitingRemoval
	})

	if r.plant.Pouring() {
		t.Error("expected every actuator to be closed")
	}
	if r.plant.Spilled() != 0 {
		t.Errorf("expected nothing spilled, got %v", r.plant.Spilled())
	}
	if math.Abs(r.plant.Contents()-30) > 1 {
		t.Errorf("expected ~30g, got %v", r.plant.Contents())
	}
	if math.Abs(r.d.Dispatcher().CumulativeWeight()-30) > 1 {
		t.Errorf("expected ~30g, got %v", r.d.Dispatcher().CumulativeWeight())
	}

	// parks and waits for the cup
	r.runUntil(t, 10*time.Second, r.d.Transport().IsParked)
	r.plant.RemoveCup()
	r.runUntil(t, time.Second, func() bool {
		return r.d.Dispatcher().State() == dispatch.StateNoCup
	})

	out := r.out.String()
	for _, frame := range []string{"C=1;", "S0=P;", "S0=C;", "S1=P;", "S1=C;", "$0=done", "C=0;", "$0=ready"} {
		if !strings.Contains(out, frame+"\n") {
			t.Errorf("expected %q in output: %s", frame, out)
		}
	}
	if strings.Index(out, "S0=C;") > strings.Index(out, "S1=P;") {
		t.Errorf("expected step 0 to finish before step 1: %s", out)
	}
}

func TestCancelJob(t *testing.T) {
	r := newTestRig(t)
	r.home(t)
	r.placeCup(t)

	err := r.d.StartOrder([]dispatch.Ingredient{{ID: 1, Weight: 50}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.runUntil(t, 10*time.Second, func() bool { return r.plant.ValveOpen(1) })

	r.d.Feed('C')
	if r.plant.ValveOpen(1) {
		t.Error("expected the valve to close immediately")
	}

	r.runUntil(t, 10*time.Second, func() bool {
		return r.d.Dispatcher().State() == dispatch.StateReady
	})
	if !r.d.Transport().IsParked() {
		t.Error("expected to be parked")
	}
	if r.plant.Contents() >= 50 {
		t.Errorf("expected a partial pour, got %v", r.plant.Contents())
	}
	if len(r.d.Dispatcher().Steps()) != 0 {
		t.Errorf("expected recipe to be cleared")
	}
	if strings.Contains(r.out.String(), "$0=done") {
		t.Errorf("unexpected job completion: %s", r.out.String())
	}
	// the cup never left the tray
	if n := strings.Count(r.out.String(), "C=1;\n"); n != 1 {
		t.Errorf("expected=1, got=%d: %s", n, r.out.String())
	}
	if strings.Contains(r.out.String(), "C=0;\n") {
		t.Errorf("unexpected cup removal: %s", r.out.String())
	}
}

func TestStartBeforeHoming(t *testing.T) {
	r := newTestRig(t)

	err := r.d.StartOrder([]dispatch.Ingredient{{ID: 1, Weight: 50}})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrNotHomed) {
		t.Errorf("expected=%v, got=%v", ErrNotHomed, err)
	}
	if r.d.Dispatcher().State() != dispatch.StateNoCup {
		t.Errorf("expected=%s, got=%s", dispatch.StateNoCup, r.d.Dispatcher().State())
	}
}

func TestStartWithoutCup(t *testing.T) {
	r := newTestRig(t)
	r.home(t)

	err := r.d.StartOrder([]dispatch.Ingredient{{ID: 1, Weight: 50}})
	if !errors.Is(err, ErrNoCup) {
		t.Errorf("expected=%v, got=%v", ErrNoCup, err)
	}

	r.d.Feed('B')
	if !strings.Contains(r.out.String(), "error: "+ErrNoCup.Error()) {
		t.Errorf("expected an error in output: %s", r.out.String())
	}

	for i := 0; i < 50; i++ {
		r.clock.Advance(r.step)
		r.d.Heartbeat()
	}
	if r.d.Dispatcher().State() != dispatch.StateNoCup {
		t.Errorf("expected=%s, got=%s", dispatch.StateNoCup, r.d.Dispatcher().State())
	}
	if r.plant.ValveOpen(4) || r.plant.Pouring() {
		t.Error("expected every actuator to stay closed")
	}
	if !r.d.Transport().IsParked() {
		t.Error("expected to stay parked")
	}
}

func TestCancelWhileHoming(t *testing.T) {
	r := newTestRig(t)
	r.d.Home()
	for i := 0; i < 20; i++ {
		r.clock.Advance(r.step)
		r.d.Heartbeat()
	}
	if r.d.Transport().State() != motion.StateHoming {
		t.Fatalf("expected=%s, got=%s", motion.StateHoming, r.d.Transport().State())
	}

	r.d.Feed('C')
	if r.d.Transport().State() != motion.StateHoming {
		t.Errorf("expected=%s, got=%s", motion.StateHoming, r.d.Transport().State())
	}
	if r.d.Dispatcher().State() == dispatch.StateJobComplete {
		t.Errorf("expected the dispatcher to be left alone")
	}

	r.runUntil(t, 30*time.Second, func() bool {
		return r.d.Transport().IsParked() && r.plant.Position() == 15
	})
	if !r.d.Homed() {
		t.Error("expected to be homed")
	}
	if r.d.CurrentPosition() != 15 {
		t.Errorf("expected=15, got=%d", r.d.CurrentPosition())
	}

	err := r.d.StartOrder([]dispatch.Ingredient{{ID: 1, Weight: 50}})
	if !errors.Is(err, ErrNoCup) {
		t.Errorf("expected=%v, got=%v", ErrNoCup, err)
	}
}

func TestCommands(t *testing.T) {
	r := newTestRig(t)
	r.home(t)

	r.d.Feed('?')
	if !strings.Contains(r.out.String(), "position: 15\n") {
		t.Errorf("unexpected output: %s", r.out.String())
	}

	r.d.Feed('<')
	r.runUntil(t, time.Second, func() bool { return r.plant.Position() == 35 })

	r.d.Feed('D')
	if !strings.Contains(r.out.String(), "position=35") {
		t.Errorf("unexpected output: %s", r.out.String())
	}

	_, _ = r.d.parser.Write([]byte("1+"))
	if strings.Contains(r.out.String(), "error") {
		t.Errorf("unexpected error: %s", r.out.String())
	}
	if r.d.Dispenser().ValveCount() != 6 {
		t.Errorf("expected=6, got=%d", r.d.Dispenser().ValveCount())
	}
	// there is no valve 7
	err := r.d.SelectValveForTrim(7, mixtender.ValveOpen)
	if err == nil {
		t.Error("expected an error")
	}
}

func TestNewInvalidHardware(t *testing.T) {
	plant := sim.New(sim.DefaultConfig(), nil)
	cfg := config.Default()

	_, err := New(cfg, Hardware{
		Coils:      plant.Coils(),
		HomeSwitch: plant.HomeSwitch(),
		Scale:      nil,
		Servos:     plant.Servos()[:2],
		PumpPins:   plant.PumpPins(),
	}, &bytes.Buffer{})
	if err == nil {
		t.Error("expected an error")
	}
}
