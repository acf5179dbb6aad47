// Package sim is a software model of the dispenser hardware. It decodes the stepper coils into
// tray movement, triggers the home switch, pours liquid while a valve is open or a pump is on,
// and answers the HX711 protocol with the weight on the tray
package sim

import (
	"sync"
	"time"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/metering"
)

type Config struct {
	HalfStep bool
	// StartPosition is where the tray is at power on, relative to the home switch
	StartPosition int32

	ValveStations []int32
	PumpStations  []int32
	// ValveOpenAngle is the servo angle at or above which a valve pours
	ValveOpenAngle int

	// flow rates in grams per second
	ValveFlowRate float64
	PumpFlowRate  float64

	ScaleFactor float64
	// ScaleBase is the ADC reading of the empty tray
	ScaleBase          int32
	ConversionInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartPosition:      200,
		ValveStations:      []int32{12, 426, 875, 1309, 1759, 2192},
		PumpStations:       []int32{650, 650, 650},
		ValveOpenAngle:     (metering.DefaultValveConfig().ClosedAngle + metering.DefaultValveConfig().OpenAngle) / 2,
		ValveFlowRate:      10,
		PumpFlowRate:       8,
		ScaleFactor:        -438,
		ConversionInterval: 12500 * time.Microsecond,
	}
}

// Pin is a simulated digital output
type Pin struct {
	mu    sync.Mutex
	value bool
}

func (p *Pin) Set(v bool) {
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

func (p *Pin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Servo is a simulated valve servo
type Servo struct {
	mu    sync.Mutex
	angle int
}

func (s *Servo) SetAngle(angle int) error {
	s.mu.Lock()
	s.angle = angle
	s.mu.Unlock()
	return nil
}

func (s *Servo) Angle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// half step phase of each coil pattern. Full step patterns are the even phases
var coilPhases = map[[4]bool]int{
	{true, false, false, false}: 0,
	{true, true, false, false}:  1,
	{false, true, false, false}: 2,
	{false, true, true, false}:  3,
	{false, false, true, false}: 4,
	{false, false, true, true}:  5,
	{false, false, false, true}: 6,
	{true, false, false, true}:  7,
}

// Plant is the simulated machine. Tick must be called on every heartbeat, before the
// controllers
type Plant struct {
	mu    sync.Mutex
	cfg   Config
	clock mixtender.Clock

	coils    [4]*Pin
	phase    int
	position int32

	valves []*Servo
	pumps  []*Pin

	cup       bool
	cupWeight float64
	contents  float64
	spilled   float64

	lastTick time.Time
	cell     *loadCell
}

func New(cfg Config, clock mixtender.Clock) *Plant {
	if clock == nil {
		clock = mixtender.SystemClock{}
	}

	p := &Plant{
		cfg:      cfg,
		clock:    clock,
		position: cfg.StartPosition,
		lastTick: clock.Now(),
	}
	for i := range p.coils {
		p.coils[i] = &Pin{}
	}
	for range cfg.ValveStations {
		p.valves = append(p.valves, &Servo{})
	}
	for range cfg.PumpStations {
		p.pumps = append(p.pumps, &Pin{})
	}
	p.cell = &loadCell{plant: p, lastConversion: clock.Now()}

	return p
}

// Coils are the stepper driver inputs
func (p *Plant) Coils() [4]mixtender.Pin {
	var pins [4]mixtender.Pin
	for i, c := range p.coils {
		pins[i] = c
	}
	return pins
}

// HomeSwitch is active while the tray is at or behind the switch
func (p *Plant) HomeSwitch() mixtender.InputPin {
	return homeSwitch{p}
}

func (p *Plant) Servos() []metering.Servo {
	servos := make([]metering.Servo, len(p.valves))
	for i, v := range p.valves {
		servos[i] = v
	}
	return servos
}

func (p *Plant) PumpPins() []mixtender.Pin {
	pins := make([]mixtender.Pin, len(p.pumps))
	for i, pump := range p.pumps {
		pins[i] = pump
	}
	return pins
}

// ScaleClock and ScaleData are the HX711 PD_SCK and DOUT pins
func (p *Plant) ScaleClock() mixtender.Pin {
	return p.cell
}

func (p *Plant) ScaleData() mixtender.InputPin {
	return loadCellData{p.cell}
}

// Tick moves the tray by the coil changes since the last Tick and pours for the elapsed time
func (p *Plant) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decodeCoils()

	now := p.clock.Now()
	elapsed := now.Sub(p.lastTick).Seconds()
	p.lastTick = now

	for i, v := range p.valves {
		if v.Angle() >= p.cfg.ValveOpenAngle {
			p.pour(p.cfg.ValveStations[i], p.cfg.ValveFlowRate*elapsed)
		}
	}
	for i, pump := range p.pumps {
		if pump.Get() {
			p.pour(p.cfg.PumpStations[i], p.cfg.PumpFlowRate*elapsed)
		}
	}

	p.cell.tick(now)
}

func (p *Plant) decodeCoils() {
	var pattern [4]bool
	for i, c := range p.coils {
		pattern[i] = c.Get()
	}

	phase, ok := coilPhases[pattern]
	if !ok {
		// released or not energized yet
		return
	}

	delta := (phase - p.phase + 8) % 8
	if delta > 4 {
		delta -= 8
	}
	p.phase = phase

	if !p.cfg.HalfStep {
		delta /= 2
	}
	p.position += int32(delta)
}

func (p *Plant) pour(station int32, grams float64) {
	if p.cup && p.position == station {
		p.contents += grams
		return
	}
	p.spilled += grams
}

func (p *Plant) load() float64 {
	if !p.cup {
		return 0
	}
	return p.cupWeight + p.contents
}

// PlaceCup puts an empty cup on the tray
func (p *Plant) PlaceCup(weight float64) {
	p.mu.Lock()
	p.cup = true
	p.cupWeight = weight
	p.contents = 0
	p.mu.Unlock()
}

// RemoveCup takes the cup off the tray and returns the weight of its contents
func (p *Plant) RemoveCup() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cup = false
	return p.contents
}

func (p *Plant) Position() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Contents is the weight poured into the cup
func (p *Plant) Contents() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contents
}

// Spilled is the weight poured while no cup was under the actuator
func (p *Plant) Spilled() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spilled
}

// ValveOpen uses a 1-based index
func (p *Plant) ValveOpen(valve int) bool {
	return p.valves[valve-1].Angle() >= p.cfg.ValveOpenAngle
}

// PumpOn uses a 1-based index
func (p *Plant) PumpOn(pump int) bool {
	return p.pumps[pump-1].Get()
}

// Pouring is true if any valve is open or any pump is on
func (p *Plant) Pouring() bool {
	for i := range p.valves {
		if p.ValveOpen(i + 1) {
			return true
		}
	}
	for i := range p.pumps {
		if p.PumpOn(i + 1) {
			return true
		}
	}
	return false
}

type homeSwitch struct{ p *Plant }

func (h homeSwitch) Get() bool {
	return h.p.Position() <= 0
}
