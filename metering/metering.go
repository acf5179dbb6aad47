package metering

import (
	"time"

	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/log"
)

var (
	ErrInvalidValve    = errors.New("invalid valve index")
	ErrInvalidPump     = errors.New("invalid pump index")
	ErrNoValveSelected = errors.New("no valve selected for trim")
)

// State is the state of a dispensing cycle
type State int

const (
	StateReady State = iota
	StateAwaitingStability
	StateStable
	StateDispensing
	StateAwaitingClosure
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateAwaitingStability:
		return "AwaitingStability"
	case StateStable:
		return "Stable"
	case StateDispensing:
		return "Dispensing"
	case StateAwaitingClosure:
		return "AwaitingClosure"
	case StateFinished:
		return "Finished"
	default:
		fallthrough
	case StateReady:
		return "Ready"
	}
}

// Scale is a tared load cell. Units is (raw - Offset) / Factor
type Scale interface {
	// Ready is true when a new sample can be read without waiting
	Ready() bool
	Units() float64
	Tare()
	Offset() float64
	Factor() float64
}

// Controller owns the scale and the valve and pump registries. It opens one actuator at a time
// and closes it once the tared weight reaches the target
type Controller struct {
	scale  Scale
	clock  mixtender.Clock
	cfg    Config
	filter *Filter

	valves []*Valve
	pumps  []*Pump

	state        State
	dispenseType mixtender.DeviceType
	// valveIndex and pumpIndex are 0-based
	valveIndex int
	pumpIndex  int
	// trimIndex is the 0-based valve selected for trim, -1 when none
	trimIndex int

	targetWeight   float64
	latestWeight   float64
	absoluteWeight float64

	stabilityStart time.Time
	closureStart   time.Time

	// OnComplete is called with the 1-based device index and the dispensed weight once a cycle
	// finishes normally. It is not called for aborted cycles
	OnComplete func(mixtender.DeviceType, int, float64)

	log log.Logger
}

// New creates a Controller around the scale. Valves and pumps are registered afterwards
func New(scale Scale, clock mixtender.Clock, cfg Config) (*Controller, error) {
	if scale == nil {
		return nil, errors.New("missing scale")
	}
	if clock == nil {
		clock = mixtender.SystemClock{}
	}

	return &Controller{
		scale:     scale,
		clock:     clock,
		cfg:       cfg,
		filter:    NewFilter(cfg.Smoothing, cfg.Resolution),
		state:     StateReady,
		trimIndex: -1,
		log:       log.New("metering"),
	}, nil
}

// SetLogger replaces the default logger
func (c *Controller) SetLogger(l log.Logger) {
	c.log = l
}

// RegisterValve appends the valve and returns the number of valves, which is also its 1-based index
func (c *Controller) RegisterValve(v *Valve) int {
	c.valves = append(c.valves, v)
	return len(c.valves)
}

// RegisterPump appends the pump and returns the number of pumps, which is also its 1-based index
func (c *Controller) RegisterPump(p *Pump) int {
	c.pumps = append(c.pumps, p)
	return len(c.pumps)
}

// Heartbeat reads the scale and advances the dispensing cycle
func (c *Controller) Heartbeat() {
	c.readScale()

	now := c.clock.Now()

	if c.state == StateAwaitingClosure && now.Sub(c.closureStart) >= c.cfg.ClosureDelay {
		c.log.Info("awaiting closure complete")
		c.resetDispensing(false)
		return
	}

	if c.state == StateAwaitingStability && now.Sub(c.stabilityStart) >= c.cfg.StabilityDelay {
		c.state = StateStable
	}

	if c.state == StateStable {
		c.log.WithField("weight", c.latestWeight).Info("stable, opening")
		c.state = StateDispensing
		c.openActuator()
	}

	if c.state == StateDispensing && c.latestWeight >= c.targetWeight {
		c.log.WithFields(log.Fields{
			"weight": c.latestWeight,
			"target": c.targetWeight,
		}).Info("target reached, closing")
		c.closeActuator()
		c.state = StateAwaitingClosure
		c.closureStart = now
	}
}

func (c *Controller) readScale() {
	if !c.scale.Ready() {
		return
	}

	c.latestWeight = c.filter.Update(c.scale.Units())

	untared := c.latestWeight
	if factor := c.scale.Factor(); factor != 0 {
		untared += c.scale.Offset() / factor
	}
	c.absoluteWeight = untared - c.cfg.EmptyContainerWeight
}

// BeginDispensingValve starts a cycle on the 1-based valve index
func (c *Controller) BeginDispensingValve(valve int, targetWeight float64) error {
	return c.BeginDispensing(mixtender.DeviceTypeValve, valve, targetWeight)
}

// BeginDispensingPump starts a cycle on the 1-based pump index
func (c *Controller) BeginDispensingPump(pump int, targetWeight float64) error {
	return c.BeginDispensing(mixtender.DeviceTypePump, pump, targetWeight)
}

// BeginDispensing tares the scale and starts waiting for stability. An index that is not
// registered is rejected and nothing changes
func (c *Controller) BeginDispensing(deviceType mixtender.DeviceType, index int, targetWeight float64) error {
	logger := c.log.WithFields(log.Fields{
		"type":   deviceType,
		"index":  index,
		"target": targetWeight,
	})

	switch deviceType {
	case mixtender.DeviceTypePump:
		if index < 1 || index > len(c.pumps) {
			logger.WithField("pumps", len(c.pumps)).Warn("invalid pump index")
			return errors.Wrapf(ErrInvalidPump, "pump %d of %d", index, len(c.pumps))
		}
	default:
		if index < 1 || index > len(c.valves) {
			logger.WithField("valves", len(c.valves)).Warn("invalid valve index")
			return errors.Wrapf(ErrInvalidValve, "valve %d of %d", index, len(c.valves))
		}
	}

	// never leave the previous actuator open
	if c.state == StateDispensing {
		c.closeActuator()
	}

	c.dispenseType = deviceType
	if deviceType == mixtender.DeviceTypePump {
		c.pumpIndex = index - 1
	} else {
		c.valveIndex = index - 1
	}
	c.targetWeight = targetWeight

	c.Tare()
	c.stabilityStart = c.clock.Now()
	c.state = StateAwaitingStability

	logger.Info("beginning dispensing")
	return nil
}

// AbortDispensing closes the current actuator and ends the cycle without calling OnComplete.
// It is safe in any state
func (c *Controller) AbortDispensing() {
	c.log.WithField("state", c.state).Info("aborting dispensing")
	c.closeActuator()
	c.resetDispensing(true)
}

func (c *Controller) openActuator() {
	if c.dispenseType == mixtender.DeviceTypePump {
		c.pumps[c.pumpIndex].On()
		return
	}

	err := c.valves[c.valveIndex].SetPosition(mixtender.ValveOpen)
	if err != nil {
		c.log.WithField("valve", c.valveIndex+1).Errorf("error opening valve: %v", err)
	}
}

func (c *Controller) closeActuator() {
	if c.dispenseType == mixtender.DeviceTypePump {
		if c.pumpIndex < len(c.pumps) {
			c.pumps[c.pumpIndex].Off()
		}
		return
	}

	if c.valveIndex < len(c.valves) {
		err := c.valves[c.valveIndex].SetPosition(mixtender.ValveClosed)
		if err != nil {
			c.log.WithField("valve", c.valveIndex+1).Errorf("error closing valve: %v", err)
		}
	}
}

func (c *Controller) resetDispensing(skipCallback bool) {
	index := c.valveIndex + 1
	if c.dispenseType == mixtender.DeviceTypePump {
		index = c.pumpIndex + 1
	}

	c.state = StateFinished
	if !skipCallback && c.OnComplete != nil {
		c.OnComplete(c.dispenseType, index, c.latestWeight)
	}

	c.targetWeight = 0
	c.valveIndex = 0
	c.pumpIndex = 0
	c.latestWeight = 0
	c.closureStart = time.Time{}
	c.stabilityStart = time.Time{}
}

// Tare zeroes the scale at the current load
func (c *Controller) Tare() {
	c.scale.Tare()
}

func (c *Controller) State() State {
	return c.state
}

// LatestWeight is the filtered weight relative to the last tare
func (c *Controller) LatestWeight() float64 {
	return c.latestWeight
}

// AbsoluteWeight is the filtered weight independent of taring, minus the empty container weight
func (c *Controller) AbsoluteWeight() float64 {
	return c.absoluteWeight
}

func (c *Controller) TargetWeight() float64 {
	return c.targetWeight
}

func (c *Controller) ValveCount() int {
	return len(c.valves)
}

func (c *Controller) PumpCount() int {
	return len(c.pumps)
}

// Valve returns the valve at the 1-based index
func (c *Controller) Valve(id int) (*Valve, error) {
	if id < 1 || id > len(c.valves) {
		return nil, errors.Wrapf(ErrInvalidValve, "valve %d of %d", id, len(c.valves))
	}
	return c.valves[id-1], nil
}

// Pump returns the pump at the 1-based index
func (c *Controller) Pump(id int) (*Pump, error) {
	if id < 1 || id > len(c.pumps) {
		return nil, errors.Wrapf(ErrInvalidPump, "pump %d of %d", id, len(c.pumps))
	}
	return c.pumps[id-1], nil
}

// SetAllValves moves every valve to the position
func (c *Controller) SetAllValves(p mixtender.ValvePosition) error {
	var firstErr error
	for i, v := range c.valves {
		err := v.SetPosition(p)
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "valve %d", i+1)
		}
	}
	return firstErr
}

// SelectValveForTrim selects the 1-based valve for TrimValve, clears the trim of position p and
// moves the valve there. The trim of the other position is kept
func (c *Controller) SelectValveForTrim(id int, p mixtender.ValvePosition) error {
	v, err := c.Valve(id)
	if err != nil {
		c.log.WithFields(log.Fields{
			"valve":  id,
			"valves": len(c.valves),
		}).Warn("invalid valve index for trim")
		return err
	}

	c.trimIndex = id - 1
	if p == mixtender.ValveClosed {
		return v.TrimClosed(0)
	}
	return v.TrimOpen(0)
}

// TrimValve adds delta degrees to the trim of the position the selected valve is in
func (c *Controller) TrimValve(delta int) error {
	if c.trimIndex < 0 {
		c.log.Warn("no valve selected for trim")
		return ErrNoValveSelected
	}

	v := c.valves[c.trimIndex]
	if v.Position() == mixtender.ValveClosed {
		return v.TrimClosed(v.ClosedTrim() + delta)
	}
	return v.TrimOpen(v.OpenTrim() + delta)
}

// ResetTrimPositions drops the trims of the selected valve and re-applies its position
func (c *Controller) ResetTrimPositions() error {
	if c.trimIndex < 0 {
		c.log.Warn("no valve selected for trim")
		return ErrNoValveSelected
	}

	v := c.valves[c.trimIndex]
	v.ResetTrimPositions()
	return v.SetPosition(v.Position())
}
