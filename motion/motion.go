package motion

import (
	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/log"
)

// ErrInvalidStation is returned when a station index is not registered
var ErrInvalidStation = errors.New("invalid station index")

// State is the state of the transport
type State int

const (
	StateNotReady State = iota
	StateHoming
	StateMovingToTarget
	StateAtTarget
)

func (s State) String() string {
	switch s {
	case StateHoming:
		return "Homing"
	case StateMovingToTarget:
		return "MovingToTarget"
	case StateAtTarget:
		return "AtTarget"
	default:
		fallthrough
	case StateNotReady:
		return "NotReady"
	}
}

// HomingStage is the sub-state of StateHoming
type HomingStage int

const (
	HomingNone HomingStage = iota
	HomingSeekingHome
	HomingRetracting
	HomingRefining
)

func (h HomingStage) String() string {
	switch h {
	case HomingSeekingHome:
		return "SeekingHome"
	case HomingRetracting:
		return "Retracting"
	case HomingRefining:
		return "Refining"
	default:
		return "None"
	}
}

// Station is a calibrated absolute position of the tray. Index 0 is the park position
type Station struct {
	Index    int
	Position int32
}

// Axis is a position-mode motor driver. The driver runs its own ramp toward the target; the
// Controller only commands it and reads the position back on every heartbeat
type Axis interface {
	Stop()
	CurrentPosition() int32
	SetCurrentPosition(int32)
	SetTargetPosition(int32)
	// SetMaxSpeed is in steps per second
	SetMaxSpeed(uint16)
}

// Controller owns the transport axis and moves the tray between stations
type Controller struct {
	axis       Axis
	homeSwitch mixtender.InputPin
	homingCfg  HomingConfig

	stations []Station
	// station is the index of the last commanded station, -1 before the first move
	station int

	state       State
	homingStage HomingStage

	onHomed func(bool)

	// OnStateChange is called only when the State actually changes
	OnStateChange func(State)
	// OnTargetReached is called when the tray arrives at the commanded station
	OnTargetReached func(Station, int)

	log log.Logger
}

// New creates a Controller and registers the park station at parkPosition. The transport
// stays NotReady until RefMachine completes
func New(axis Axis, homeSwitch mixtender.InputPin, homingCfg HomingConfig, parkPosition int32) *Controller {
	c := &Controller{
		axis:       axis,
		homeSwitch: homeSwitch,
		homingCfg:  homingCfg,
		station:    -1,
		state:      StateNotReady,
		log:        log.New("motion"),
	}
	c.DefineStation(parkPosition)
	return c
}

// SetLogger replaces the default logger
func (c *Controller) SetLogger(l log.Logger) {
	c.log = l
}

// Heartbeat advances the state machine. It must be called on every iteration of the driver loop
func (c *Controller) Heartbeat() {
	switch c.state {
	case StateHoming:
		switch c.homingStage {
		case HomingSeekingHome:
			c.awaitHomeSwitch()
		case HomingRetracting:
			c.awaitRetract()
		case HomingRefining:
			c.awaitRefinedHomeSwitch()
		}
	case StateMovingToTarget:
		c.awaitTarget()
	}
}

// RefMachine starts the homing sequence. onHomed is called once the tray is referenced and a
// park move was issued
func (c *Controller) RefMachine(onHomed func(bool)) {
	c.log.Info("homing")
	if onHomed != nil {
		c.onHomed = onHomed
	}

	c.setState(StateHoming)
	c.homingStage = HomingSeekingHome
	c.axis.Stop()
	c.axis.SetCurrentPosition(c.homingCfg.SeekStartPosition)
	c.axis.SetMaxSpeed(c.homingCfg.SeekSpeed)
	c.axis.SetTargetPosition(0)
}

func (c *Controller) awaitHomeSwitch() {
	if !c.homeSwitch.Get() {
		return
	}
	c.log.Info("home switch triggered, retracting")
	c.axis.Stop()
	c.axis.SetCurrentPosition(0)
	c.axis.SetMaxSpeed(c.homingCfg.RetractSpeed)
	c.axis.SetTargetPosition(c.homingCfg.RetractDistance)
	c.homingStage = HomingRetracting
}

func (c *Controller) awaitRetract() {
	if c.axis.CurrentPosition() < c.homingCfg.RetractDistance {
		return
	}
	c.log.Info("retract position reached, refining")
	c.axis.SetMaxSpeed(c.homingCfg.RefineSpeed)
	c.axis.SetTargetPosition(c.homingCfg.RefineTarget)
	c.homingStage = HomingRefining
}

func (c *Controller) awaitRefinedHomeSwitch() {
	if !c.homeSwitch.Get() {
		return
	}
	c.log.Info("homed, parking")
	c.axis.Stop()
	c.axis.SetCurrentPosition(0)
	c.homingStage = HomingNone

	// station 0 always exists so this cannot fail
	_ = c.GoPark(c.homingCfg.ParkSpeed)

	if c.onHomed != nil {
		c.onHomed(true)
	}
}

func (c *Controller) awaitTarget() {
	target := c.stations[c.station]
	if c.axis.CurrentPosition() != target.Position {
		return
	}

	c.log.WithFields(log.Fields{
		"station":  c.station,
		"position": target.Position,
	}).Info("target position reached")
	c.setState(StateAtTarget)

	if c.OnTargetReached != nil {
		c.OnTargetReached(target, c.station)
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

// DefineStation appends a station at the absolute position and returns its index
func (c *Controller) DefineStation(position int32) int {
	idx := len(c.stations)
	c.stations = append(c.stations, Station{Index: idx, Position: position})
	return idx
}

// StationCount returns the number of registered stations, including park
func (c *Controller) StationCount() int {
	return len(c.stations)
}

// GoToStation commands the tray to the station at the given max speed. An unknown index is
// rejected and nothing changes
func (c *Controller) GoToStation(index int, speed uint16) error {
	if index < 0 || index >= len(c.stations) {
		c.log.WithFields(log.Fields{
			"station":  index,
			"stations": len(c.stations),
		}).Warn("station index out of range")
		return errors.Wrapf(ErrInvalidStation, "station %d of %d", index, len(c.stations))
	}

	c.station = index
	c.homingStage = HomingNone
	c.setState(StateMovingToTarget)
	c.axis.SetMaxSpeed(speed)
	c.axis.SetTargetPosition(c.stations[index].Position)

	c.log.WithFields(log.Fields{
		"station":  index,
		"position": c.stations[index].Position,
		"speed":    speed,
	}).Debug("moving to station")
	return nil
}

// GoPark moves to station 0
func (c *Controller) GoPark(speed uint16) error {
	return c.GoToStation(0, speed)
}

// MoveStepsLeft moves the axis relative to where it is without touching the State. It is meant
// for jogging while calibrating
func (c *Controller) MoveStepsLeft(steps uint32) {
	c.axis.SetTargetPosition(c.axis.CurrentPosition() + int32(steps))
}

// MoveStepsRight is the opposite of MoveStepsLeft
func (c *Controller) MoveStepsRight(steps uint32) {
	c.axis.SetTargetPosition(c.axis.CurrentPosition() - int32(steps))
}

// CurrentPosition returns the position reported by the axis
func (c *Controller) CurrentPosition() int32 {
	return c.axis.CurrentPosition()
}

// Station returns the last commanded station. ok is false before the first move
func (c *Controller) Station() (s Station, ok bool) {
	if c.station < 0 {
		return Station{}, false
	}
	return c.stations[c.station], true
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) HomingStage() HomingStage {
	return c.homingStage
}

// IsParked is true when the tray rests at station 0
func (c *Controller) IsParked() bool {
	return c.state == StateAtTarget && c.station == 0
}

// IsAtTarget is true when the tray rests at any station
func (c *Controller) IsAtTarget() bool {
	return c.state == StateAtTarget
}

// IsReady is an alias of IsAtTarget
func (c *Controller) IsReady() bool {
	return c.IsAtTarget()
}
