package dispatch

import (
	"time"

	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/log"
	"github.com/calvinmclean/mixtender/metering"
)

var (
	ErrNoSteps       = errors.New("no steps to execute")
	ErrNotParked     = errors.New("transport is not parked")
	ErrJobInProgress = errors.New("a job is in progress")
)

// State is the state of the job
type State int

const (
	StateNoCup State = iota
	StateReady
	StateMoving
	StateServing
	StateAwaitingEndDelay
	StateStepComplete
	StateAwaitingRemoval
	StateJobComplete
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateMoving:
		return "Moving"
	case StateServing:
		return "Serving"
	case StateAwaitingEndDelay:
		return "AwaitingEndDelay"
	case StateStepComplete:
		return "StepComplete"
	case StateAwaitingRemoval:
		return "AwaitingRemoval"
	case StateJobComplete:
		return "JobComplete"
	default:
		fallthrough
	case StateNoCup:
		return "NoCup"
	}
}

// Status is the text announced to the Observer when the State is entered
func (s State) Status() string {
	switch s {
	case StateReady:
		return "ready"
	case StateMoving:
		return "moving"
	case StateServing:
		return "serving"
	case StateAwaitingEndDelay:
		return "settling"
	case StateStepComplete:
		return "step_complete"
	case StateAwaitingRemoval:
		return "awaiting_removal"
	case StateJobComplete:
		return "complete"
	default:
		return "no_cup"
	}
}

// Transport is the part of motion.Controller used by the Dispatcher
type Transport interface {
	GoToStation(index int, speed uint16) error
	GoPark(speed uint16) error
	IsParked() bool
	IsAtTarget() bool
}

// Dispenser is the part of metering.Controller used by the Dispatcher
type Dispenser interface {
	BeginDispensingValve(valve int, targetWeight float64) error
	BeginDispensingPump(pump int, targetWeight float64) error
	AbortDispensing()
	State() metering.State
	LatestWeight() float64
	AbsoluteWeight() float64
}

// Step is one ingredient of a recipe
type Step struct {
	StationIndex int
	Type         mixtender.DeviceType
	// DeviceIndex is 1-based
	DeviceIndex  int
	TargetWeight float64

	MovementStart time.Time
	DispenseStart time.Time
	DispenseEnd   time.Time

	Completed       bool
	DispensedWeight float64
}

// StepStatus is a snapshot of the active step
type StepStatus struct {
	Index           int
	StationIndex    int
	TargetWeight    float64
	DispensedWeight float64
	Completed       bool
	State           State
}

// Dispatcher runs a recipe: it moves the tray to each step's station, dispenses, and waits for
// the cup to be taken once every step is done. It does not own the Transport or the Dispenser
type Dispatcher struct {
	transport Transport
	dispenser Dispenser
	clock     mixtender.Clock
	cfg       Config
	observer  Observer

	steps       []Step
	state       State
	currentStep int

	cumulativeWeight float64
	jobStart         time.Time
	// cupAnnounced is the last cup presence sent to the observer
	cupAnnounced bool

	log log.Logger
}

// New creates a Dispatcher waiting for a cup
func New(transport Transport, dispenser Dispenser, clock mixtender.Clock, cfg Config) *Dispatcher {
	if clock == nil {
		clock = mixtender.SystemClock{}
	}
	return &Dispatcher{
		transport: transport,
		dispenser: dispenser,
		clock:     clock,
		cfg:       cfg,
		observer:  NopObserver{},
		state:     StateNoCup,
		log:       log.New("dispatch"),
	}
}

// SetObserver replaces the Observer. nil restores the NopObserver
func (d *Dispatcher) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	d.observer = o
}

// SetLogger replaces the default logger
func (d *Dispatcher) SetLogger(l log.Logger) {
	d.log = l
}

// Heartbeat advances the job. It must be called after the Transport and Dispenser heartbeats
func (d *Dispatcher) Heartbeat() {
	switch d.state {
	case StateNoCup:
		weight := d.dispenser.AbsoluteWeight()
		switch {
		case weight > d.cfg.CupPresentWeight:
			d.setState(StateReady)
			d.announceCup(true)
		case weight <= d.cfg.CupAbsentWeight:
			// a cancelled job can leave a cup announced that was taken away while parking
			d.announceCup(false)
		}
	case StateReady:
		if d.dispenser.AbsoluteWeight() <= d.cfg.CupAbsentWeight {
			d.setState(StateNoCup)
			d.announceCup(false)
		}
	case StateMoving:
		d.movingPhase()
	case StateServing:
		d.servingPhase()
	case StateAwaitingEndDelay:
		d.awaitingEndDelayPhase()
	case StateAwaitingRemoval:
		d.awaitingRemovalPhase()
	case StateJobComplete:
		d.jobCompletePhase()
	}
}

func (d *Dispatcher) movingPhase() {
	if !d.transport.IsAtTarget() {
		return
	}

	step := &d.steps[d.currentStep]
	d.log.WithFields(log.Fields{
		"step":    d.currentStep,
		"station": step.StationIndex,
	}).Info("transport at target")

	step.DispenseStart = d.clock.Now()
	d.setState(StateServing)

	var err error
	if step.Type == mixtender.DeviceTypePump {
		err = d.dispenser.BeginDispensingPump(step.DeviceIndex, step.TargetWeight)
	} else {
		err = d.dispenser.BeginDispensingValve(step.DeviceIndex, step.TargetWeight)
	}
	if err != nil {
		d.failJob(errors.Wrapf(err, "step %d", d.currentStep))
	}
}

func (d *Dispatcher) servingPhase() {
	if d.dispenser.State() == metering.StateFinished {
		d.log.WithField("step", d.currentStep).Info("dispensing complete")
		d.steps[d.currentStep].DispenseEnd = d.clock.Now()
		d.setState(StateAwaitingEndDelay)
		return
	}

	d.observer.WeightUpdate(d.currentStep, d.dispenser.LatestWeight())
}

func (d *Dispatcher) awaitingEndDelayPhase() {
	step := &d.steps[d.currentStep]
	if d.clock.Now().Sub(step.DispenseEnd) < d.cfg.EndDelay {
		return
	}

	d.setState(StateStepComplete)
	step.Completed = true
	step.DispensedWeight = d.dispenser.LatestWeight()
	d.cumulativeWeight += step.DispensedWeight

	d.log.WithFields(log.Fields{
		"step":       d.currentStep,
		"dispensed":  step.DispensedWeight,
		"cumulative": d.cumulativeWeight,
	}).Info("step complete")
	d.observer.StepFinished(d.currentStep)

	if d.currentStep+1 >= len(d.steps) {
		d.log.Info("all steps complete")
		d.setState(StateAwaitingRemoval)
		d.park()
		d.observer.JobFinished()
		return
	}

	d.currentStep++
	err := d.performStep()
	if err != nil {
		d.failJob(err)
	}
}

func (d *Dispatcher) awaitingRemovalPhase() {
	if !d.transport.IsParked() {
		return
	}
	if d.dispenser.AbsoluteWeight() >= d.cfg.CupRemovedWeight {
		return
	}

	d.log.Info("cup removed, job complete")
	d.setState(StateJobComplete)
	d.announceCup(false)
	d.observer.Ready()
}

func (d *Dispatcher) jobCompletePhase() {
	if !d.transport.IsParked() {
		return
	}
	d.reset()
}

// performStep commands the move to the current step's station
func (d *Dispatcher) performStep() error {
	step := &d.steps[d.currentStep]
	d.log.WithFields(log.Fields{
		"step":    d.currentStep,
		"of":      len(d.steps),
		"station": step.StationIndex,
	}).Info("performing step")

	err := d.transport.GoToStation(step.StationIndex, d.cfg.Speed)
	if err != nil {
		return errors.Wrapf(err, "step %d", d.currentStep)
	}

	step.MovementStart = d.clock.Now()
	d.setState(StateMoving)
	d.observer.StepBeginning(d.currentStep)
	return nil
}

func (d *Dispatcher) park() {
	err := d.transport.GoPark(d.cfg.ParkSpeed)
	if err != nil {
		d.log.Errorf("error parking: %v", err)
	}
}

// failJob ends a job that cannot continue the same way Cancel does
func (d *Dispatcher) failJob(err error) {
	d.log.Errorf("job failed: %v", err)
	d.observer.Status("error")
	d.Cancel()
}

func (d *Dispatcher) reset() {
	d.log.WithFields(log.Fields{
		"steps":    len(d.steps),
		"duration": d.clock.Now().Sub(d.jobStart).String(),
		"weight":   d.cumulativeWeight,
	}).Info("clearing recipe")

	d.steps = nil
	d.currentStep = 0
	d.cumulativeWeight = 0
	d.jobStart = time.Time{}
	d.setState(StateNoCup)
}

// announceCup tells the observer about a change of cup presence
func (d *Dispatcher) announceCup(present bool) {
	if d.cupAnnounced == present {
		return
	}
	d.cupAnnounced = present
	d.observer.CupPresent(present)
}

func (d *Dispatcher) setState(s State) {
	if d.state == s {
		return
	}
	d.log.WithFields(log.Fields{
		"from": d.state,
		"to":   s,
	}).Debug("state change")
	d.state = s
	d.observer.Status(s.Status())
}

// jobActive is true from Start until the recipe is cleared
func (d *Dispatcher) jobActive() bool {
	return d.state != StateNoCup && d.state != StateReady
}

// ClearSteps drops the recipe. It is rejected while a job runs
func (d *Dispatcher) ClearSteps() error {
	if d.jobActive() {
		return ErrJobInProgress
	}
	d.steps = nil
	return nil
}

// AddStep appends a step to the recipe. deviceIndex is 1-based
func (d *Dispatcher) AddStep(deviceType mixtender.DeviceType, deviceIndex, stationIndex int, targetWeight float64) error {
	if d.jobActive() {
		return ErrJobInProgress
	}
	d.steps = append(d.steps, Step{
		StationIndex: stationIndex,
		Type:         deviceType,
		DeviceIndex:  deviceIndex,
		TargetWeight: targetWeight,
	})
	return nil
}

// Start runs the recipe. It needs at least one step and a parked transport, otherwise nothing
// changes and the reason is returned
func (d *Dispatcher) Start() error {
	if d.jobActive() {
		return ErrJobInProgress
	}
	if len(d.steps) == 0 {
		d.log.Warn("no steps to execute")
		return ErrNoSteps
	}
	if !d.transport.IsParked() {
		d.log.Warn("transport not parked")
		return ErrNotParked
	}

	d.log.WithFields(log.Fields{
		"steps":  len(d.steps),
		"weight": d.dispenser.LatestWeight(),
	}).Info("starting job")

	d.currentStep = 0
	d.cumulativeWeight = 0
	d.jobStart = d.clock.Now()

	// performStep only changes state once the move was accepted
	return d.performStep()
}

// Cancel stops dispensing, parks, and lets the job finish through the normal reset. It is safe
// in any state
func (d *Dispatcher) Cancel() {
	d.log.WithField("state", d.state).Info("cancelling job")
	d.dispenser.AbortDispensing()
	d.park()
	d.setState(StateJobComplete)
}

// IsServing is true while a job is moving or dispensing
func (d *Dispatcher) IsServing() bool {
	switch d.state {
	case StateNoCup, StateReady, StateAwaitingRemoval, StateJobComplete:
		return false
	}
	return true
}

func (d *Dispatcher) State() State {
	return d.state
}

// CurrentStep is the index of the active step
func (d *Dispatcher) CurrentStep() int {
	return d.currentStep
}

// CumulativeWeight is the sum of the dispensed weights of completed steps in this job
func (d *Dispatcher) CumulativeWeight() float64 {
	return d.cumulativeWeight
}

// Steps returns a copy of the recipe
func (d *Dispatcher) Steps() []Step {
	return append([]Step(nil), d.steps...)
}

// StepStatus returns the active step. ok is false when there is no recipe
func (d *Dispatcher) StepStatus() (status StepStatus, ok bool) {
	if d.currentStep >= len(d.steps) {
		return StepStatus{State: d.state}, false
	}

	step := d.steps[d.currentStep]
	dispensed := step.DispensedWeight
	if !step.Completed {
		dispensed = d.dispenser.LatestWeight()
	}

	return StepStatus{
		Index:           d.currentStep,
		StationIndex:    step.StationIndex,
		TargetWeight:    step.TargetWeight,
		DispensedWeight: dispensed,
		Completed:       step.Completed,
		State:           d.state,
	}, true
}
