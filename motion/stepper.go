package motion

import (
	"time"

	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
)

const defaultStepInterval = 2000 * time.Microsecond

type StepMode int

const (
	StepModeFull StepMode = iota
	StepModeHalf
)

// StepperConfig ...
type StepperConfig struct {
	Pins     [4]mixtender.Pin
	StepMode StepMode
	Clock    mixtender.Clock
}

// Stepper drives a 4-coil stepper in position mode. It never sleeps: Tick must be called from the
// driver loop and takes at most one step, once the step interval for the current max speed has
// elapsed. Stepper implements Axis
type Stepper struct {
	pins        [4]mixtender.Pin
	stepMode    StepMode
	currentStep int
	clock       mixtender.Clock

	position     int32
	target       int32
	stepInterval time.Duration
	lastStep     time.Time
}

var _ Axis = &Stepper{}

func NewStepper(cfg StepperConfig) (*Stepper, error) {
	if cfg.StepMode != StepModeFull && cfg.StepMode != StepModeHalf {
		return nil, errors.New("invalid StepMode")
	}
	for i, p := range cfg.Pins {
		if p == nil {
			return nil, errors.Errorf("missing pin %d", i)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = mixtender.SystemClock{}
	}

	return &Stepper{
		pins:         cfg.Pins,
		stepMode:     cfg.StepMode,
		clock:        cfg.Clock,
		stepInterval: defaultStepInterval,
	}, nil
}

var (
	// 8-step half-step halfStepSequence
	halfStepSequence = [8][4]bool{
		{true, false, false, false},
		{true, true, false, false},
		{false, true, false, false},
		{false, true, true, false},
		{false, false, true, false},
		{false, false, true, true},
		{false, false, false, true},
		{true, false, false, true},
	}

	// 4-step sequence
	fullStepSequence = [4][4]bool{
		{true, false, false, false},
		{false, true, false, false},
		{false, false, true, false},
		{false, false, false, true},
	}
)

func (s *Stepper) sequenceLen() int {
	if s.stepMode == StepModeHalf {
		return 8
	}
	return 4
}

func (s *Stepper) applyStep() {
	var sequence [4]bool
	switch s.stepMode {
	default:
		fallthrough
	case StepModeFull:
		sequence = fullStepSequence[s.currentStep]
	case StepModeHalf:
		sequence = halfStepSequence[s.currentStep]
	}

	for i := range 4 {
		s.pins[i].Set(sequence[i])
	}
}

func (s *Stepper) stepForward() {
	s.currentStep = (s.currentStep + 1) % s.sequenceLen()
	s.applyStep()
	s.position++
}

func (s *Stepper) stepBackward() {
	s.currentStep = (s.currentStep - 1 + s.sequenceLen()) % s.sequenceLen()
	s.applyStep()
	s.position--
}

// Tick takes one step toward the target if it is due
func (s *Stepper) Tick() {
	if s.position == s.target {
		return
	}

	now := s.clock.Now()
	if !s.lastStep.IsZero() && now.Sub(s.lastStep) < s.stepInterval {
		return
	}
	s.lastStep = now

	if s.target > s.position {
		s.stepForward()
	} else {
		s.stepBackward()
	}
}

// Stop drops the remaining move
func (s *Stepper) Stop() {
	s.target = s.position
}

func (s *Stepper) CurrentPosition() int32 {
	return s.position
}

// SetCurrentPosition re-labels the current position without moving. The target follows so the
// motor stays still
func (s *Stepper) SetCurrentPosition(p int32) {
	s.position = p
	s.target = p
}

func (s *Stepper) SetTargetPosition(p int32) {
	s.target = p
}

func (s *Stepper) TargetPosition() int32 {
	return s.target
}

// SetMaxSpeed sets the step rate in steps per second. The effective rate is also capped by how
// often Tick is called
func (s *Stepper) SetMaxSpeed(stepsPerSecond uint16) {
	if stepsPerSecond == 0 {
		stepsPerSecond = 1
	}
	s.stepInterval = time.Second / time.Duration(stepsPerSecond)
}

// Release de-energizes all coils
func (s *Stepper) Release() {
	for _, p := range s.pins {
		p.Set(false)
	}
}
