package metering

import (
	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/log"
)

// Servo positions a valve. servo.Servo from tinygo.org/x/drivers satisfies it
type Servo interface {
	SetAngle(int) error
}

// Valve is a servo-actuated pinch valve with two calibrated angles. Each angle has a trim that
// is added to it, so the calibration can be adjusted at runtime
type Valve struct {
	servo Servo
	cfg   ValveConfig

	openTrim   int
	closedTrim int

	position mixtender.ValvePosition
	angle    int

	log log.Logger
}

// NewValve creates the Valve and moves it to closed
func NewValve(servo Servo, cfg ValveConfig) (*Valve, error) {
	if servo == nil {
		return nil, errors.New("missing servo")
	}

	v := &Valve{
		servo:    servo,
		cfg:      cfg,
		position: mixtender.ValveClosed,
		log:      log.New("valve"),
	}

	err := v.SetPosition(mixtender.ValveClosed)
	if err != nil {
		return nil, errors.Wrap(err, "error closing valve")
	}
	return v, nil
}

// SetPosition moves the servo to the trimmed angle of the position
func (v *Valve) SetPosition(p mixtender.ValvePosition) error {
	v.position = p
	if p == mixtender.ValveOpen {
		v.angle = v.cfg.OpenAngle + v.openTrim
	} else {
		v.angle = v.cfg.ClosedAngle + v.closedTrim
	}

	v.log.WithFields(log.Fields{
		"position": p,
		"angle":    v.angle,
	}).Debug("setting valve position")

	return v.servo.SetAngle(v.angle)
}

// TrimOpen sets the open trim and moves to open
func (v *Valve) TrimOpen(trim int) error {
	v.openTrim = trim
	return v.SetPosition(mixtender.ValveOpen)
}

// TrimClosed sets the closed trim and moves to closed
func (v *Valve) TrimClosed(trim int) error {
	v.closedTrim = trim
	return v.SetPosition(mixtender.ValveClosed)
}

// ResetTrimPositions drops both trims. The servo is not moved
func (v *Valve) ResetTrimPositions() {
	v.openTrim = 0
	v.closedTrim = 0
}

func (v *Valve) OpenTrim() int {
	return v.openTrim
}

func (v *Valve) ClosedTrim() int {
	return v.closedTrim
}

func (v *Valve) Position() mixtender.ValvePosition {
	return v.position
}

// Angle is the last angle written to the servo
func (v *Valve) Angle() int {
	return v.angle
}
