package device

import (
	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/metering"
	"github.com/calvinmclean/mixtender/motion"
)

// Ticker is hardware that has to be serviced on every heartbeat, before the controllers
type Ticker interface {
	Tick()
}

// Hardware has the handles of the physical parts. They are created by the caller: machine pins
// and drivers on the board, the sim package on a host
type Hardware struct {
	// Axis is a driver that runs its own ramp, like the TMC5160. When it is nil the Coils are
	// stepped by a motion.Stepper
	Axis       motion.Axis
	Coils      [4]mixtender.Pin
	HomeSwitch mixtender.InputPin
	Scale      metering.Scale
	// Servos has one servo per configured valve, in valve order
	Servos []metering.Servo
	// PumpPins has one pin per configured pump, in pump order
	PumpPins []mixtender.Pin

	Tickers []Ticker
	Clock   mixtender.Clock
}
