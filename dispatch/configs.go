package dispatch

import (
	"time"

	"github.com/calvinmclean/mixtender/motion"
)

// Config has the cup detection thresholds and the step timing
type Config struct {
	// CupPresentWeight must be exceeded by the absolute weight to detect a cup
	CupPresentWeight float64
	// CupAbsentWeight is the absolute weight at or below which an idle cup is considered gone
	CupAbsentWeight float64
	// CupRemovedWeight is the absolute weight below which a finished drink is considered taken
	CupRemovedWeight float64

	// EndDelay is waited after a step is dispensed, before moving on
	EndDelay time.Duration

	Speed     uint16
	ParkSpeed uint16

	// ValveCount is the number of ingredient identifiers served by valves. Identifiers above it
	// are pumps
	ValveCount int
	// PumpStation is the station shared by all pumps
	PumpStation int
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		CupPresentWeight: 10.0,
		CupAbsentWeight:  3.0,
		CupRemovedWeight: 2.0,
		EndDelay:         200 * time.Millisecond,
		Speed:            motion.DefaultSpeed,
		ParkSpeed:        motion.DefaultSpeed,
		ValveCount:       6,
		PumpStation:      7,
	}
}
