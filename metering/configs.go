package metering

import "time"

// Config has the timing and filtering values of the dispensing cycle
type Config struct {
	// StabilityDelay is waited after taring, before the actuator opens, so vibration from
	// positioning dies down
	StabilityDelay time.Duration
	// ClosureDelay is waited after closing so the last drops are weighed
	ClosureDelay time.Duration

	Smoothing  float64
	Resolution float64

	// EmptyContainerWeight is subtracted from the untared reading to get the AbsoluteWeight
	EmptyContainerWeight float64
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		StabilityDelay: 500 * time.Millisecond,
		ClosureDelay:   1000 * time.Millisecond,
		Smoothing:      DefaultSmoothing,
		Resolution:     DefaultResolution,
	}
}

// ValveConfig has the servo angles of a valve. They depend on how the servo horn is mounted
type ValveConfig struct {
	ClosedAngle int `json:"closedAngle"`
	OpenAngle   int `json:"openAngle"`
}

// DefaultValveConfig ...
func DefaultValveConfig() ValveConfig {
	return ValveConfig{
		ClosedAngle: 54,
		OpenAngle:   155,
	}
}
