package mixtender

// TerminationChar ends variable-length commands on the serial link
const TerminationChar = '\n'

// DeviceType is the kind of actuator that pours an ingredient
type DeviceType int

const (
	DeviceTypeValve DeviceType = iota
	DeviceTypePump
)

func (dt DeviceType) String() string {
	switch dt {
	case DeviceTypePump:
		return "Pump"
	default:
		fallthrough
	case DeviceTypeValve:
		return "Valve"
	}
}

// ValvePosition is one of the two calibrated angles of a valve servo
type ValvePosition int

const (
	ValveClosed ValvePosition = iota
	ValveOpen
)

func (p ValvePosition) String() string {
	if p == ValveOpen {
		return "Open"
	}
	return "Closed"
}

// Toggle returns the opposite position
func (p ValvePosition) Toggle() ValvePosition {
	if p == ValveOpen {
		return ValveClosed
	}
	return ValveOpen
}

// Pin is a digital output. machine.Pin satisfies it on the board
type Pin interface {
	Set(bool)
}

// InputPin is a digital input. machine.Pin satisfies it on the board
type InputPin interface {
	Get() bool
}
