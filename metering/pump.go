package metering

import "github.com/calvinmclean/mixtender"

// Pump is a peristaltic pump switched by a single output
type Pump struct {
	pin mixtender.Pin
	on  bool
}

// NewPump creates the Pump and switches it off
func NewPump(pin mixtender.Pin) *Pump {
	p := &Pump{pin: pin}
	p.Off()
	return p
}

func (p *Pump) On() {
	p.pin.Set(true)
	p.on = true
}

func (p *Pump) Off() {
	p.pin.Set(false)
	p.on = false
}

func (p *Pump) IsOn() bool {
	return p.on
}
