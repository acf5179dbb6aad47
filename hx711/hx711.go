// Package hx711 reads a load cell through an HX711 24-bit ADC by bit-banging its clock and data
// pins. Reads never wait for a conversion: callers check Ready first
package hx711

import (
	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
)

// Gain selects the input channel and amplification through the number of extra clock pulses
type Gain int

const (
	Gain128 Gain = 1
	Gain64  Gain = 3
	Gain32  Gain = 2
)

type Config struct {
	Gain Gain
	// Factor converts ADC counts to units, usually grams
	Factor float64
	// TareSamples is the number of recent samples averaged by Tare
	TareSamples int
}

func DefaultConfig() Config {
	return Config{
		Gain:        Gain128,
		Factor:      -438,
		TareSamples: 10,
	}
}

// Device is an HX711. It keeps the most recent raw samples so Tare can average them without
// waiting for new conversions
type Device struct {
	sck  mixtender.Pin
	dout mixtender.InputPin
	cfg  Config

	offset float64

	recent []int32
	next   int
	filled bool
}

func New(sck mixtender.Pin, dout mixtender.InputPin, cfg Config) (*Device, error) {
	if cfg.Factor == 0 {
		return nil, errors.New("error creating hx711: factor must not be zero")
	}
	if cfg.TareSamples < 1 {
		return nil, errors.New("error creating hx711: tare samples must be at least 1")
	}
	if cfg.Gain < Gain128 || cfg.Gain > Gain64 {
		return nil, errors.Errorf("error creating hx711: invalid gain %d", cfg.Gain)
	}

	sck.Set(false)
	return &Device{
		sck:    sck,
		dout:   dout,
		cfg:    cfg,
		recent: make([]int32, cfg.TareSamples),
	}, nil
}

// Ready is true when a conversion is waiting, which the HX711 signals by pulling DOUT low
func (d *Device) Ready() bool {
	return !d.dout.Get()
}

// ReadRaw shifts out one conversion, MSB first, then pulses the clock to select the gain of
// the next one
func (d *Device) ReadRaw() int32 {
	var v uint32
	for range 24 {
		d.sck.Set(true)
		d.sck.Set(false)
		v <<= 1
		if d.dout.Get() {
			v |= 1
		}
	}
	for range int(d.cfg.Gain) {
		d.sck.Set(true)
		d.sck.Set(false)
	}

	// sign extend the 24-bit two's complement value
	raw := int32(v<<8) >> 8

	d.recent[d.next] = raw
	d.next = (d.next + 1) % len(d.recent)
	if d.next == 0 {
		d.filled = true
	}
	return raw
}

// Units reads a conversion and converts it using the offset and factor
func (d *Device) Units() float64 {
	return (float64(d.ReadRaw()) - d.offset) / d.cfg.Factor
}

// Tare uses the average of the recent samples as the new offset. Without samples it reads one
// if a conversion is ready, otherwise the offset is unchanged
func (d *Device) Tare() {
	n := d.next
	if d.filled {
		n = len(d.recent)
	}
	if n == 0 {
		if !d.Ready() {
			return
		}
		d.ReadRaw()
		n = 1
	}

	var sum float64
	for _, v := range d.recent[:n] {
		sum += float64(v)
	}
	d.offset = sum / float64(n)
}

// Offset is the tare offset in raw counts
func (d *Device) Offset() float64 {
	return d.offset
}

func (d *Device) SetOffset(offset float64) {
	d.offset = offset
}

func (d *Device) Factor() float64 {
	return d.cfg.Factor
}

// PowerDown holds the clock high, which puts the HX711 to sleep after 60µs
func (d *Device) PowerDown() {
	d.sck.Set(false)
	d.sck.Set(true)
}

// PowerUp wakes the HX711. The first conversion after waking uses Gain128
func (d *Device) PowerUp() {
	d.sck.Set(false)
}
