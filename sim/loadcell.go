package sim

import (
	"sync"
	"time"
)

// gain 128 conversions are 24 data pulses and one extra
const loadCellPulses = 25

// loadCell answers the HX711 serial protocol: DOUT goes low when a conversion is ready and the
// 24 bits are shifted out MSB first on the rising edges of PD_SCK
type loadCell struct {
	mu    sync.Mutex
	plant *Plant

	high   bool
	pulses int
	bit    bool

	ready          bool
	value          uint32
	lastConversion time.Time
}

// tick is called with the plant locked
func (c *loadCell) tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready || c.pulses > 0 || now.Sub(c.lastConversion) < c.plant.cfg.ConversionInterval {
		return
	}

	counts := c.plant.cfg.ScaleBase + int32(c.plant.load()*c.plant.cfg.ScaleFactor)
	c.value = uint32(counts) & 0xFFFFFF
	c.ready = true
	c.lastConversion = now
}

// Set is PD_SCK
func (c *loadCell) Set(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rising := v && !c.high
	c.high = v
	if !rising || !c.ready {
		return
	}

	c.pulses++
	if c.pulses <= 24 {
		c.bit = (c.value>>(24-c.pulses))&1 == 1
		return
	}

	c.bit = true
	if c.pulses == loadCellPulses {
		c.pulses = 0
		c.ready = false
	}
}

func (c *loadCell) data() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pulses == 0 {
		return !c.ready
	}
	return c.bit
}

type loadCellData struct{ c *loadCell }

// Get is DOUT
func (d loadCellData) Get() bool {
	return d.c.data()
}
