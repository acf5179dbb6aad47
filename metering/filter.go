package metering

import "math"

const (
	// DefaultSmoothing is the weight of a new sample in the low-pass filter
	DefaultSmoothing = 0.4
	// DefaultResolution is the step the filtered weight is rounded to
	DefaultResolution = 0.14
)

// Filter is an exponential low-pass filter whose output is quantized. Only the latest value is kept
type Filter struct {
	alpha      float64
	resolution float64
	filtered   float64
}

func NewFilter(alpha, resolution float64) *Filter {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothing
	}
	return &Filter{alpha: alpha, resolution: resolution}
}

// Update feeds a raw sample and returns the quantized estimate
func (f *Filter) Update(raw float64) float64 {
	f.filtered = f.alpha*raw + (1-f.alpha)*f.filtered
	return Quantize(f.filtered, f.resolution)
}

// Value is the unquantized estimate
func (f *Filter) Value() float64 {
	return f.filtered
}

// Reset forces the estimate to v
func (f *Filter) Reset(v float64) {
	f.filtered = v
}

// Quantize rounds v to the nearest multiple of resolution. A non-positive resolution is a no-op
func Quantize(v, resolution float64) float64 {
	if resolution <= 0 {
		return v
	}
	return math.Round(v/resolution) * resolution
}
