package audio

import "math"

// RMS calculates the root mean square level of a frame of samples.
// Useful for input level display and silence detection.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the maximum absolute sample value of a frame
func Peak(samples []float32) float64 {
	peak := 0.0
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Meter smooths per-frame RMS readings into a display level. Attack is
// immediate, decay follows the configured coefficient.
type Meter struct {
	decay float64
	level float64
}

// NewMeter creates a level meter. decay in (0,1); higher means slower falloff.
func NewMeter(decay float64) *Meter {
	if decay <= 0 || decay >= 1 {
		decay = 0.8
	}
	return &Meter{decay: decay}
}

// Process folds one frame into the meter and returns the current level
func (m *Meter) Process(samples []float32) float64 {
	rms := RMS(samples)
	if rms >= m.level {
		m.level = rms
	} else {
		m.level = m.level * m.decay
	}
	return m.level
}

// Level returns the current smoothed level
func (m *Meter) Level() float64 {
	return m.level
}

// Reset zeroes the meter
func (m *Meter) Reset() {
	m.level = 0
}
