// Package conditioner holds the per-frame PCM filters applied around decode
// and capture: noise gate, fixed gain, decode-artifact suppression, light
// smoothing and the cheap activity check used by the half-duplex arbiter.
//
// Every function works in place on a caller-owned frame and allocates nothing.
package conditioner

import "math"

// Filter composes the noise gate and the fixed gain. The gate always runs
// first so that gain never lifts room noise above the gate.
type Filter struct {
	// GateEnergy is the minimum sum of squared samples a frame needs to pass.
	// Zero disables the gate.
	GateEnergy int64
	// Gain is the linear factor applied after the gate. 0 and 1 both mean unity.
	Gain float64
}

// Apply runs the gate then the gain. It reports whether the frame was gated.
func (f Filter) Apply(frame []int16) bool {
	if Gate(frame, f.GateEnergy) {
		return true
	}
	Gain(frame, f.Gain)
	return false
}

// Energy returns the sum of squared samples.
func Energy(frame []int16) int64 {
	var sum int64
	for _, s := range frame {
		v := int64(s)
		sum += v * v
	}
	return sum
}

// Gate zeroes frame when its energy is below threshold and reports whether it did.
func Gate(frame []int16, threshold int64) bool {
	if threshold <= 0 || Energy(frame) >= threshold {
		return false
	}
	clear(frame)
	return true
}

// Gain scales every sample by factor, clamping to the int16 range.
func Gain(frame []int16, factor float64) {
	if factor <= 0 || factor == 1.0 {
		return
	}
	for i, s := range frame {
		v := float64(s) * factor
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		frame[i] = int16(v)
	}
}

// CountExtreme counts samples whose magnitude is strictly above ceiling.
func CountExtreme(frame []int16, ceiling int) int {
	n := 0
	for _, s := range frame {
		if abs(s) > ceiling {
			n++
		}
	}
	return n
}

// Corrupt reports whether more than a quarter of frame is extreme. Such frames
// come from a damaged decode and are dropped instead of played.
func Corrupt(frame []int16, ceiling int) bool {
	if ceiling <= 0 {
		return false
	}
	return CountExtreme(frame, ceiling) > len(frame)/4
}

// Smooth runs a single in-place pass of a 3-tap moving average over the
// interior samples. The first and last sample are left untouched.
func Smooth(frame []int16) {
	for i := 1; i < len(frame)-1; i++ {
		sum := int32(frame[i-1]) + int32(frame[i]) + int32(frame[i+1])
		frame[i] = int16(sum / 3)
	}
}

// IsActive samples the start, quarter points, middle and end of frame and
// reports whether any of them is louder than floor.
func IsActive(frame []int16, floor int) bool {
	n := len(frame)
	if n == 0 {
		return false
	}
	for _, i := range [...]int{0, n / 4, n / 2, 3 * n / 4, n - 1} {
		if abs(frame[i]) > floor {
			return true
		}
	}
	return false
}

func abs(s int16) int {
	v := int(s)
	if v < 0 {
		return -v
	}
	return v
}
