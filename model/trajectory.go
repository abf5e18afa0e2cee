// Package model holds the recorded flight trajectory data model consumed by
// the playback core.
package model

import (
	"fmt"
	"math"
	"sort"
)

// Trajectory is an immutable, externally-owned time series of recorded
// flight samples. Every populated series has the same length as Time, the
// sample rate is constant, and Time is strictly increasing. The playback
// core holds only a read reference and never mutates it.
type Trajectory struct {
	SampleRate float64 // Hz

	Time []float64 // seconds from recording start

	// Position, NED frame, metres.
	N []float64
	E []float64
	D []float64

	// Attitude, Euler angles, radians.
	Phi   []float64 // roll
	Theta []float64 // pitch
	Psi   []float64 // yaw / heading

	// Control surface deflections, radians.
	DeltaA []float64 // aileron
	DeltaE []float64 // elevator
	DeltaR []float64 // rudder

	// Propulsion.
	RPMLeft   []float64
	RPMRight  []float64
	TiltLeft  []float64 // radians
	TiltRight []float64 // radians
}

// Len returns the number of samples.
func (tr *Trajectory) Len() int { return len(tr.Time) }

// Duration returns the recorded duration in seconds, zero for empty or
// single-sample trajectories.
func (tr *Trajectory) Duration() float64 {
	if len(tr.Time) < 2 {
		return 0
	}
	return tr.Time[len(tr.Time)-1] - tr.Time[0]
}

// Validate checks the trajectory invariants: a positive sample rate, a
// non-empty strictly increasing time series, and every populated series
// matching the time series length.
func (tr *Trajectory) Validate() error {
	if tr.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", tr.SampleRate)
	}
	if len(tr.Time) == 0 {
		return fmt.Errorf("trajectory has no samples")
	}
	for i := 1; i < len(tr.Time); i++ {
		if tr.Time[i] <= tr.Time[i-1] {
			return fmt.Errorf("time not strictly increasing at sample %d (%v -> %v)",
				i, tr.Time[i-1], tr.Time[i])
		}
	}

	series := map[string][]float64{
		"N": tr.N, "E": tr.E, "D": tr.D,
		"phi": tr.Phi, "theta": tr.Theta, "psi": tr.Psi,
		"delta_a": tr.DeltaA, "delta_e": tr.DeltaE, "delta_r": tr.DeltaR,
		"rpm_left": tr.RPMLeft, "rpm_right": tr.RPMRight,
		"tilt_left": tr.TiltLeft, "tilt_right": tr.TiltRight,
	}
	for name, s := range series {
		if len(s) != 0 && len(s) != len(tr.Time) {
			return fmt.Errorf("series %s has %d samples, want %d", name, len(s), len(tr.Time))
		}
	}
	return nil
}

// IndexAtTime resolves a time in seconds to a sample index via binary search
// on the monotonic time series, clamped into [0, Len()-1].
func (tr *Trajectory) IndexAtTime(seconds float64) int {
	if len(tr.Time) == 0 {
		return 0
	}
	idx := sort.SearchFloat64s(tr.Time, seconds)
	if idx >= len(tr.Time) {
		idx = len(tr.Time) - 1
	}
	return idx
}

// GroundSpeed returns the horizontal speed in m/s at the given sample,
// differenced from the NED position series. Returns zero when position data
// is missing or the trajectory is too short to difference.
func (tr *Trajectory) GroundSpeed(i int) float64 {
	vn, ve, ok := tr.velocityAt(i)
	if !ok {
		return 0
	}
	return math.Hypot(vn, ve)
}

// ClimbRate returns the climb rate in m/s at the given sample, positive
// climbing.
func (tr *Trajectory) ClimbRate(i int) float64 {
	if len(tr.D) != len(tr.Time) || len(tr.Time) < 2 {
		return 0
	}
	lo, hi, dt := tr.diffWindow(i)
	return -(tr.D[hi] - tr.D[lo]) / dt
}

func (tr *Trajectory) velocityAt(i int) (vn, ve float64, ok bool) {
	if len(tr.N) != len(tr.Time) || len(tr.E) != len(tr.Time) || len(tr.Time) < 2 {
		return 0, 0, false
	}
	lo, hi, dt := tr.diffWindow(i)
	return (tr.N[hi] - tr.N[lo]) / dt, (tr.E[hi] - tr.E[lo]) / dt, true
}

// diffWindow picks the central-difference window around sample i, degrading
// to a one-sided difference at the ends. Out-of-range samples clamp to the
// nearest end.
func (tr *Trajectory) diffWindow(i int) (lo, hi int, dt float64) {
	if i < 0 {
		i = 0
	}
	if i > len(tr.Time)-1 {
		i = len(tr.Time) - 1
	}
	lo, hi = i-1, i+1
	if lo < 0 {
		lo = 0
	}
	if hi > len(tr.Time)-1 {
		hi = len(tr.Time) - 1
	}
	return lo, hi, tr.Time[hi] - tr.Time[lo]
}
