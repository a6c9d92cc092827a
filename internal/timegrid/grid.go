/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timegrid builds the sample-time sequences a path is discretized on.
package timegrid

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument indicates grid parameters that cannot produce a sequence.
var ErrInvalidArgument = errors.New("invalid grid argument")

// Grid is an immutable, ordered sequence of sample times in seconds.
//
// Times never move against the direction of travel. The first element is the
// start offset and the last element is exactly start+duration.
type Grid struct {
	times []float64
}

// Build samples [start, start+duration] at the given frequency.
//
// A negative duration walks the path backwards. The grid holds
// ceil(|duration|*frequency)+1 samples and the final one is forced to
// start+duration so floating-point step accumulation never misses the endpoint.
//
// When |duration|*frequency rounds to just above an integer the regular step
// already lands on the endpoint, so the endpoint appears twice. Build(0, 1.1, 100)
// ends with 1.09, 1.1, 1.1. The sample count is part of the read contract and is
// kept as is; every earlier pair of samples is strictly ordered.
func Build(start, duration, frequency float64) (Grid, error) {
	switch {
	case math.IsNaN(frequency) || math.IsInf(frequency, 0) || frequency <= 0:
		return Grid{}, fmt.Errorf("%w: frequency must be positive and finite, got %v", ErrInvalidArgument, frequency)
	case math.IsNaN(start) || math.IsInf(start, 0):
		return Grid{}, fmt.Errorf("%w: start must be finite, got %v", ErrInvalidArgument, start)
	case math.IsNaN(duration) || math.IsInf(duration, 0):
		return Grid{}, fmt.Errorf("%w: duration must be finite, got %v", ErrInvalidArgument, duration)
	case duration == 0:
		return Grid{}, fmt.Errorf("%w: duration must be non-zero", ErrInvalidArgument)
	}

	n := int(math.Ceil(math.Abs(duration) * frequency))
	sign := 1.0
	if duration < 0 {
		sign = -1.0
	}

	times := make([]float64, n+1)
	for i := 0; i < n; i++ {
		times[i] = start + sign*float64(i)/frequency
	}
	times[n] = start + duration

	return Grid{times: times}, nil
}

// Len returns the number of samples.
func (g Grid) Len() int {
	return len(g.times)
}

// IsZero reports whether the grid was never built.
func (g Grid) IsZero() bool {
	return len(g.times) == 0
}

// At returns the i-th sample time.
func (g Grid) At(i int) float64 {
	return g.times[i]
}

// Start returns the first sample time.
func (g Grid) Start() float64 {
	return g.times[0]
}

// End returns the last sample time.
func (g Grid) End() float64 {
	return g.times[len(g.times)-1]
}

// Direction returns +1 for forward grids and -1 for reversed ones.
func (g Grid) Direction() int {
	if len(g.times) > 1 && g.times[len(g.times)-1] < g.times[0] {
		return -1
	}
	return 1
}

// Times returns a copy of the sample times.
func (g Grid) Times() []float64 {
	out := make([]float64, len(g.times))
	copy(out, g.times)
	return out
}
