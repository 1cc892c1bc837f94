package core

import (
	"fmt"
	"iter"
	"time"
)

// Sample is one elevation evaluation.
type Sample struct {
	Time      time.Time
	Elevation float64
}

// Sampler evaluates elevation on a fixed grid start, start+step, ... up to and
// including the last grid point not after end.
type Sampler struct {
	elev  ElevationFunc
	start time.Time
	end   time.Time
	step  time.Duration
}

// NewSampler validates the grid and returns a Sampler. The step directly
// controls how many times the orbital state source is called.
func NewSampler(elev ElevationFunc, start, end time.Time, step time.Duration) (*Sampler, error) {
	if elev == nil {
		return nil, fmt.Errorf("%w: nil elevation source", ErrInvalidOptions)
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %s must be positive", ErrInvalidOptions, step)
	}
	if !start.Before(end) {
		return nil, ErrInvalidWindow
	}
	return &Sampler{elev: elev, start: start, end: end, step: step}, nil
}

// Len returns the number of grid points.
func (s *Sampler) Len() int {
	return int(s.end.Sub(s.start)/s.step) + 1
}

// All returns a lazy sequence over the grid. Every call restarts from start.
// The sequence stops after yielding the first error.
func (s *Sampler) All() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		n := s.Len()
		for i := range n {
			t := s.start.Add(time.Duration(i) * s.step)
			el, err := s.elev(t)
			if err != nil {
				yield(Sample{Time: t}, err)
				return
			}
			if !yield(Sample{Time: t, Elevation: el}, nil) {
				return
			}
		}
	}
}
