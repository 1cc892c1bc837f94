package core

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/groundpass/model"
	"github.com/signalsfoundry/groundpass/timectrl"
)

// Options tunes pass detection.
type Options struct {
	// Step is the coarse scan interval.
	Step time.Duration
	// ThresholdDeg is the elevation a window must exceed.
	ThresholdDeg float64
	// MinDuration drops windows shorter than this after refinement.
	MinDuration time.Duration
	// RefineIterations is the fixed bisection depth for rise/set instants.
	RefineIterations int
}

// DefaultOptions returns a 30 s scan at the geometric horizon with a 5 s
// minimum window and 25 bisection steps.
func DefaultOptions() Options {
	return Options{
		Step:             30 * time.Second,
		ThresholdDeg:     0,
		MinDuration:      5 * time.Second,
		RefineIterations: DefaultRefineIterations,
	}
}

// Validate reports unusable option values.
func (o Options) Validate() error {
	if o.Step <= 0 {
		return fmt.Errorf("%w: step %s must be positive", ErrInvalidOptions, o.Step)
	}
	if o.MinDuration < 0 {
		return fmt.Errorf("%w: min duration %s must not be negative", ErrInvalidOptions, o.MinDuration)
	}
	if math.IsNaN(o.ThresholdDeg) || o.ThresholdDeg < -90 || o.ThresholdDeg > 90 {
		return fmt.Errorf("%w: threshold %.3f outside [-90, 90]", ErrInvalidOptions, o.ThresholdDeg)
	}
	if o.RefineIterations < 0 {
		return fmt.Errorf("%w: refine iterations %d must not be negative", ErrInvalidOptions, o.RefineIterations)
	}
	return nil
}

// Detector turns an elevation source into discrete pass windows.
type Detector struct {
	Options Options
}

// NewDetector validates opts and returns a Detector.
func NewDetector(opts Options) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Detector{Options: opts}, nil
}

// scanState is the detector's state between consecutive samples: either
// outside a window or inside one with its provisional start and running peak.
type scanState interface{ isScanState() }

type outside struct{}

type inside struct {
	start    time.Time
	peak     float64
	peakTime time.Time
}

func (outside) isScanState() {}
func (inside) isScanState()  {}

// Detect scans [start, end] and returns the completed windows in ascending
// order. A window still open when the scan ends is dropped, not truncated:
// callers that need it must widen the interval (BatchDriver does this with its
// margin).
func (d *Detector) Detect(elev ElevationFunc, start, end time.Time) ([]model.PassWindow, error) {
	windows, _, err := d.scan(elev, start, end)
	return windows, err
}

// scan is Detect that also returns the state at the last sample, so callers
// can see a window that was still open when the scan ended.
func (d *Detector) scan(elev ElevationFunc, start, end time.Time) ([]model.PassWindow, scanState, error) {
	opts := d.Options
	sampler, err := NewSampler(elev, start, end, opts.Step)
	if err != nil {
		return nil, nil, err
	}

	var windows []model.PassWindow
	var state scanState = outside{}
	var prev Sample
	first := true
	for cur, err := range sampler.All() {
		if err != nil {
			return nil, nil, err
		}
		if first {
			prev, first = cur, false
			continue
		}

		thr := opts.ThresholdDeg
		switch s := state.(type) {
		case outside:
			if prev.Elevation <= thr && cur.Elevation > thr {
				rise, err := RefineCrossing(elev, prev.Time, cur.Time, prev.Elevation, cur.Elevation, thr, opts.RefineIterations)
				if err != nil {
					return nil, nil, err
				}
				state = inside{start: rise, peak: cur.Elevation, peakTime: cur.Time}
			}
		case inside:
			if cur.Elevation > s.peak {
				s.peak, s.peakTime = cur.Elevation, cur.Time
			}
			if prev.Elevation > thr && cur.Elevation <= thr {
				set, err := RefineCrossing(elev, prev.Time, cur.Time, prev.Elevation, cur.Elevation, thr, opts.RefineIterations)
				if err != nil {
					return nil, nil, err
				}
				if dur := set.Sub(s.start); dur >= opts.MinDuration {
					windows = append(windows, model.PassWindow{
						Start:            s.start,
						End:              set,
						DurationS:        roundSeconds(dur),
						PeakElevationDeg: s.peak,
						PeakTime:         s.peakTime,
					})
				}
				state = outside{}
			} else {
				state = s
			}
		}
		prev = cur
	}
	return windows, state, nil
}

// DetectPasses is the caller-facing entry point: it enforces explicit-zone
// instants and a valid interval before any sampling, then scans with the WGS84
// frame transform for loc.
func DetectPasses(p Propagator, loc model.GroundLocation, start, end time.Time, opts Options) ([]model.PassWindow, error) {
	start, end, err := checkInterval(start, end)
	if err != nil {
		return nil, err
	}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	d, err := NewDetector(opts)
	if err != nil {
		return nil, err
	}
	return d.Detect(ElevationOf(p, NewObserver(WGS84, loc)), start, end)
}

// checkInterval is the boundary validation shared by the public entry points.
func checkInterval(start, end time.Time) (time.Time, time.Time, error) {
	start, err := timectrl.RequireExplicitZone(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err = timectrl.RequireExplicitZone(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, ErrInvalidWindow
	}
	return start, end, nil
}

func roundSeconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}
