package core

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/signalsfoundry/groundpass/model"
)

const (
	// DefaultChunkSize bounds the span scanned by a single detector call.
	DefaultChunkSize = 24 * time.Hour
	// DefaultChunkMargin widens every chunk scan on both sides so rise/set
	// crossings near chunk edges are seen in full.
	DefaultChunkMargin = 10 * time.Minute
)

// ChunkResult is the output of one chunk of a batch run.
type ChunkResult struct {
	Index      int
	ChunkStart time.Time
	ChunkEnd   time.Time
	// Windows owned by this chunk, already clipped to the overall horizon.
	Windows []model.PassWindow
}

// BatchDriver splits a long horizon into fixed-size chunks and detects passes
// chunk by chunk.
//
// Each chunk owns exactly the windows whose start falls in [chunkStart,
// chunkEnd). The first chunk additionally owns a window already in progress at
// the overall start. Ownership by start is the only de-duplication rule across
// chunk boundaries.
//
// A chunk whose scan ends inside a window it owns keeps extending its scan end
// (doubling the extension, never past the overall end plus Margin) until the
// window closes, so passes longer than Margin that straddle a chunk boundary are
// not lost. Choose ChunkSize and Margin as multiples of the detector step so
// every chunk samples the same grid; the results are then independent of
// ChunkSize.
type BatchDriver struct {
	Detector  *Detector
	ChunkSize time.Duration
	Margin    time.Duration
}

// NewBatchDriver returns a driver with the default chunk size and margin.
func NewBatchDriver(d *Detector) *BatchDriver {
	return &BatchDriver{Detector: d, ChunkSize: DefaultChunkSize, Margin: DefaultChunkMargin}
}

func (b *BatchDriver) validate() error {
	if b.Detector == nil {
		return fmt.Errorf("%w: nil detector", ErrInvalidOptions)
	}
	if b.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %s must be positive", ErrInvalidOptions, b.ChunkSize)
	}
	if b.Margin < 0 {
		return fmt.Errorf("%w: margin %s must not be negative", ErrInvalidOptions, b.Margin)
	}
	return nil
}

// Chunks returns a lazy sequence of per-chunk results over [start, end]. The
// caller can stop early by breaking out of the loop. The sequence stops after
// the first error.
func (b *BatchDriver) Chunks(elev ElevationFunc, start, end time.Time) iter.Seq2[ChunkResult, error] {
	return func(yield func(ChunkResult, error) bool) {
		if err := b.validate(); err != nil {
			yield(ChunkResult{}, err)
			return
		}
		if !start.Before(end) {
			yield(ChunkResult{}, ErrInvalidWindow)
			return
		}

		minDur := b.Detector.Options.MinDuration
		idx := 0
		for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStartNext(chunkStart, b.ChunkSize, end) {
			chunkEnd := chunkStartNext(chunkStart, b.ChunkSize, end)

			found, err := b.scanChunk(elev, chunkStart, chunkEnd, idx == 0, start, end)
			if err != nil {
				yield(ChunkResult{Index: idx, ChunkStart: chunkStart, ChunkEnd: chunkEnd}, fmt.Errorf("chunk %d [%s, %s): %w",
					idx, chunkStart.Format(time.RFC3339), chunkEnd.Format(time.RFC3339), err))
				return
			}

			res := ChunkResult{Index: idx, ChunkStart: chunkStart, ChunkEnd: chunkEnd}
			for _, w := range found {
				if !ownsWindow(w, chunkStart, chunkEnd, idx == 0, start) {
					continue
				}
				if clipped, ok := ClipWindow(w, start, end, minDur); ok {
					res.Windows = append(res.Windows, clipped)
				}
			}
			if !yield(res, nil) {
				return
			}
			idx++
		}
	}
}

// scanChunk detects over the chunk widened by Margin. While the scan ends in a
// window this chunk owns, the scan end is pushed further out, up to
// end+Margin, the same limit a single scan over the whole horizon would have.
func (b *BatchDriver) scanChunk(elev ElevationFunc, chunkStart, chunkEnd time.Time, firstChunk bool, start, end time.Time) ([]model.PassWindow, error) {
	scanStart, scanEnd := chunkStart.Add(-b.Margin), chunkEnd.Add(b.Margin)
	limit := end.Add(b.Margin)
	grow := max(b.Margin, b.Detector.Options.Step)
	for {
		found, state, err := b.Detector.scan(elev, scanStart, scanEnd)
		if err != nil {
			return nil, err
		}
		open, ok := state.(inside)
		if !ok || !scanEnd.Before(limit) {
			return found, nil
		}
		if !ownsWindow(model.PassWindow{Start: open.start, End: scanEnd}, chunkStart, chunkEnd, firstChunk, start) {
			return found, nil
		}
		scanEnd = scanEnd.Add(grow)
		if scanEnd.After(limit) {
			scanEnd = limit
		}
		grow *= 2
	}
}

// DetectAll drains Chunks, checking ctx between chunks.
func (b *BatchDriver) DetectAll(ctx context.Context, elev ElevationFunc, start, end time.Time) ([]model.PassWindow, error) {
	var out []model.PassWindow
	for res, err := range b.Chunks(elev, start, end) {
		if err != nil {
			return nil, err
		}
		out = append(out, res.Windows...)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DetectPassesBatched is the chunked counterpart of DetectPasses.
func DetectPassesBatched(ctx context.Context, b *BatchDriver, p Propagator, loc model.GroundLocation, start, end time.Time) ([]model.PassWindow, error) {
	start, end, err := checkInterval(start, end)
	if err != nil {
		return nil, err
	}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return b.DetectAll(ctx, ElevationOf(p, NewObserver(WGS84, loc)), start, end)
}

func chunkStartNext(chunkStart time.Time, size time.Duration, end time.Time) time.Time {
	next := chunkStart.Add(size)
	if next.After(end) {
		return end
	}
	return next
}

func ownsWindow(w model.PassWindow, chunkStart, chunkEnd time.Time, firstChunk bool, overallStart time.Time) bool {
	if !w.Start.Before(chunkStart) && w.Start.Before(chunkEnd) {
		return true
	}
	return firstChunk && w.Start.Before(overallStart) && w.End.After(overallStart)
}

// ClipWindow clips w to [start, end], recomputing the rounded duration. It
// reports false when the rounded duration of what remains is below minDur, so
// a 4.6 s remainder counts as 5 s.
func ClipWindow(w model.PassWindow, start, end time.Time, minDur time.Duration) (model.PassWindow, bool) {
	if w.Start.Before(start) {
		w.Start = start
	}
	if w.End.After(end) {
		w.End = end
	}
	if !w.Start.Before(w.End) {
		return model.PassWindow{}, false
	}
	secs := roundSeconds(w.End.Sub(w.Start))
	if time.Duration(secs)*time.Second < minDur {
		return model.PassWindow{}, false
	}
	w.DurationS = secs
	return w, true
}
