package schedule

import (
	"time"

	"github.com/signalsfoundry/groundpass/model"
)

// Clip restricts stored windows to [start, end] so their weights only count the
// part inside the query horizon. Durations are truncated to whole seconds and
// windows left shorter than minDur are dropped. Peak data is kept as stored.
func Clip(windows []model.CandidateWindow, start, end time.Time, minDur time.Duration) []model.CandidateWindow {
	out := make([]model.CandidateWindow, 0, len(windows))
	for _, w := range windows {
		if w.Start.Before(start) {
			w.Start = start
		}
		if w.End.After(end) {
			w.End = end
		}
		if !w.Start.Before(w.End) {
			continue
		}
		d := w.End.Sub(w.Start).Truncate(time.Second)
		if d < minDur {
			continue
		}
		w.DurationS = int(d / time.Second)
		out = append(out, w)
	}
	return out
}
