// Package schedule selects pass windows for a ground station: the best
// non-overlapping subset under a metric, or an unconstrained top-K ranking.
package schedule

import (
	"slices"
	"sort"
	"time"

	"github.com/signalsfoundry/groundpass/model"
)

// DefaultMinDuration is the shortest window worth scheduling.
const DefaultMinDuration = 5 * time.Second

// Scheduler selects among candidate windows. The zero value accepts any window
// with End after Start.
type Scheduler struct {
	// MinDuration drops candidates shorter than this before selection.
	MinDuration time.Duration
}

// NewScheduler returns a Scheduler with DefaultMinDuration.
func NewScheduler() Scheduler {
	return Scheduler{MinDuration: DefaultMinDuration}
}

// usable copies the non-degenerate candidates considered by Best.
func (s Scheduler) usable(cands []model.CandidateWindow) []model.CandidateWindow {
	out := make([]model.CandidateWindow, 0, len(cands))
	for _, c := range cands {
		if !c.Start.Before(c.End) || c.Duration() < s.MinDuration {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Best returns the maximum-weight subset of pairwise non-overlapping windows in
// chronological order. Windows that only touch (one ends exactly when the next
// starts) do not overlap. On equal totals the solution without the later-ending
// window is preferred.
func (s Scheduler) Best(cands []model.CandidateWindow, m Metric) model.Schedule {
	items := s.usable(cands)
	slices.SortStableFunc(items, func(a, b model.CandidateWindow) int {
		if c := a.End.Compare(b.End); c != 0 {
			return c
		}
		return a.Start.Compare(b.Start)
	})

	n := len(items)
	// prev[i] is the number of items (a prefix of the ordering) that end no later
	// than item i starts.
	prev := make([]int, n)
	for i, it := range items {
		prev[i] = sort.Search(n, func(k int) bool { return items[k].End.After(it.Start) })
	}

	// best[i] is the optimum over the first i items.
	best := make([]float64, n+1)
	take := make([]bool, n+1)
	for i := 1; i <= n; i++ {
		incl := m.Weight(items[i-1]) + best[prev[i-1]]
		if incl > best[i-1] {
			best[i], take[i] = incl, true
		} else {
			best[i] = best[i-1]
		}
	}

	var chosen []model.CandidateWindow
	for i := n; i > 0; {
		if take[i] {
			chosen = append(chosen, items[i-1])
			i = prev[i-1]
		} else {
			i--
		}
	}
	slices.Reverse(chosen)

	return model.Schedule{Metric: m.Name(), Windows: chosen, Score: best[n]}
}

// TopK ranks windows by weight, highest first, ignoring overlap. Equal weights
// keep their input order. Every candidate is ranked, degenerate ones included;
// only Best drops them. It returns min(k, len(cands)) windows and none for
// k <= 0.
func (s Scheduler) TopK(cands []model.CandidateWindow, m Metric, k int) []model.CandidateWindow {
	if k <= 0 {
		return []model.CandidateWindow{}
	}
	items := slices.Clone(cands)
	slices.SortStableFunc(items, func(a, b model.CandidateWindow) int {
		wa, wb := m.Weight(a), m.Weight(b)
		switch {
		case wa > wb:
			return -1
		case wa < wb:
			return 1
		default:
			return 0
		}
	})
	return items[:min(k, len(items))]
}
