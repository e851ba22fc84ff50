package aggregate

import (
	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// Scalar aggregates a single-valued observation.
type Scalar struct {
	Stats

	units units.System
	sum   bool
	hist  *history
}

// NewScalar returns an empty scalar aggregator holding values in system.
// withHistory keeps a maxAge-bounded history; withSum enables the sums.
func NewScalar(system units.System, withHistory, withSum bool, maxAge int64) *Scalar {
	s := &Scalar{units: system, sum: withSum}
	if withHistory {
		s.hist = newHistory(maxAge)
	}
	return s
}

func (s *Scalar) Kind() Kind               { return KindScalar }
func (s *Scalar) UnitSystem() units.System { return s.units }
func (s *Scalar) Day() Stats               { return s.Stats }

// Add folds a value observed at ts into the statistics. Null values are ignored.
func (s *Scalar) Add(r Reading, ts int64, track Tracking) {
	if r.Value == nil {
		return
	}
	v := *r.Value
	s.setLast(v, ts)
	if track.HiLo {
		s.hilo(v, ts)
	}
	if track.History && s.hist != nil {
		s.hist.add(Point{Value: v, TS: ts})
	}
	if track.Sum {
		s.addSums(v)
	}
}

// Seed loads the day statistics from an archive day summary.
func (s *Scalar) Seed(sum weather.ObsSummary) {
	s.seed(sum)
	if s.sum {
		s.DaySum = sum.Sum
	}
}

// DayReset clears the day extremes and, when summing, the day sum. History
// is kept.
func (s *Scalar) DayReset() {
	s.clearExtremes()
	if s.sum {
		s.DaySum = 0
	}
}

func (s *Scalar) NineAMReset()   { s.NineAMSum = 0 }
func (s *Scalar) IntervalReset() { s.IntervalSum = 0 }

func (s *Scalar) HistoryMax(ts, age int64) (Point, bool) {
	if s.hist == nil {
		return Point{}, false
	}
	return s.hist.max(ts, age)
}

func (s *Scalar) HistoryAvg(ts, age int64) (float64, bool) {
	if s.hist == nil {
		return 0, false
	}
	return s.hist.avg(ts, age)
}

// HistoryFull reports whether the history spans the full retention period,
// i.e. whether windowed statistics over it are reliable.
func (s *Scalar) HistoryFull() bool {
	return s.hist != nil && s.hist.full
}

// History returns a copy of the retained history.
func (s *Scalar) History() []Point {
	if s.hist == nil {
		return nil
	}
	return s.hist.snapshot()
}
