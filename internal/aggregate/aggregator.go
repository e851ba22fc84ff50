package aggregate

import (
	"errors"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

var (
	// ErrConfiguration marks unrecoverable setup problems such as missing
	// seed data or values whose units cannot be converted.
	ErrConfiguration = errors.New("aggregate configuration error")
)

// Kind selects the aggregator variant used for an observation.
type Kind int

const (
	KindScalar Kind = iota
	KindVector
)

func (k Kind) String() string {
	if k == KindVector {
		return "vector"
	}
	return "scalar"
}

// Tracking selects which statistics an add updates.
type Tracking struct {
	HiLo    bool
	History bool
	Sum     bool
}

// Reading is one value handed to an aggregator. Direction is only used by
// vector aggregators.
type Reading struct {
	Value     *float64
	Direction *float64
}

// Stats are the day statistics common to both aggregator variants.
type Stats struct {
	DayMin      *float64
	DayMinTime  *int64
	DayMax      *float64
	DayMaxTime  *int64
	Last        *float64
	LastTime    *int64
	DaySum      float64
	NineAMSum   float64
	IntervalSum float64
}

// Aggregator maintains the running statistics of one observation.
type Aggregator interface {
	Kind() Kind
	UnitSystem() units.System
	Day() Stats
	Add(r Reading, ts int64, track Tracking)
	Seed(s weather.ObsSummary)
	DayReset()
	NineAMReset()
	IntervalReset()
	HistoryMax(ts, age int64) (Point, bool)
	HistoryAvg(ts, age int64) (float64, bool)
	HistoryFull() bool
}

func newAggregator(cfg ObsConfig, system units.System, maxAge int64) Aggregator {
	if cfg.Kind == KindVector {
		return NewVector(system, cfg.History, cfg.Sum, maxAge)
	}
	return NewScalar(system, cfg.History, cfg.Sum, maxAge)
}

func (s *Stats) seed(sum weather.ObsSummary) {
	s.DayMin = copyFloat(sum.Min)
	s.DayMinTime = copyInt(sum.MinTime)
	s.DayMax = copyFloat(sum.Max)
	s.DayMaxTime = copyInt(sum.MaxTime)
	// an extreme without its time is not kept
	if s.DayMin == nil || s.DayMinTime == nil {
		s.DayMin, s.DayMinTime = nil, nil
	}
	if s.DayMax == nil || s.DayMaxTime == nil {
		s.DayMax, s.DayMaxTime = nil, nil
	}
}

// hilo folds v into the day extremes, reporting whether it set a new max.
func (s *Stats) hilo(v float64, ts int64) (newMax bool) {
	if s.DayMin == nil || v < *s.DayMin {
		s.DayMin = weather.Float(v)
		s.DayMinTime = weather.Int64(ts)
	}
	if s.DayMax == nil || v > *s.DayMax {
		s.DayMax = weather.Float(v)
		s.DayMaxTime = weather.Int64(ts)
		return true
	}
	return false
}

func (s *Stats) addSums(v float64) {
	s.DaySum += v
	s.NineAMSum += v
	s.IntervalSum += v
}

// setLast records v as the latest value unless ts is older than the current one.
func (s *Stats) setLast(v float64, ts int64) bool {
	if s.LastTime != nil && ts < *s.LastTime {
		return false
	}
	s.Last = weather.Float(v)
	s.LastTime = weather.Int64(ts)
	return true
}

func (s *Stats) clearExtremes() {
	s.DayMin, s.DayMinTime, s.DayMax, s.DayMaxTime = nil, nil, nil, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return weather.Float(*v)
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return weather.Int64(*v)
}
