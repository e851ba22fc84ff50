package aggregate

import (
	"math"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// Vector aggregates a magnitude/direction observation such as wind.
//
// Component sums are weighted by the seconds elapsed since the previous add,
// matching the time-weighted sums of an archive day summary, so the day
// average is a time average regardless of how irregularly samples arrive.
type Vector struct {
	Stats

	DayMaxDir *float64
	LastDir   *float64
	DayXSum   float64
	DayYSum   float64
	SumTime   float64

	units units.System
	sum   bool
	hist  *history
}

// NewVector returns an empty vector aggregator holding magnitudes in system.
func NewVector(system units.System, withHistory, withSum bool, maxAge int64) *Vector {
	v := &Vector{units: system, sum: withSum}
	if withHistory {
		v.hist = newHistory(maxAge)
	}
	return v
}

func (v *Vector) Kind() Kind               { return KindVector }
func (v *Vector) UnitSystem() units.System { return v.units }
func (v *Vector) Day() Stats               { return v.Stats }

// Add folds a magnitude and optional direction observed at ts into the
// statistics. A null magnitude is ignored; a null direction still counts
// towards the extremes and scalar sums.
func (v *Vector) Add(r Reading, ts int64, track Tracking) {
	if r.Value == nil {
		return
	}
	m := *r.Value
	dir := copyFloat(r.Direction)

	if track.HiLo && v.hilo(m, ts) {
		v.DayMaxDir = copyFloat(dir)
	}
	if track.History && v.hist != nil && dir != nil {
		x, y := weather.CompassToXY(1, *dir)
		v.hist.add(Point{Value: m, X: x, Y: y, TS: ts})
	}
	if track.Sum {
		v.addSums(m)
		if v.LastTime != nil && ts > *v.LastTime {
			dt := float64(ts - *v.LastTime)
			v.SumTime += dt
			if dir != nil {
				x, y := weather.CompassToXY(m, *dir)
				v.DayXSum += x * dt
				v.DayYSum += y * dt
			}
		}
	}
	if v.setLast(m, ts) {
		v.LastDir = dir
	}
}

// Seed loads the day statistics from an archive day summary.
func (v *Vector) Seed(sum weather.ObsSummary) {
	v.seed(sum)
	v.DayMaxDir = copyFloat(sum.MaxDir)
	if v.DayMax == nil {
		v.DayMaxDir = nil
	}
	if v.sum {
		v.DaySum = sum.Sum
		v.DayXSum = sum.XSum
		v.DayYSum = sum.YSum
		v.SumTime = sum.SumTime
	}
}

// DayReset clears the day extremes and the day sums. History is kept.
func (v *Vector) DayReset() {
	v.clearExtremes()
	v.DayMaxDir = nil
	if v.sum {
		v.DaySum = 0
		v.DayXSum = 0
		v.DayYSum = 0
		v.SumTime = 0
	}
}

func (v *Vector) NineAMReset()   { v.NineAMSum = 0 }
func (v *Vector) IntervalReset() { v.IntervalSum = 0 }

func (v *Vector) HistoryMax(ts, age int64) (Point, bool) {
	if v.hist == nil {
		return Point{}, false
	}
	return v.hist.max(ts, age)
}

func (v *Vector) HistoryAvg(ts, age int64) (float64, bool) {
	if v.hist == nil {
		return 0, false
	}
	return v.hist.avg(ts, age)
}

func (v *Vector) HistoryFull() bool {
	return v.hist != nil && v.hist.full
}

// HistoryVecAvg returns the vector average magnitude and direction of the
// history entries no older than age seconds before ts.
func (v *Vector) HistoryVecAvg(ts, age int64) (mag, dir float64, ok bool) {
	if v.hist == nil {
		return 0, 0, false
	}
	w := v.hist.window(ts, age)
	if len(w) == 0 {
		return 0, 0, false
	}
	var x, y float64
	for _, p := range w {
		x += p.Value * p.X
		y += p.Value * p.Y
	}
	n := float64(len(w))
	return math.Hypot(x, y) / n, weather.XYToCompass(x, y), true
}

// DayVecAvg is the time-weighted vector average magnitude for the day.
func (v *Vector) DayVecAvg() (float64, bool) {
	if v.SumTime <= 0 {
		return 0, false
	}
	return math.Hypot(v.DayXSum, v.DayYSum) / v.SumTime, true
}

// DayVecDir is the compass direction of the day vector average.
func (v *Vector) DayVecDir() (float64, bool) {
	if v.SumTime <= 0 || (v.DayXSum == 0 && v.DayYSum == 0) {
		return 0, false
	}
	return weather.XYToCompass(v.DayXSum, v.DayYSum), true
}
