package aggregate

import "sort"

// DefaultMaxAge is how long, in seconds, history entries are retained.
const DefaultMaxAge int64 = 600

// Point is one retained observation. For vector observations X and Y hold
// the unit-vector components of the direction at the time.
type Point struct {
	Value float64
	X, Y  float64
	TS    int64
}

// history is a time-ordered, age-bounded list of points.
type history struct {
	maxAge int64
	points []Point
	full   bool
}

func newHistory(maxAge int64) *history {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &history{maxAge: maxAge}
}

// add inserts p in time order and drops everything that is maxAge or more
// older than the newest point.
func (h *history) add(p Point) {
	i := sort.Search(len(h.points), func(i int) bool { return h.points[i].TS > p.TS })
	h.points = append(h.points, Point{})
	copy(h.points[i+1:], h.points[i:])
	h.points[i] = p

	cutoff := h.points[len(h.points)-1].TS - h.maxAge
	h.full = h.points[0].TS <= cutoff

	drop := sort.Search(len(h.points), func(i int) bool { return h.points[i].TS > cutoff })
	if drop > 0 {
		h.points = append(h.points[:0], h.points[drop:]...)
	}
}

// window returns the points with TS >= ts-age.
func (h *history) window(ts, age int64) []Point {
	born := ts - age
	i := sort.Search(len(h.points), func(i int) bool { return h.points[i].TS >= born })
	return h.points[i:]
}

func (h *history) max(ts, age int64) (Point, bool) {
	w := h.window(ts, age)
	if len(w) == 0 {
		return Point{}, false
	}
	best := w[0]
	for _, p := range w[1:] {
		if p.Value > best.Value {
			best = p
		}
	}
	return best, true
}

func (h *history) avg(ts, age int64) (float64, bool) {
	w := h.window(ts, age)
	if len(w) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range w {
		sum += p.Value
	}
	return sum / float64(len(w)), true
}

func (h *history) snapshot() []Point {
	out := make([]Point, len(h.points))
	copy(out, h.points)
	return out
}
