package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// ArchiveStore is a concurrency-safe in-memory archive of station records.
// It answers the historical lookups the dashboard needs: the record closest
// to a time and the summary of a local day.
type ArchiveStore struct {
	mu sync.RWMutex

	// sorted by timestamp, one record per timestamp
	records []weather.Record

	unitSystem units.System
	loc        *time.Location
	interval   time.Duration // used when a record carries no interval field

	maxRecords int
	maxAge     time.Duration
}

// NewArchiveStore creates an archive whose day summaries are expressed in
// system and computed over days of loc. maxRecords and maxAge of zero mean
// unlimited.
func NewArchiveStore(system units.System, loc *time.Location, interval time.Duration, maxRecords int, maxAge time.Duration) *ArchiveStore {
	if loc == nil {
		loc = time.Local
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ArchiveStore{
		unitSystem: system,
		loc:        loc,
		interval:   interval,
		maxRecords: maxRecords,
		maxAge:     maxAge,
	}
}

// UnitSystem is the unit system of the day summaries.
func (s *ArchiveStore) UnitSystem() units.System { return s.unitSystem }

// SaveRecord stores rec, replacing any record with the same timestamp.
func (s *ArchiveStore) SaveRecord(_ context.Context, rec weather.Record) error {
	ts, ok := rec.TS()
	if !ok {
		return weather.ErrMissingTimestamp
	}
	rec = rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.search(ts)
	if i < len(s.records) && *s.records[i].Timestamp == ts {
		s.records[i] = rec
		return nil
	}
	s.records = append(s.records, weather.Record{})
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = rec

	// Enforce retention by count.
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		over := len(s.records) - s.maxRecords
		s.records = append(s.records[:0], s.records[over:]...)
	}
	return nil
}

// search returns the index of the first record with a timestamp >= ts.
func (s *ArchiveStore) search(ts int64) int {
	return sort.Search(len(s.records), func(i int) bool { return *s.records[i].Timestamp >= ts })
}

// GetRecord returns the record closest to ts that is at most grace seconds
// away. Ties go to the earlier record.
func (s *ArchiveStore) GetRecord(_ context.Context, ts, grace int64) (*weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.search(ts - grace)
	best := -1
	var bestDist int64
	for ; i < len(s.records); i++ {
		rts := *s.records[i].Timestamp
		if rts > ts+grace {
			break
		}
		d := rts - ts
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil, ErrNotFound
	}
	rec := s.records[best].Clone()
	return &rec, nil
}

// Latest returns the newest record.
func (s *ArchiveStore) Latest(_ context.Context) (*weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, ErrNotFound
	}
	rec := s.records[len(s.records)-1].Clone()
	return &rec, nil
}

// Len returns the number of stored records.
func (s *ArchiveStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Prune drops records older than the retention age relative to now and
// returns how many were removed.
func (s *ArchiveStore) Prune(now time.Time) int {
	if s.maxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-s.maxAge).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.search(cutoff)
	if i > 0 {
		s.records = append(s.records[:0], s.records[i:]...)
	}
	return i
}

// DayStart returns the start of the local day containing ts.
func (s *ArchiveStore) DayStart(ts int64) int64 {
	t := time.Unix(ts, 0).In(s.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc).Unix()
}

// DaySummary summarises the records of the local day containing ts. Record
// timestamps mark the end of their interval, so a record stamped exactly at
// midnight belongs to the day that ends there.
func (s *ArchiveStore) DaySummary(_ context.Context, ts int64) (*weather.DaySummary, error) {
	start := s.DayStart(ts)
	if start == ts {
		start = s.DayStart(ts - 1)
	}
	end := time.Unix(start, 0).In(s.loc).AddDate(0, 0, 1).Unix()

	sum := &weather.DaySummary{
		Start:      start,
		UnitSystem: s.unitSystem,
		Obs:        make(map[string]weather.ObsSummary),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := s.search(start + 1); i < len(s.records); i++ {
		rec := s.records[i]
		rts := *rec.Timestamp
		if rts > end {
			break
		}
		weight := s.weight(rec)
		for _, obs := range rec.Names() {
			if obs == "wind" {
				continue
			}
			v := s.value(rec, obs)
			if v == nil {
				continue
			}
			o := sum.Obs[obs]
			accumulate(&o, *v, rts, weight)
			sum.Obs[obs] = o
		}
		if speed := s.value(rec, "windSpeed"); speed != nil {
			w := sum.Obs["wind"]
			accumulateWind(&w, *speed, s.value(rec, "windDir"), s.value(rec, "windGust"), s.value(rec, "windGustDir"), rts, weight)
			sum.Obs["wind"] = w
		}
	}
	return sum, nil
}

// value returns obs of rec in the store's unit system, or nil when absent or
// not convertible.
func (s *ArchiveStore) value(rec weather.Record, obs string) *float64 {
	v, ok := rec.Get(obs)
	if !ok || v == nil {
		return nil
	}
	c, err := units.ConvertStd(v, obs, rec.UnitSystem, s.unitSystem)
	if err != nil {
		return nil
	}
	return c
}

// weight is the record's interval in seconds.
func (s *ArchiveStore) weight(rec weather.Record) float64 {
	if v, ok := rec.Get("interval"); ok && v != nil && *v > 0 {
		return *v * 60
	}
	return s.interval.Seconds()
}

func accumulate(o *weather.ObsSummary, v float64, ts int64, weight float64) {
	if o.Min == nil || v < *o.Min {
		o.Min, o.MinTime = weather.Float(v), weather.Int64(ts)
	}
	if o.Max == nil || v > *o.Max {
		o.Max, o.MaxTime = weather.Float(v), weather.Int64(ts)
	}
	o.Sum += v
	o.Count++
	o.WSum += v * weight
	o.SumTime += weight
}

// accumulateWind folds one record into the wind vector summary. The high is
// the gust, falling back to the average speed.
func accumulateWind(o *weather.ObsSummary, speed float64, dir, gust, gustDir *float64, ts int64, weight float64) {
	if o.Min == nil || speed < *o.Min {
		o.Min, o.MinTime = weather.Float(speed), weather.Int64(ts)
	}
	hi, hiDir := speed, dir
	if gust != nil {
		hi, hiDir = *gust, gustDir
	}
	if o.Max == nil || hi > *o.Max {
		o.Max, o.MaxTime = weather.Float(hi), weather.Int64(ts)
		o.MaxDir = nil
		if hiDir != nil {
			o.MaxDir = weather.Float(*hiDir)
		}
	}
	o.Sum += speed
	o.Count++
	o.WSum += speed * weight
	o.SumTime += weight
	if dir != nil {
		x, y := weather.CompassToXY(speed, *dir)
		o.XSum += x * weight
		o.YSum += y * weight
	}
}
