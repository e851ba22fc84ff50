package aggregate

import (
	"fmt"
	"sort"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// Buffer owns one aggregator per tracked observation and keeps the day
// windrun. It is not safe for concurrent use; a single ingest loop owns it.
type Buffer struct {
	cfg     Config
	aggs    map[string]Aggregator
	primary units.System

	windrun      float64 // km
	lastSpeedTS  *int64
	lastSpeedKmh *float64
}

// New returns a buffer seeded from the day summaries. primary is required;
// secondary may be nil.
func New(cfg Config, primary, secondary *weather.DaySummary) (*Buffer, error) {
	b := &Buffer{
		cfg:  cfg.clone(),
		aggs: make(map[string]Aggregator),
	}
	if err := b.Seed(primary, secondary); err != nil {
		return nil, err
	}
	return b, nil
}

// Seed loads day statistics for every tracked observation in primary, then
// for observations found only in secondary. It also records the primary unit
// system and reseeds the day windrun.
func (b *Buffer) Seed(primary, secondary *weather.DaySummary) error {
	if primary == nil {
		return fmt.Errorf("%w: primary day summary is required", ErrConfiguration)
	}
	if !primary.UnitSystem.Valid() {
		return fmt.Errorf("%w: primary day summary: %w", ErrConfiguration, units.ErrUnknownUnitSystem)
	}
	if secondary != nil && !secondary.UnitSystem.Valid() {
		return fmt.Errorf("%w: secondary day summary: %w", ErrConfiguration, units.ErrUnknownUnitSystem)
	}

	windrun, err := seedWindrun(primary)
	if err != nil {
		return err
	}

	seeded := make(map[string]bool)
	for _, obs := range summaryNames(primary) {
		if cfg, ok := b.cfg.Observations[obs]; ok {
			b.seedObs(obs, cfg, primary.UnitSystem, primary.Obs[obs])
			seeded[obs] = true
		}
	}
	if secondary != nil {
		for _, obs := range summaryNames(secondary) {
			cfg, ok := b.cfg.Observations[obs]
			if !ok || seeded[obs] {
				continue
			}
			b.seedObs(obs, cfg, secondary.UnitSystem, secondary.Obs[obs])
		}
	}

	b.primary = primary.UnitSystem
	b.windrun = windrun
	return nil
}

func (b *Buffer) seedObs(obs string, cfg ObsConfig, system units.System, sum weather.ObsSummary) {
	agg, ok := b.aggs[obs]
	if !ok || agg.UnitSystem() != system {
		agg = newAggregator(cfg, system, b.cfg.MaxAge)
		b.aggs[obs] = agg
	}
	agg.Seed(sum)
}

// seedWindrun derives the day windrun in km from the windSpeed time-weighted
// sum (speed * seconds).
func seedWindrun(primary *weather.DaySummary) (float64, error) {
	ws, ok := primary.Obs["windSpeed"]
	if !ok {
		return 0, nil
	}
	unit, err := units.StandardUnit(primary.UnitSystem, "windSpeed")
	if err != nil {
		return 0, fmt.Errorf("%w: windrun: %w", ErrConfiguration, err)
	}
	kmhSeconds, err := units.Convert(ws.WSum, unit, units.KmPerHour)
	if err != nil {
		return 0, fmt.Errorf("%w: windrun: %w", ErrConfiguration, err)
	}
	return kmhSeconds / 3600.0, nil
}

type pendingAdd struct {
	obs     string
	cfg     ObsConfig
	system  units.System
	reading Reading
}

// Add routes every tracked observation in rec to its aggregator, converting
// values to the aggregator's unit system first. The synthetic wind vector is
// built from windSpeed and windDir. A record without a timestamp is rejected
// and a value that cannot be converted is a configuration error; in both
// cases the buffer is left untouched.
func (b *Buffer) Add(rec weather.Record) error {
	ts, ok := rec.TS()
	if !ok {
		return weather.ErrMissingTimestamp
	}
	if !rec.UnitSystem.Valid() {
		return fmt.Errorf("%w: record: %w", ErrConfiguration, units.ErrUnknownUnitSystem)
	}

	var pending []pendingAdd
	for _, obs := range rec.Names() {
		cfg, tracked := b.cfg.Observations[obs]
		if !tracked || cfg.Kind != KindScalar {
			continue
		}
		v, _ := rec.Get(obs)
		system := b.systemFor(obs)
		conv, err := units.ConvertStd(v, obs, rec.UnitSystem, system)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfiguration, obs, err)
		}
		pending = append(pending, pendingAdd{obs: obs, cfg: cfg, system: system, reading: Reading{Value: conv}})
	}

	speed, hasSpeed := rec.Get("windSpeed")
	if cfg, tracked := b.cfg.Observations[WindObs]; tracked && hasSpeed {
		system := b.systemFor(WindObs)
		conv, err := units.ConvertStd(speed, "windSpeed", rec.UnitSystem, system)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfiguration, WindObs, err)
		}
		dir, _ := rec.Get("windDir")
		pending = append(pending, pendingAdd{obs: WindObs, cfg: cfg, system: system, reading: Reading{Value: conv, Direction: dir}})
	}

	var speedKmh *float64
	if hasSpeed && speed != nil {
		unit, err := units.StandardUnit(rec.UnitSystem, "windSpeed")
		if err != nil {
			return fmt.Errorf("%w: windrun: %w", ErrConfiguration, err)
		}
		if speedKmh, err = units.ConvertPtr(speed, unit, units.KmPerHour); err != nil {
			return fmt.Errorf("%w: windrun: %w", ErrConfiguration, err)
		}
	}

	for _, p := range pending {
		agg, ok := b.aggs[p.obs]
		if !ok {
			agg = newAggregator(p.cfg, p.system, b.cfg.MaxAge)
			b.aggs[p.obs] = agg
		}
		agg.Add(p.reading, ts, p.cfg.Tracking)
	}
	if speedKmh != nil {
		b.accrueWindrun(*speedKmh, ts)
	}
	return nil
}

// accrueWindrun integrates the previously seen speed over the time since it
// was seen, then records the new speed.
func (b *Buffer) accrueWindrun(kmh float64, ts int64) {
	if b.lastSpeedTS != nil && ts < *b.lastSpeedTS {
		return
	}
	if b.lastSpeedTS != nil && b.lastSpeedKmh != nil {
		b.windrun += *b.lastSpeedKmh * float64(ts-*b.lastSpeedTS) / 3600.0
	}
	b.lastSpeedTS = weather.Int64(ts)
	b.lastSpeedKmh = weather.Float(kmh)
}

func (b *Buffer) systemFor(obs string) units.System {
	if agg, ok := b.aggs[obs]; ok {
		return agg.UnitSystem()
	}
	return b.primary
}

// StartOfDayReset resets the day statistics of every observation and the
// day windrun. Called once per local calendar day rollover. The last wind
// speed sample is forgotten so no part of yesterday accrues into today.
func (b *Buffer) StartOfDayReset() {
	for _, agg := range b.aggs {
		agg.DayReset()
	}
	b.windrun = 0
	b.lastSpeedTS = nil
	b.lastSpeedKmh = nil
}

// NineAMReset zeroes the since-9am sums of the summed observations.
func (b *Buffer) NineAMReset() {
	for obs, agg := range b.aggs {
		if b.cfg.Observations[obs].Sum {
			agg.NineAMReset()
		}
	}
}

// EndOfIntervalReset zeroes the archive-interval sums of the summed
// observations.
func (b *Buffer) EndOfIntervalReset() {
	for obs, agg := range b.aggs {
		if b.cfg.Observations[obs].Sum {
			agg.IntervalReset()
		}
	}
}

// Get returns the aggregator for obs.
func (b *Buffer) Get(obs string) (Aggregator, bool) {
	agg, ok := b.aggs[obs]
	return agg, ok
}

// Vector returns the vector aggregator for obs.
func (b *Buffer) Vector(obs string) (*Vector, bool) {
	v, ok := b.aggs[obs].(*Vector)
	return v, ok
}

// Observations returns the names of all observations with an aggregator.
func (b *Buffer) Observations() []string {
	names := make([]string, 0, len(b.aggs))
	for k := range b.aggs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// PrimaryUnitSystem is the unit system of the primary seeding summary.
func (b *Buffer) PrimaryUnitSystem() units.System { return b.primary }

// DayWindrun is the distance run by the wind today, in km.
func (b *Buffer) DayWindrun() float64 { return b.windrun }

func summaryNames(d *weather.DaySummary) []string {
	names := make([]string, 0, len(d.Obs))
	for k := range d.Obs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
