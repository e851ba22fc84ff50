package dashboard

import (
	"fmt"

	"github.com/gjr80/weewx-utilities/internal/aggregate"
	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// Slow is the slowly changing document published once per archive record.
// It carries the statistics of the previous local day.
type Slow struct {
	DateTime  DateTime `json:"dateTime"`
	OutTemp   SlowTemp `json:"outTemp"`
	Wind      SlowWind `json:"wind"`
	Rain      SlowRain `json:"rain"`
	Radiation SlowMax  `json:"radiation"`
	UV        SlowMax  `json:"UV"`
}

type SlowTemp struct {
	Yest Today `json:"yest"`
}

type SlowMax struct {
	Yest TodayMax `json:"yest"`
}

type SlowGust struct {
	Yest TodayMax `json:"yest"`
}

type SlowRun struct {
	Yest *float64 `json:"yest"`
}

type SlowWind struct {
	WindGust SlowGust `json:"windGust"`
	Windrun  SlowRun  `json:"windrun"`
}

type SlowRain struct {
	Yest *float64 `json:"yest"`
}

// BuildSlow assembles the slow document for an archive record stamped ts from
// the summary of the day before. A nil summary yields a document of nulls.
func (b *Builder) BuildSlow(ts int64, yesterday *weather.DaySummary) (Slow, error) {
	s := Slow{DateTime: DateTime{Now: ts}}
	if yesterday == nil {
		return s, nil
	}
	if !yesterday.UnitSystem.Valid() {
		return Slow{}, fmt.Errorf("%w: %w", aggregate.ErrConfiguration, units.ErrUnknownUnitSystem)
	}

	u := b.opts.Units
	c := &conv{b: b}
	sys := yesterday.UnitSystem
	extremes := func(obs string, to units.Unit) Today {
		o, ok := yesterday.Obs[obs]
		if !ok {
			return Today{}
		}
		return Today{
			Min:  c.obs(o.Min, obs, sys, to),
			MinT: o.MinTime,
			Max:  c.obs(o.Max, obs, sys, to),
			MaxT: o.MaxTime,
		}
	}
	maxOnly := func(obs string, to units.Unit) TodayMax {
		t := extremes(obs, to)
		return TodayMax{Max: t.Max, MaxT: t.MaxT}
	}

	s.OutTemp.Yest = extremes("outTemp", u.Temperature)
	s.Wind.WindGust.Yest = maxOnly("windGust", u.Speed)
	s.Wind.Windrun.Yest = b.slowWindrun(c, yesterday)
	if o, ok := yesterday.Obs["rain"]; ok && o.Count > 0 {
		s.Rain.Yest = c.obs(weather.Float(o.Sum), "rain", sys, u.Rain)
	}
	s.Radiation.Yest = maxOnly("radiation", units.WattPerMeterSquared)
	s.UV.Yest = maxOnly("UV", units.UVIndex)

	if c.err != nil {
		return Slow{}, fmt.Errorf("%w: %w", aggregate.ErrConfiguration, c.err)
	}
	return s, nil
}

// slowWindrun prefers an archived windrun total and otherwise integrates the
// time-weighted windSpeed sum.
func (b *Builder) slowWindrun(c *conv, d *weather.DaySummary) *float64 {
	if o, ok := d.Obs["windrun"]; ok && o.Count > 0 {
		return c.obs(weather.Float(o.Sum), "windrun", d.UnitSystem, b.opts.Units.Distance)
	}
	ws, ok := d.Obs["windSpeed"]
	if !ok || ws.SumTime <= 0 {
		return nil
	}
	from, err := units.StandardUnit(d.UnitSystem, "windSpeed")
	if err != nil {
		c.err = err
		return nil
	}
	// speed * hours in km/h is a distance in km
	km, err := units.Convert(ws.WSum/3600, from, units.KmPerHour)
	if err != nil {
		c.err = err
		return nil
	}
	return c.to(&km, units.Km, b.opts.Units.Distance)
}
