// Package dashboard turns the aggregate buffer and a cached sample into the
// dashboard document.
package dashboard

import (
	"context"
	"fmt"
	"math"

	"github.com/gjr80/weewx-utilities/internal/aggregate"
	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// Trend periods in seconds.
const (
	TrendPeriod          int64 = 3600
	TrendPeriod24h       int64 = 86400
	BarometerTrendPeriod int64 = 10800
	DefaultTrendGrace    int64 = 300
)

// DisplayUnits are the units values are published in.
type DisplayUnits struct {
	Temperature units.Unit
	Pressure    units.Unit
	Speed       units.Unit
	Rain        units.Unit
	RainRate    units.Unit
	Distance    units.Unit
}

// DefaultDisplayUnits returns metric display units with hPa and km/h.
func DefaultDisplayUnits() DisplayUnits {
	return DisplayUnits{
		Temperature: units.DegreeC,
		Pressure:    units.HPa,
		Speed:       units.KmPerHour,
		Rain:        units.Mm,
		RainRate:    units.MmPerHour,
		Distance:    units.Km,
	}
}

func (d DisplayUnits) validate() error {
	checks := []struct {
		unit  units.Unit
		group units.Group
	}{
		{d.Temperature, units.GroupTemperature},
		{d.Pressure, units.GroupPressure},
		{d.Speed, units.GroupSpeed},
		{d.Rain, units.GroupRain},
		{d.RainRate, units.GroupRainRate},
		{d.Distance, units.GroupDistance},
	}
	for _, c := range checks {
		g, ok := units.GroupOfUnit(c.unit)
		if !ok || g != c.group {
			return fmt.Errorf("%w: %q is not a %s unit", aggregate.ErrConfiguration, c.unit, c.group)
		}
	}
	return nil
}

// DefaultDecimalPlaces are the rounding places used for units without an
// explicit setting.
var DefaultDecimalPlaces = map[units.Group]int{
	units.GroupTemperature: 2,
	units.GroupPercent:     1,
	units.GroupPressure:    2,
	units.GroupSpeed:       2,
	units.GroupRain:        2,
	units.GroupRainRate:    2,
	units.GroupDirection:   1,
	units.GroupRadiation:   1,
	units.GroupUV:          2,
	units.GroupDistance:    2,
	units.GroupAltitude:    2,
}

// Options configure a Builder.
type Options struct {
	Units DisplayUnits

	// DecimalPlaces overrides the rounding per display unit.
	DecimalPlaces map[units.Unit]int

	// MinInterval is the least number of seconds between generations.
	MinInterval int64
	TrendGrace  int64
}

// Builder produces dashboard snapshots. It remembers when it last generated
// so callers can throttle on Due.
type Builder struct {
	opts   Options
	lookup RecordLookup
	last   *int64
}

// NewBuilder validates opts and returns a Builder. lookup may be nil, in
// which case every trend is null.
func NewBuilder(opts Options, lookup RecordLookup) (*Builder, error) {
	if err := opts.Units.validate(); err != nil {
		return nil, err
	}
	if opts.MinInterval < 0 {
		return nil, fmt.Errorf("%w: negative min interval", aggregate.ErrConfiguration)
	}
	if opts.TrendGrace <= 0 {
		opts.TrendGrace = DefaultTrendGrace
	}
	return &Builder{opts: opts, lookup: lookup}, nil
}

// Due reports whether a sample stamped ts should trigger a generation.
func (b *Builder) Due(ts int64) bool {
	return b.last == nil || ts-*b.last >= b.opts.MinInterval
}

// LastGenerated returns the timestamp of the last generation.
func (b *Builder) LastGenerated() (int64, bool) {
	if b.last == nil {
		return 0, false
	}
	return *b.last, true
}

func (b *Builder) places(u units.Unit) int {
	if p, ok := b.opts.DecimalPlaces[u]; ok {
		return p
	}
	if g, ok := units.GroupOfUnit(u); ok {
		if p, ok := DefaultDecimalPlaces[g]; ok {
			return p
		}
	}
	return 2
}

// Round rounds v half away from zero to places decimals. nil stays nil.
func Round(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	p := math.Pow(10, float64(places))
	r := math.Round(*v*p) / p
	return &r
}

// conv holds the first conversion error so the long build sequence reads
// straight through.
type conv struct {
	b   *Builder
	err error
}

func (c *conv) to(v *float64, from, to units.Unit) *float64 {
	if c.err != nil || v == nil {
		return nil
	}
	out, err := units.ConvertPtr(v, from, to)
	if err != nil {
		c.err = err
		return nil
	}
	return Round(out, c.b.places(to))
}

// obs converts observation obs held in system to the display unit to.
func (c *conv) obs(v *float64, obs string, system units.System, to units.Unit) *float64 {
	if c.err != nil || v == nil {
		return nil
	}
	from, err := units.StandardUnit(system, obs)
	if err != nil {
		c.err = err
		return nil
	}
	return c.to(v, from, to)
}

func (c *conv) trend(ctx context.Context, obs string, v *float64, system units.System, to units.Unit, ts, period int64) *float64 {
	if c.err != nil || v == nil {
		return nil
	}
	from, err := units.StandardUnit(system, obs)
	if err != nil {
		c.err = err
		return nil
	}
	d, err := Trend(ctx, obs, Value{Value: v, Unit: from}, to, c.b.lookup, ts-period, c.b.opts.TrendGrace)
	if err != nil {
		c.err = err
		return nil
	}
	return Round(d, c.b.places(to))
}

func (c *conv) today(buf *aggregate.Buffer, obs string, to units.Unit) Today {
	agg, ok := buf.Get(obs)
	if !ok {
		return Today{}
	}
	day := agg.Day()
	return Today{
		Min:  c.obs(day.DayMin, obs, agg.UnitSystem(), to),
		MinT: day.DayMinTime,
		Max:  c.obs(day.DayMax, obs, agg.UnitSystem(), to),
		MaxT: day.DayMaxTime,
	}
}

// Build assembles a snapshot from rec, normally the freshness cache view of
// the latest sample, and the buffer statistics. It marks rec's timestamp as
// the last generation.
func (b *Builder) Build(ctx context.Context, rec weather.Record, buf *aggregate.Buffer) (Snapshot, error) {
	ts, ok := rec.TS()
	if !ok {
		return Snapshot{}, weather.ErrMissingTimestamp
	}
	if !rec.UnitSystem.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %w", aggregate.ErrConfiguration, units.ErrUnknownUnitSystem)
	}
	u := b.opts.Units
	c := &conv{b: b}
	sys := rec.UnitSystem
	get := func(obs string) *float64 {
		v, _ := rec.Get(obs)
		return v
	}

	var s Snapshot
	s.DateTime.Now = ts

	s.OutTemp = OutTemp{
		Now:      c.obs(get("outTemp"), "outTemp", sys, u.Temperature),
		Trend:    c.trend(ctx, "outTemp", get("outTemp"), sys, u.Temperature, ts, TrendPeriod),
		Trend24h: c.trend(ctx, "outTemp", get("outTemp"), sys, u.Temperature, ts, TrendPeriod24h),
		Today:    c.today(buf, "outTemp", u.Temperature),
	}
	s.OutHumidity = Trended{
		Now:   c.obs(get("outHumidity"), "outHumidity", sys, units.Percent),
		Trend: c.trend(ctx, "outHumidity", get("outHumidity"), sys, units.Percent, ts, TrendPeriod),
		Today: c.today(buf, "outHumidity", units.Percent),
	}
	uv := c.today(buf, "UV", units.UVIndex)
	s.UV = MaxObs{
		Now:   c.obs(get("UV"), "UV", sys, units.UVIndex),
		Today: TodayMax{Max: uv.Max, MaxT: uv.MaxT},
	}
	rad := c.today(buf, "radiation", units.WattPerMeterSquared)
	s.Radiation = MaxObs{
		Now:   c.obs(get("radiation"), "radiation", sys, units.WattPerMeterSquared),
		Today: TodayMax{Max: rad.Max, MaxT: rad.MaxT},
	}
	s.Barometer = Trended{
		Now:   c.obs(get("barometer"), "barometer", sys, u.Pressure),
		Trend: c.trend(ctx, "barometer", get("barometer"), sys, u.Pressure, ts, BarometerTrendPeriod),
		Today: c.today(buf, "barometer", u.Pressure),
	}
	wc := c.today(buf, "windchill", u.Temperature)
	s.Windchill = MinObs{
		Now:   c.obs(get("windchill"), "windchill", sys, u.Temperature),
		Today: TodayMin{Min: wc.Min, MinT: wc.MinT},
	}
	hi := c.today(buf, "heatindex", u.Temperature)
	s.Heatindex = MaxObs{
		Now:   c.obs(get("heatindex"), "heatindex", sys, u.Temperature),
		Today: TodayMax{Max: hi.Max, MaxT: hi.MaxT},
	}
	s.Dewpoint = Trended{
		Now:   c.obs(get("dewpoint"), "dewpoint", sys, u.Temperature),
		Trend: c.trend(ctx, "dewpoint", get("dewpoint"), sys, u.Temperature, ts, TrendPeriod),
		Today: c.today(buf, "dewpoint", u.Temperature),
	}
	s.AppTemp = Extremes{
		Now:   c.obs(get("appTemp"), "appTemp", sys, u.Temperature),
		Today: c.today(buf, "appTemp", u.Temperature),
	}
	s.Humidex = Now{Now: b.humidex(c, rec)}
	s.Wind = b.wind(c, rec, buf)
	s.Rain = b.rain(c, rec, buf)

	if c.err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", aggregate.ErrConfiguration, c.err)
	}
	b.last = weather.Int64(ts)
	return s, nil
}

// humidex uses the station value when present, otherwise derives it from
// outTemp and outHumidity.
func (b *Builder) humidex(c *conv, rec weather.Record) *float64 {
	if v, _ := rec.Get("humidex"); v != nil {
		return c.obs(v, "humidex", rec.UnitSystem, b.opts.Units.Temperature)
	}
	t, _ := rec.Get("outTemp")
	rh, _ := rec.Get("outHumidity")
	if t == nil || rh == nil {
		return nil
	}
	from, err := units.StandardUnit(rec.UnitSystem, "outTemp")
	if err != nil {
		c.err = err
		return nil
	}
	tc, err := units.ConvertPtr(t, from, units.DegreeC)
	if err != nil {
		c.err = err
		return nil
	}
	return c.to(weather.HumidexC(tc, rh), units.DegreeC, b.opts.Units.Temperature)
}

func (b *Builder) wind(c *conv, rec weather.Record, buf *aggregate.Buffer) Wind {
	u := b.opts.Units
	speed, _ := rec.Get("windSpeed")
	dir, _ := rec.Get("windDir")
	gust, _ := rec.Get("windGust")

	w := Wind{
		WindSpeed: AvgObs{Now: c.obs(speed, "windSpeed", rec.UnitSystem, u.Speed)},
		WindDir:   AvgObs{Now: c.to(dir, units.DegreeCompass, units.DegreeCompass)},
		WindGust:  Gust{Now: c.obs(gust, "windGust", rec.UnitSystem, u.Speed)},
		Windrun:   Windrun{Today: c.to(weather.Float(buf.DayWindrun()), units.Km, u.Distance)},
	}
	vec, ok := buf.Vector(aggregate.WindObs)
	if !ok {
		return w
	}
	sys := vec.UnitSystem()
	if avg, ok := vec.DayVecAvg(); ok {
		w.WindSpeed.Today.Avg = c.obs(&avg, "windSpeed", sys, u.Speed)
	}
	if d, ok := vec.DayVecDir(); ok {
		w.WindDir.Today.Avg = c.to(&d, units.DegreeCompass, units.DegreeCompass)
	}
	w.WindGust.Today = GustToday{
		Max:    c.obs(vec.DayMax, "windSpeed", sys, u.Speed),
		MaxDir: c.to(vec.DayMaxDir, units.DegreeCompass, units.DegreeCompass),
		MaxT:   vec.DayMaxTime,
	}
	return w
}

func (b *Builder) rain(c *conv, rec weather.Record, buf *aggregate.Buffer) Rain {
	u := b.opts.Units
	rate, _ := rec.Get("rainRate")
	r := Rain{RainRate: c.obs(rate, "rainRate", rec.UnitSystem, u.RainRate)}
	agg, ok := buf.Get("rain")
	if !ok {
		return r
	}
	day := agg.Day()
	r.Today = c.obs(&day.DaySum, "rain", agg.UnitSystem(), u.Rain)
	r.NineAM = c.obs(&day.NineAMSum, "rain", agg.UnitSystem(), u.Rain)
	return r
}
