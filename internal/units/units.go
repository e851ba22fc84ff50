package units

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownUnitSystem is returned for a unit system outside the supported set.
	ErrUnknownUnitSystem = errors.New("unknown unit system")
	// ErrUnconvertible is returned when a value cannot be expressed in the requested unit.
	ErrUnconvertible = errors.New("unconvertible unit")
)

// System identifies the unit convention a record's values are expressed in.
// The numeric codes match the ones station software writes into "usUnits".
type System int

const (
	Unknown  System = 0x00
	US       System = 0x01
	Metric   System = 0x10
	MetricWX System = 0x11
)

// Valid reports whether s is one of the supported unit systems.
func (s System) Valid() bool {
	switch s {
	case US, Metric, MetricWX:
		return true
	default:
		return false
	}
}

func (s System) String() string {
	switch s {
	case US:
		return "US"
	case Metric:
		return "METRIC"
	case MetricWX:
		return "METRICWX"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseSystem accepts a unit system name as printed by String.
func ParseSystem(name string) (System, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "US":
		return US, nil
	case "METRIC":
		return Metric, nil
	case "METRICWX":
		return MetricWX, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnknownUnitSystem, name)
	}
}

// Group is a family of mutually convertible units.
type Group string

const (
	GroupTemperature Group = "group_temperature"
	GroupPressure    Group = "group_pressure"
	GroupSpeed       Group = "group_speed"
	GroupRain        Group = "group_rain"
	GroupRainRate    Group = "group_rainrate"
	GroupDistance    Group = "group_distance"
	GroupAltitude    Group = "group_altitude"
	GroupPercent     Group = "group_percent"
	GroupDirection   Group = "group_direction"
	GroupRadiation   Group = "group_radiation"
	GroupUV          Group = "group_uv"
	GroupInterval    Group = "group_interval"
)

// Unit is a concrete unit name, e.g. "degree_C".
type Unit string

const (
	DegreeC             Unit = "degree_C"
	DegreeF             Unit = "degree_F"
	HPa                 Unit = "hPa"
	Mbar                Unit = "mbar"
	InHg                Unit = "inHg"
	KPa                 Unit = "kPa"
	MmHg                Unit = "mmHg"
	MeterPerSecond      Unit = "meter_per_second"
	KmPerHour           Unit = "km_per_hour"
	MilePerHour         Unit = "mile_per_hour"
	Knot                Unit = "knot"
	Mm                  Unit = "mm"
	Cm                  Unit = "cm"
	Inch                Unit = "inch"
	MmPerHour           Unit = "mm_per_hour"
	CmPerHour           Unit = "cm_per_hour"
	InchPerHour         Unit = "inch_per_hour"
	Km                  Unit = "km"
	Mile                Unit = "mile"
	Meter               Unit = "meter"
	Foot                Unit = "foot"
	Percent             Unit = "percent"
	DegreeCompass       Unit = "degree_compass"
	WattPerMeterSquared Unit = "watt_per_meter_squared"
	UVIndex             Unit = "uv_index"
	Minute              Unit = "minute"
)

// linear describes a unit as base = v*factor + offset within its group.
type linear struct {
	group  Group
	factor float64
	offset float64
}

var unitTable = map[Unit]linear{
	DegreeC: {GroupTemperature, 1, 0},
	DegreeF: {GroupTemperature, 5.0 / 9.0, -160.0 / 9.0},

	Mbar: {GroupPressure, 1, 0},
	HPa:  {GroupPressure, 1, 0},
	InHg: {GroupPressure, 33.86388667, 0},
	KPa:  {GroupPressure, 10, 0},
	MmHg: {GroupPressure, 1.333223874, 0},

	MeterPerSecond: {GroupSpeed, 1, 0},
	KmPerHour:      {GroupSpeed, 1 / 3.6, 0},
	MilePerHour:    {GroupSpeed, 0.44704, 0},
	Knot:           {GroupSpeed, 1852.0 / 3600.0, 0},

	Mm:   {GroupRain, 1, 0},
	Cm:   {GroupRain, 10, 0},
	Inch: {GroupRain, 25.4, 0},

	MmPerHour:   {GroupRainRate, 1, 0},
	CmPerHour:   {GroupRainRate, 10, 0},
	InchPerHour: {GroupRainRate, 25.4, 0},

	Km:   {GroupDistance, 1, 0},
	Mile: {GroupDistance, 1.609344, 0},

	Meter: {GroupAltitude, 1, 0},
	Foot:  {GroupAltitude, 0.3048, 0},

	Percent:             {GroupPercent, 1, 0},
	DegreeCompass:       {GroupDirection, 1, 0},
	WattPerMeterSquared: {GroupRadiation, 1, 0},
	UVIndex:             {GroupUV, 1, 0},
	Minute:              {GroupInterval, 1, 0},
}

var systemUnits = map[System]map[Group]Unit{
	US: {
		GroupTemperature: DegreeF,
		GroupPressure:    InHg,
		GroupSpeed:       MilePerHour,
		GroupRain:        Inch,
		GroupRainRate:    InchPerHour,
		GroupDistance:    Mile,
		GroupAltitude:    Foot,
	},
	Metric: {
		GroupTemperature: DegreeC,
		GroupPressure:    Mbar,
		GroupSpeed:       KmPerHour,
		GroupRain:        Cm,
		GroupRainRate:    CmPerHour,
		GroupDistance:    Km,
		GroupAltitude:    Meter,
	},
	MetricWX: {
		GroupTemperature: DegreeC,
		GroupPressure:    Mbar,
		GroupSpeed:       MeterPerSecond,
		GroupRain:        Mm,
		GroupRainRate:    MmPerHour,
		GroupDistance:    Km,
		GroupAltitude:    Meter,
	},
}

// Units that are the same in every system.
var commonUnits = map[Group]Unit{
	GroupPercent:   Percent,
	GroupDirection: DegreeCompass,
	GroupRadiation: WattPerMeterSquared,
	GroupUV:        UVIndex,
	GroupInterval:  Minute,
}

var obsGroups = map[string]Group{
	"outTemp":     GroupTemperature,
	"inTemp":      GroupTemperature,
	"dewpoint":    GroupTemperature,
	"windchill":   GroupTemperature,
	"heatindex":   GroupTemperature,
	"appTemp":     GroupTemperature,
	"humidex":     GroupTemperature,
	"barometer":   GroupPressure,
	"pressure":    GroupPressure,
	"altimeter":   GroupPressure,
	"windSpeed":   GroupSpeed,
	"windGust":    GroupSpeed,
	"wind":        GroupSpeed,
	"windDir":     GroupDirection,
	"windGustDir": GroupDirection,
	"rain":        GroupRain,
	"rainRate":    GroupRainRate,
	"windrun":     GroupDistance,
	"cloudbase":   GroupAltitude,
	"outHumidity": GroupPercent,
	"inHumidity":  GroupPercent,
	"radiation":   GroupRadiation,
	"UV":          GroupUV,
	"interval":    GroupInterval,
}

// GroupOf returns the unit group an observation belongs to.
func GroupOf(obs string) (Group, bool) {
	g, ok := obsGroups[obs]
	return g, ok
}

// GroupOfUnit returns the group a unit belongs to.
func GroupOfUnit(u Unit) (Group, bool) {
	l, ok := unitTable[u]
	return l.group, ok
}

// UnitFor returns the unit a group uses in system s.
func UnitFor(s System, g Group) (Unit, error) {
	if u, ok := commonUnits[g]; ok {
		return u, nil
	}
	byGroup, ok := systemUnits[s]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownUnitSystem, int(s))
	}
	u, ok := byGroup[g]
	if !ok {
		return "", fmt.Errorf("%w: no unit for %s", ErrUnconvertible, g)
	}
	return u, nil
}

// StandardUnit returns the unit observation obs is expressed in under system s.
func StandardUnit(s System, obs string) (Unit, error) {
	g, ok := GroupOf(obs)
	if !ok {
		return "", fmt.Errorf("%w: unknown observation %q", ErrUnconvertible, obs)
	}
	return UnitFor(s, g)
}

// Convert converts v from one unit to another unit of the same group.
func Convert(v float64, from, to Unit) (float64, error) {
	if from == to {
		return v, nil
	}
	f, ok := unitTable[from]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrUnconvertible, from)
	}
	t, ok := unitTable[to]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrUnconvertible, to)
	}
	if f.group != t.group {
		return 0, fmt.Errorf("%w: %s to %s", ErrUnconvertible, from, to)
	}
	base := v*f.factor + f.offset
	return (base - t.offset) / t.factor, nil
}

// ConvertPtr is Convert for nullable values; nil stays nil.
func ConvertPtr(v *float64, from, to Unit) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	c, err := Convert(*v, from, to)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConvertStd converts a value of observation obs between unit systems.
func ConvertStd(v *float64, obs string, from, to System) (*float64, error) {
	if from == to {
		return v, nil
	}
	fu, err := StandardUnit(from, obs)
	if err != nil {
		return nil, err
	}
	tu, err := StandardUnit(to, obs)
	if err != nil {
		return nil, err
	}
	return ConvertPtr(v, fu, tu)
}
