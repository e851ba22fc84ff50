package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gjr80/weewx-utilities/internal/units"
)

var (
	// ErrMissingTimestamp is returned for a record without a timestamp.
	ErrMissingTimestamp = errors.New("record has no timestamp")
)

// Wire keys carrying record metadata rather than observations.
const (
	KeyDateTime = "dateTime"
	KeyUnits    = "usUnits"
)

// Record is a timestamped set of observation values in one unit system.
// A name missing from Values was not reported; a name mapped to nil was
// reported as null.
type Record struct {
	Timestamp  *int64
	UnitSystem units.System
	Values     map[string]*float64
}

// NewRecord returns an empty record stamped with ts.
func NewRecord(ts int64, system units.System) Record {
	return Record{
		Timestamp:  Int64(ts),
		UnitSystem: system,
		Values:     make(map[string]*float64),
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// TS returns the record timestamp and whether it is set.
func (r Record) TS() (int64, bool) {
	if r.Timestamp == nil {
		return 0, false
	}
	return *r.Timestamp, true
}

// Get returns the value of obs and whether obs is present at all.
func (r Record) Get(obs string) (*float64, bool) {
	v, ok := r.Values[obs]
	return v, ok
}

// Set stores v (which may be nil) under obs.
func (r *Record) Set(obs string, v *float64) {
	if r.Values == nil {
		r.Values = make(map[string]*float64)
	}
	r.Values[obs] = v
}

// Names returns the observation names present in the record, sorted.
func (r Record) Names() []string {
	names := make([]string, 0, len(r.Values))
	for k := range r.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := Record{UnitSystem: r.UnitSystem, Values: make(map[string]*float64, len(r.Values))}
	if r.Timestamp != nil {
		out.Timestamp = Int64(*r.Timestamp)
	}
	for k, v := range r.Values {
		if v != nil {
			out.Values[k] = Float(*v)
		} else {
			out.Values[k] = nil
		}
	}
	return out
}

// ToSystem returns a copy of the record with every value expressed in system.
// Observations without a known unit group are copied unchanged only when
// they carry no value; otherwise the conversion fails.
func (r Record) ToSystem(system units.System) (Record, error) {
	if r.UnitSystem == system {
		return r.Clone(), nil
	}
	if !system.Valid() {
		return Record{}, fmt.Errorf("%w: %d", units.ErrUnknownUnitSystem, int(system))
	}
	if !r.UnitSystem.Valid() {
		return Record{}, fmt.Errorf("%w: %d", units.ErrUnknownUnitSystem, int(r.UnitSystem))
	}
	out := r.Clone()
	out.UnitSystem = system
	for obs, v := range r.Values {
		if v == nil {
			continue
		}
		c, err := units.ConvertStd(v, obs, r.UnitSystem, system)
		if err != nil {
			return Record{}, fmt.Errorf("convert %s: %w", obs, err)
		}
		out.Values[obs] = c
	}
	return out, nil
}

// MarshalJSON encodes the record in the flat station packet layout.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Values)+2)
	for k, v := range r.Values {
		m[k] = v
	}
	m[KeyDateTime] = r.Timestamp
	m[KeyUnits] = int(r.UnitSystem)
	return json.Marshal(m)
}

// UnmarshalJSON decodes a flat station packet. Non-numeric fields are skipped.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Record{Values: make(map[string]*float64, len(raw))}
	for k, msg := range raw {
		var v *float64
		if err := json.Unmarshal(msg, &v); err != nil {
			// strings, bools and nested objects are not observations
			continue
		}
		switch k {
		case KeyDateTime:
			if v != nil {
				out.Timestamp = Int64(int64(math.Round(*v)))
			}
		case KeyUnits:
			if v != nil {
				out.UnitSystem = units.System(int(*v))
			}
		default:
			out.Values[k] = v
		}
	}
	*r = out
	return nil
}

// ObsSummary holds the day statistics of one observation as kept by the
// archive: extremes with their times and the running sums.
type ObsSummary struct {
	Min     *float64 `json:"min"`
	MinTime *int64   `json:"mintime"`
	Max     *float64 `json:"max"`
	MaxTime *int64   `json:"maxtime"`
	MaxDir  *float64 `json:"max_dir,omitempty"`
	Sum     float64  `json:"sum"`
	Count   int      `json:"count"`
	// WSum is the time-weighted sum (value * seconds).
	WSum    float64 `json:"wsum"`
	SumTime float64 `json:"sumtime"`
	XSum    float64 `json:"xsum,omitempty"`
	YSum    float64 `json:"ysum,omitempty"`
}

// DaySummary is the per-observation summary of one local day.
type DaySummary struct {
	Start      int64                 `json:"start"`
	UnitSystem units.System          `json:"usUnits"`
	Obs        map[string]ObsSummary `json:"obs"`
}

// Has reports whether the summary carries obs.
func (d *DaySummary) Has(obs string) bool {
	if d == nil {
		return false
	}
	_, ok := d.Obs[obs]
	return ok
}
