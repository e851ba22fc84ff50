package forecast

import (
	"sort"
	"time"
)

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	return ptr(m.sum / float64(m.n))
}

// majority returns the most reported known condition. Ties go to the
// condition seen first.
func majority(conds []Condition) Condition {
	counts := make(map[Condition]int, len(conds))
	top := 0
	for _, c := range conds {
		if c == ConditionUnknown || c == "" {
			continue
		}
		counts[c]++
		if counts[c] > top {
			top = counts[c]
		}
	}
	for _, c := range conds {
		if top > 0 && counts[c] == top {
			return c
		}
	}
	return ConditionUnknown
}

// AggregateReadings combines provider readings into a single metric
// Reading. Numeric fields are averaged over the providers that reported
// them; the condition is selected by majority.
func AggregateReadings(readings []Reading) (Reading, []string) {
	var temp, hum, wind, press, precip mean
	conds := make([]Condition, 0, len(readings))
	providers := make([]string, 0, len(readings))
	var newest time.Time

	for _, r := range readings {
		temp.add(r.TemperatureC)
		hum.add(r.HumidityPct)
		wind.add(r.WindSpeedKmh)
		press.add(r.PressureHpa)
		precip.add(r.PrecipMm)
		conds = append(conds, r.Condition)
		providers = append(providers, r.Provider)
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}

	return Reading{
		Timestamp:    newest,
		TemperatureC: temp.value(),
		HumidityPct:  hum.value(),
		WindSpeedKmh: wind.value(),
		PressureHpa:  press.value(),
		PrecipMm:     precip.value(),
		Condition:    majority(conds),
	}, providers
}

// AggregateDaily merges per-provider forecasts by date and returns at most
// days entries in date order.
func AggregateDaily(readings []DailyReading, days int) []DailyReading {
	type acc struct {
		min, max, precip, wind mean
		conds                  []Condition
	}
	byDate := make(map[string]*acc)
	for _, r := range readings {
		if r.Date == "" {
			continue
		}
		a, ok := byDate[r.Date]
		if !ok {
			a = &acc{}
			byDate[r.Date] = a
		}
		a.min.add(r.MinC)
		a.max.add(r.MaxC)
		a.precip.add(r.PrecipMm)
		a.wind.add(r.WindMaxKmh)
		a.conds = append(a.conds, r.Condition)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if days > 0 && len(dates) > days {
		dates = dates[:days]
	}

	out := make([]DailyReading, 0, len(dates))
	for _, d := range dates {
		a := byDate[d]
		out = append(out, DailyReading{
			Date:       d,
			MinC:       a.min.value(),
			MaxC:       a.max.value(),
			PrecipMm:   a.precip.value(),
			WindMaxKmh: a.wind.value(),
			Condition:  majority(a.conds),
		})
	}
	return out
}
