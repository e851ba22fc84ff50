package forecast

import (
	"context"
	"sort"
	"strings"
)

// Provider abstracts a source of current conditions (e.g. OpenWeatherMap,
// WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Current(ctx context.Context, loc Location) (Reading, error)
}

// DailyProvider is implemented by providers that also serve a daily forecast.
type DailyProvider interface {
	Provider
	Daily(ctx context.Context, loc Location, days int) ([]DailyReading, error)
}

func ptr(v float64) *float64 { return &v }

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
