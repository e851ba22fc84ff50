package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// OpenMeteoProvider serves current conditions and a daily forecast from
// Open-Meteo. No API key is needed.
type OpenMeteoProvider struct {
	name    string
	cfg     SourceConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(cfg SourceConfig) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		cfg:     cfg.withDefaults("https://api.open-meteo.com/v1/forecast"),
		circuit: newCircuit("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) get(ctx context.Context, loc Location, extra url.Values) (*http.Response, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	values.Set("timezone", "auto")
	for k, v := range extra {
		values[k] = v
	}
	u := p.cfg.BaseURL + "?" + values.Encode()
	return doRequestWithResilience(ctx, p.cfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
}

func (p *OpenMeteoProvider) Current(ctx context.Context, loc Location) (Reading, error) {
	resp, err := p.get(ctx, loc, url.Values{"current_weather": {"true"}})
	if err != nil {
		return Reading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		UTCOffsetSeconds int `json:"utc_offset_seconds"`
		CurrentWeather   struct {
			Temperature *float64 `json:"temperature"`
			WindSpeed   *float64 `json:"windspeed"`
			Time        string   `json:"time"`
			WeatherCode int      `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("openmeteo: decode: %w", err)
	}

	// times are local ISO8601 without an offset
	ts := time.Now().UTC()
	if t, err := time.Parse("2006-01-02T15:04", payload.CurrentWeather.Time); err == nil {
		ts = t.Add(-time.Duration(payload.UTCOffsetSeconds) * time.Second).UTC()
	}

	return Reading{
		Provider:     p.name,
		Timestamp:    ts,
		TemperatureC: payload.CurrentWeather.Temperature,
		WindSpeedKmh: payload.CurrentWeather.WindSpeed,
		Condition:    mapOpenMeteoCondition(payload.CurrentWeather.WeatherCode),
	}, nil
}

func (p *OpenMeteoProvider) Daily(ctx context.Context, loc Location, days int) ([]DailyReading, error) {
	resp, err := p.get(ctx, loc, url.Values{
		"daily":         {"weathercode,temperature_2m_max,temperature_2m_min,precipitation_sum,windspeed_10m_max"},
		"forecast_days": {strconv.Itoa(days)},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Daily struct {
			Time        []string   `json:"time"`
			WeatherCode []int      `json:"weathercode"`
			TempMax     []*float64 `json:"temperature_2m_max"`
			TempMin     []*float64 `json:"temperature_2m_min"`
			Precip      []*float64 `json:"precipitation_sum"`
			WindMax     []*float64 `json:"windspeed_10m_max"`
		} `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("openmeteo: decode: %w", err)
	}

	d := payload.Daily
	out := make([]DailyReading, 0, len(d.Time))
	for i, date := range d.Time {
		r := DailyReading{Provider: p.name, Date: date, Condition: ConditionUnknown}
		if i < len(d.WeatherCode) {
			r.Condition = mapOpenMeteoCondition(d.WeatherCode[i])
		}
		r.MaxC = at(d.TempMax, i)
		r.MinC = at(d.TempMin, i)
		r.PrecipMm = at(d.Precip, i)
		r.WindMaxKmh = at(d.WindMax, i)
		out = append(out, r)
	}
	return out, nil
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

// mapOpenMeteoCondition maps WMO weather interpretation codes.
func mapOpenMeteoCondition(code int) Condition {
	switch {
	case code == 0 || code == 1:
		return ConditionClear
	case code == 2 || code == 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95:
		return ConditionStorm
	default:
		return ConditionUnknown
	}
}
