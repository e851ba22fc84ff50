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

// OpenWeatherProvider serves current conditions from OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	cfg     SourceConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(cfg SourceConfig) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		cfg:     cfg.withDefaults("https://api.openweathermap.org/data/2.5/weather"),
		circuit: newCircuit("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Current(ctx context.Context, loc Location) (Reading, error) {
	if p.cfg.APIKey == "" {
		return Reading{}, fmt.Errorf("openweather: %w", errMissingAPIKey)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.cfg.APIKey)
		values.Set("units", "metric")
		values.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
		return http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.cfg, p.circuit, buildRequest)
	if err != nil {
		return Reading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			OneH   *float64 `json:"1h"`
			ThreeH *float64 `json:"3h"`
		} `json:"rain"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("openweather: decode: %w", err)
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	precip := payload.Rain.OneH
	if precip == nil {
		precip = payload.Rain.ThreeH
	}

	// wind arrives in m/s with units=metric
	var wind *float64
	if payload.Wind.Speed != nil {
		wind = ptr(*payload.Wind.Speed * 3.6)
	}

	cond := ConditionUnknown
	if len(payload.Weather) > 0 {
		cond = mapOpenWeatherCondition(payload.Weather[0].Main)
	}

	return Reading{
		Provider:     p.name,
		Timestamp:    ts,
		TemperatureC: payload.Main.Temp,
		HumidityPct:  payload.Main.Humidity,
		WindSpeedKmh: wind,
		PressureHpa:  payload.Main.Pressure,
		PrecipMm:     precip,
		Condition:    cond,
	}, nil
}

func mapOpenWeatherCondition(main string) Condition {
	switch main {
	case "Clear":
		return ConditionClear
	case "Clouds":
		return ConditionCloudy
	case "Rain", "Drizzle":
		return ConditionRain
	case "Snow":
		return ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		return ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust":
		return ConditionMist
	default:
		return ConditionUnknown
	}
}
