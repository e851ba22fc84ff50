package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// WeatherAPIProvider serves current conditions and a daily forecast from
// WeatherAPI.com. BaseURL is the API root; the endpoint is appended.
type WeatherAPIProvider struct {
	name    string
	cfg     SourceConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(cfg SourceConfig) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		cfg:     cfg.withDefaults("https://api.weatherapi.com/v1"),
		circuit: newCircuit("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type weatherAPICondition struct {
	Text string `json:"text"`
}

func (p *WeatherAPIProvider) get(ctx context.Context, endpoint string, values url.Values) (*http.Response, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("weatherapi: %w", errMissingAPIKey)
	}
	values.Set("key", p.cfg.APIKey)
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + endpoint + "?" + values.Encode()
	return doRequestWithResilience(ctx, p.cfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
}

func (p *WeatherAPIProvider) Current(ctx context.Context, loc Location) (Reading, error) {
	resp, err := p.get(ctx, "current.json", url.Values{"q": {loc.String()}})
	if err != nil {
		return Reading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			LastUpdatedEpoch int64               `json:"last_updated_epoch"`
			TempC            *float64            `json:"temp_c"`
			Humidity         *float64            `json:"humidity"`
			WindKph          *float64            `json:"wind_kph"`
			PressureMb       *float64            `json:"pressure_mb"`
			PrecipMm         *float64            `json:"precip_mm"`
			Condition        weatherAPICondition `json:"condition"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("weatherapi: decode: %w", err)
	}

	ts := time.Now().UTC()
	if payload.Current.LastUpdatedEpoch > 0 {
		ts = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	}

	return Reading{
		Provider:     p.name,
		Timestamp:    ts,
		TemperatureC: payload.Current.TempC,
		HumidityPct:  payload.Current.Humidity,
		WindSpeedKmh: payload.Current.WindKph,
		PressureHpa:  payload.Current.PressureMb,
		PrecipMm:     payload.Current.PrecipMm,
		Condition:    mapWeatherAPICondition(payload.Current.Condition.Text),
	}, nil
}

func (p *WeatherAPIProvider) Daily(ctx context.Context, loc Location, days int) ([]DailyReading, error) {
	resp, err := p.get(ctx, "forecast.json", url.Values{
		"q":    {loc.String()},
		"days": {strconv.Itoa(days)},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Forecast struct {
			ForecastDay []struct {
				Date string `json:"date"`
				Day  struct {
					MaxTempC    *float64            `json:"maxtemp_c"`
					MinTempC    *float64            `json:"mintemp_c"`
					MaxWindKph  *float64            `json:"maxwind_kph"`
					TotalPrecip *float64            `json:"totalprecip_mm"`
					Condition   weatherAPICondition `json:"condition"`
				} `json:"day"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("weatherapi: decode: %w", err)
	}

	out := make([]DailyReading, 0, len(payload.Forecast.ForecastDay))
	for _, fd := range payload.Forecast.ForecastDay {
		out = append(out, DailyReading{
			Provider:   p.name,
			Date:       fd.Date,
			MinC:       fd.Day.MinTempC,
			MaxC:       fd.Day.MaxTempC,
			PrecipMm:   fd.Day.TotalPrecip,
			WindMaxKmh: fd.Day.MaxWindKph,
			Condition:  mapWeatherAPICondition(fd.Day.Condition.Text),
		})
	}
	return out, nil
}

func mapWeatherAPICondition(text string) Condition {
	switch {
	case text == "":
		return ConditionUnknown
	case containsAny(text, "thunder", "storm"):
		return ConditionStorm
	case containsAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return ConditionSnow
	case containsAny(text, "rain", "shower", "drizzle"):
		return ConditionRain
	case containsAny(text, "mist", "fog"):
		return ConditionMist
	case containsAny(text, "cloud", "overcast"):
		return ConditionCloudy
	case containsAny(text, "sunny", "clear"):
		return ConditionClear
	default:
		return ConditionUnknown
	}
}
