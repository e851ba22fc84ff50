// Package forecast downloads current conditions and daily forecasts from
// public weather APIs and publishes them alongside the station dashboard.
package forecast

import (
	"fmt"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Location is the station position used for API queries.
type Location struct {
	Lat float64
	Lon float64
}

func (l Location) String() string {
	return fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lon)
}

// Reading is one provider's current conditions in metric units. Fields the
// provider does not report are nil.
type Reading struct {
	Provider     string
	Timestamp    time.Time
	TemperatureC *float64
	HumidityPct  *float64
	WindSpeedKmh *float64
	PressureHpa  *float64
	PrecipMm     *float64
	Condition    Condition
}

// DailyReading is one provider's forecast for a calendar day.
type DailyReading struct {
	Provider   string
	Date       string // YYYY-MM-DD, local to the station
	MinC       *float64
	MaxC       *float64
	PrecipMm   *float64
	WindMaxKmh *float64
	Condition  Condition
}

// Conditions is the published current conditions document. Values are in
// the dashboard display units.
type Conditions struct {
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	WindSpeed   *float64  `json:"windSpeed"`
	Pressure    *float64  `json:"pressure"`
	Precip      *float64  `json:"precip"`
	Condition   Condition `json:"condition"`
	Providers   []string  `json:"providers"`
	Observed    int64     `json:"observed"`
	LastUpdated int64     `json:"last_updated"`
}

// Day is one entry of the published forecast.
type Day struct {
	Date      string    `json:"date"`
	TempMin   *float64  `json:"tempMin"`
	TempMax   *float64  `json:"tempMax"`
	Precip    *float64  `json:"precip"`
	WindMax   *float64  `json:"windMax"`
	Condition Condition `json:"condition"`
}

// Forecast is the published daily forecast document.
type Forecast struct {
	Days        []Day    `json:"days"`
	Providers   []string `json:"providers"`
	LastUpdated int64    `json:"last_updated"`
}
