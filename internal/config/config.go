package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/units"
)

var validate = validator.New()

type MQTTConfig struct {
	ServerURL     string `validate:"required,url"`
	LoopTopic     string `validate:"required"`
	ArchiveTopic  string `validate:"required"`
	RealtimeTopic string `validate:"required"`
	SlowTopic     string `validate:"required"`
	Retain        bool
	MaxTries      int           `validate:"min=1"`
	RetryWait     time.Duration `validate:"min=0"`
	TLSInsecure   bool
}

// ForecastConfig controls the conditions and forecast downloads. They are
// enabled when the station position is configured.
type ForecastConfig struct {
	Enabled            bool
	Latitude           float64       `validate:"min=-90,max=90"`
	Longitude          float64       `validate:"min=-180,max=180"`
	ConditionsTopic    string        `validate:"required"`
	ForecastTopic      string        `validate:"required"`
	ConditionsInterval time.Duration `validate:"min=1m"`
	ForecastInterval   time.Duration `validate:"min=1m"`
	Lockout            time.Duration `validate:"min=0"`
	Days               int           `validate:"min=1,max=14"`
	OpenWeatherAPIKey  string
	WeatherAPIKey      string
}

type AppConfig struct {
	Port     string `validate:"required,numeric"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// Station keys the snapshot history served by the HTTP API.
	Station  string `validate:"required"`
	Location *time.Location

	MQTT     MQTTConfig
	Forecast ForecastConfig

	// MinInterval is the least number of seconds between dashboard generations.
	MinInterval int64 `validate:"min=0"`

	// MaxCacheAge is how long, in seconds, a cached observation stays usable.
	MaxCacheAge     int64         `validate:"min=1"`
	ArchiveInterval time.Duration `validate:"min=1m"`
	QueueSize       int           `validate:"min=1"`
	MaxBacklog      int           `validate:"min=0"`
	ShutdownTimeout time.Duration

	// ArchiveUnitSystem is the unit system archive records are kept in.
	ArchiveUnitSystem units.System

	Units         dashboard.DisplayUnits
	DecimalPlaces map[units.Unit]int

	// In-memory store retention.
	StoreMaxHistory int           // max number of snapshots kept (0 = unlimited)
	StoreMaxAge     time.Duration // max age of snapshots (0 = unlimited)
	ArchiveMaxAge   time.Duration // max age of archive records (0 = unlimited)
}

// Load reads .env files (if any) and then the environment.
func Load(envFiles ...string) (*AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Info("no .env file loaded", slog.Any("error", err))
	}
	return FromEnv()
}

// FromEnv builds and validates the configuration from the process environment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:     getenvDefault("PORT", "8080"),
		LogLevel: strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		Station:  getenvDefault("STATION", "weewx"),
		MQTT: MQTTConfig{
			ServerURL:     getenvDefault("MQTT_SERVER_URL", "tcp://localhost:1883"),
			LoopTopic:     getenvDefault("MQTT_LOOP_TOPIC", "weather/loop"),
			ArchiveTopic:  getenvDefault("MQTT_ARCHIVE_TOPIC", "weather/archive"),
			RealtimeTopic: getenvDefault("MQTT_REALTIME_TOPIC", "weather/realtime"),
			SlowTopic:     getenvDefault("MQTT_SLOW_TOPIC", "weather/slow"),
			Retain:        getenvBool("MQTT_RETAIN", true),
			MaxTries:      getenvInt("MQTT_MAX_TRIES", 3),
			TLSInsecure:   getenvBool("MQTT_TLS_INSECURE", false),
		},
		MinInterval:     int64(getenvInt("MIN_INTERVAL", 0)),
		MaxCacheAge:     int64(getenvInt("MAX_CACHE_AGE", 600)),
		QueueSize:       getenvInt("QUEUE_SIZE", 100),
		MaxBacklog:      getenvInt("MAX_BACKLOG", 5),
		StoreMaxHistory: getenvInt("STORE_MAX_HISTORY", 1440), // a day of one-minute snapshots
		Units: dashboard.DisplayUnits{
			Temperature: units.Unit(getenvDefault("UNIT_TEMPERATURE", string(units.DegreeC))),
			Pressure:    units.Unit(getenvDefault("UNIT_PRESSURE", string(units.HPa))),
			Speed:       units.Unit(getenvDefault("UNIT_SPEED", string(units.KmPerHour))),
			Rain:        units.Unit(getenvDefault("UNIT_RAIN", string(units.Mm))),
			RainRate:    units.Unit(getenvDefault("UNIT_RAINRATE", string(units.MmPerHour))),
			Distance:    units.Unit(getenvDefault("UNIT_DISTANCE", string(units.Km))),
		},
	}

	var err error
	if cfg.MQTT.RetryWait, err = getenvDuration("MQTT_RETRY_WAIT", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ArchiveInterval, err = getenvDuration("ARCHIVE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ArchiveMaxAge, err = getenvDuration("ARCHIVE_MAX_AGE", 48*time.Hour); err != nil {
		return nil, err
	}

	if cfg.ArchiveUnitSystem, err = units.ParseSystem(getenvDefault("ARCHIVE_UNIT_SYSTEM", "US")); err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_UNIT_SYSTEM: %w", err)
	}

	if err := loadForecast(&cfg.Forecast); err != nil {
		return nil, err
	}

	tz := getenvDefault("TIMEZONE", "Local")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	if cfg.DecimalPlaces, err = parseDecimalPlaces(os.Getenv("DECIMAL_PLACES")); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadForecast(fc *ForecastConfig) error {
	fc.ConditionsTopic = getenvDefault("MQTT_CONDITIONS_TOPIC", "weather/conditions")
	fc.ForecastTopic = getenvDefault("MQTT_FORECAST_TOPIC", "weather/forecast")
	fc.Days = getenvInt("FORECAST_DAYS", 3)
	fc.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	fc.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")

	var err error
	if fc.ConditionsInterval, err = getenvDuration("CONDITIONS_INTERVAL", 30*time.Minute); err != nil {
		return err
	}
	if fc.ForecastInterval, err = getenvDuration("FORECAST_INTERVAL", 30*time.Minute); err != nil {
		return err
	}
	if fc.Lockout, err = getenvDuration("API_LOCKOUT_PERIOD", time.Minute); err != nil {
		return err
	}

	lat, lon := os.Getenv("STATION_LATITUDE"), os.Getenv("STATION_LONGITUDE")
	if lat == "" && lon == "" {
		return nil
	}
	if lat == "" || lon == "" {
		return fmt.Errorf("STATION_LATITUDE and STATION_LONGITUDE must be set together")
	}
	if fc.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
		return fmt.Errorf("invalid STATION_LATITUDE: %w", err)
	}
	if fc.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
		return fmt.Errorf("invalid STATION_LONGITUDE: %w", err)
	}
	fc.Enabled = true
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseDecimalPlaces reads a "unit=places,unit=places" list.
func parseDecimalPlaces(s string) (map[units.Unit]int, error) {
	out := make(map[units.Unit]int)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, item := range strings.Split(s, ",") {
		name, places, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			return nil, fmt.Errorf("invalid DECIMAL_PLACES entry %q", item)
		}
		u := units.Unit(strings.TrimSpace(name))
		if _, known := units.GroupOfUnit(u); !known {
			return nil, fmt.Errorf("invalid DECIMAL_PLACES entry %q: unknown unit", item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(places))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid DECIMAL_PLACES entry %q", item)
		}
		out[u] = n
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
