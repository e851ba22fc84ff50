package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/units"
)

var (
	// ErrNoData is returned when no provider produced a usable result.
	ErrNoData = errors.New("no provider data available")
	// ErrNoProviders is returned by NewUpdater when no provider is configured.
	ErrNoProviders = errors.New("no weather providers configured")
)

// Feature names a downloadable document.
type Feature string

const (
	FeatureConditions Feature = "conditions"
	FeatureForecast   Feature = "forecast"
)

var features = []Feature{FeatureConditions, FeatureForecast}

// Publisher sends an encoded document to a topic.
type Publisher interface {
	PublishPayload(ctx context.Context, topic string, payload []byte) error
}

// Options configures an Updater.
type Options struct {
	Location Location
	Units    dashboard.DisplayUnits
	Days     int

	ConditionsTopic string
	ForecastTopic   string

	// ConditionsInterval and ForecastInterval set how often each feature is
	// refreshed.
	ConditionsInterval time.Duration
	ForecastInterval   time.Duration
	// Lockout is the minimum time between rounds of API calls.
	Lockout time.Duration
}

// Updater periodically downloads current conditions and a daily forecast,
// publishes them and keeps the latest copy for the HTTP API.
type Updater struct {
	providers []Provider
	pub       Publisher
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	mu         sync.RWMutex
	last       map[Feature]time.Time
	lastCall   time.Time
	conditions *Conditions
	forecast   *Forecast
}

// NewUpdater creates an Updater. pub may be nil, in which case documents are
// only kept in memory.
func NewUpdater(providers []Provider, pub Publisher, opts Options, logger *slog.Logger) (*Updater, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.ConditionsInterval <= 0 {
		opts.ConditionsInterval = 30 * time.Minute
	}
	if opts.ForecastInterval <= 0 {
		opts.ForecastInterval = 30 * time.Minute
	}
	if opts.Lockout <= 0 {
		opts.Lockout = time.Minute
	}
	if opts.Units == (dashboard.DisplayUnits{}) {
		opts.Units = dashboard.DefaultDisplayUnits()
	}
	if opts.Days <= 0 {
		opts.Days = 3
	}
	if opts.ConditionsTopic == "" {
		opts.ConditionsTopic = "weather/conditions"
	}
	if opts.ForecastTopic == "" {
		opts.ForecastTopic = "weather/forecast"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		providers: providers,
		pub:       pub,
		opts:      opts,
		log:       logger.With(slog.String("component", "forecast")),
		now:       time.Now,
		last:      make(map[Feature]time.Time),
	}, nil
}

func (u *Updater) interval(f Feature) time.Duration {
	if f == FeatureForecast {
		return u.opts.ForecastInterval
	}
	return u.opts.ConditionsInterval
}

// Process refreshes every feature whose interval has elapsed. Calls are
// skipped entirely while the API lockout period since the last round has not
// passed. A failed feature is retried on the next call.
func (u *Updater) Process(ctx context.Context) {
	now := u.now()

	u.mu.Lock()
	lastCall := u.lastCall
	last := make(map[Feature]time.Time, len(u.last))
	for f, t := range u.last {
		last[f] = t
	}
	u.mu.Unlock()

	// one second of slack so a scheduler tick landing just early still counts
	slack := time.Second
	for _, f := range features {
		if !lastCall.IsZero() && now.Add(slack).Sub(lastCall) < u.opts.Lockout {
			u.log.Debug("API call limit reached", slog.String("feature", string(f)))
			break
		}
		if t, ok := last[f]; ok && now.Add(slack).Sub(t) < u.interval(f) {
			continue
		}

		if err := u.update(ctx, f, now); err != nil {
			u.log.Warn("feature update failed", slog.String("feature", string(f)), slog.Any("error", err))
			continue
		}
		last[f] = now
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for f, t := range last {
		u.last[f] = t
		if t.After(u.lastCall) {
			u.lastCall = t
		}
	}
}

func (u *Updater) update(ctx context.Context, f Feature, now time.Time) error {
	var (
		doc   any
		topic string
	)
	switch f {
	case FeatureConditions:
		c, err := u.fetchConditions(ctx, now)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.conditions = &c
		u.mu.Unlock()
		doc, topic = c, u.opts.ConditionsTopic
	case FeatureForecast:
		fc, err := u.fetchForecast(ctx, now)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.forecast = &fc
		u.mu.Unlock()
		doc, topic = fc, u.opts.ForecastTopic
	default:
		return fmt.Errorf("unknown feature %q", f)
	}

	if u.pub == nil {
		return nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f, err)
	}
	// the document stays cached even when publishing fails
	if err := u.pub.PublishPayload(ctx, topic, payload); err != nil {
		u.log.Warn("publish failed", slog.String("feature", string(f)), slog.Any("error", err))
	}
	return nil
}

// fetchConditions fetches from all providers concurrently and aggregates the
// successful readings.
func (u *Updater) fetchConditions(ctx context.Context, now time.Time) (Conditions, error) {
	results := make([]*Reading, len(u.providers))
	var wg sync.WaitGroup
	for i, p := range u.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			r, err := p.Current(ctx, u.opts.Location)
			if err != nil {
				// Log and continue; we want partial success when possible.
				u.log.Warn("provider fetch failed", slog.String("provider", p.Name()), slog.Any("error", err))
				return
			}
			r.Provider = p.Name()
			results[i] = &r
		}(i, p)
	}
	wg.Wait()

	readings := make([]Reading, 0, len(results))
	for _, r := range results {
		if r != nil {
			readings = append(readings, *r)
		}
	}
	if len(readings) == 0 {
		return Conditions{}, fmt.Errorf("conditions: %w", ErrNoData)
	}

	agg, providers := AggregateReadings(readings)
	c := Conditions{
		Condition:   agg.Condition,
		Providers:   providers,
		Observed:    agg.Timestamp.Unix(),
		LastUpdated: now.Unix(),
	}
	var err error
	if c.Temperature, err = units.ConvertPtr(agg.TemperatureC, units.DegreeC, u.opts.Units.Temperature); err != nil {
		return Conditions{}, err
	}
	c.Humidity = agg.HumidityPct
	if c.WindSpeed, err = units.ConvertPtr(agg.WindSpeedKmh, units.KmPerHour, u.opts.Units.Speed); err != nil {
		return Conditions{}, err
	}
	if c.Pressure, err = units.ConvertPtr(agg.PressureHpa, units.HPa, u.opts.Units.Pressure); err != nil {
		return Conditions{}, err
	}
	if c.Precip, err = units.ConvertPtr(agg.PrecipMm, units.Mm, u.opts.Units.Rain); err != nil {
		return Conditions{}, err
	}
	return c, nil
}

// fetchForecast merges the daily forecasts of every provider that serves one.
func (u *Updater) fetchForecast(ctx context.Context, now time.Time) (Forecast, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		daily     []DailyReading
		providers []string
	)
	for _, p := range u.providers {
		dp, ok := p.(DailyProvider)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(dp DailyProvider) {
			defer wg.Done()
			readings, err := dp.Daily(ctx, u.opts.Location, u.opts.Days)
			if err != nil {
				u.log.Warn("provider forecast failed", slog.String("provider", dp.Name()), slog.Any("error", err))
				return
			}
			if len(readings) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			daily = append(daily, readings...)
			providers = append(providers, dp.Name())
		}(dp)
	}
	wg.Wait()

	merged := AggregateDaily(daily, u.opts.Days)
	if len(merged) == 0 {
		return Forecast{}, fmt.Errorf("forecast: %w", ErrNoData)
	}

	fc := Forecast{
		Days:        make([]Day, 0, len(merged)),
		Providers:   sortedCopy(providers),
		LastUpdated: now.Unix(),
	}
	for _, r := range merged {
		d := Day{Date: r.Date, Condition: r.Condition}
		var err error
		if d.TempMin, err = units.ConvertPtr(r.MinC, units.DegreeC, u.opts.Units.Temperature); err != nil {
			return Forecast{}, err
		}
		if d.TempMax, err = units.ConvertPtr(r.MaxC, units.DegreeC, u.opts.Units.Temperature); err != nil {
			return Forecast{}, err
		}
		if d.Precip, err = units.ConvertPtr(r.PrecipMm, units.Mm, u.opts.Units.Rain); err != nil {
			return Forecast{}, err
		}
		if d.WindMax, err = units.ConvertPtr(r.WindMaxKmh, units.KmPerHour, u.opts.Units.Speed); err != nil {
			return Forecast{}, err
		}
		fc.Days = append(fc.Days, d)
	}
	return fc, nil
}

// Conditions returns the latest current conditions document.
func (u *Updater) Conditions() (Conditions, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conditions == nil {
		return Conditions{}, false
	}
	return *u.conditions, true
}

// Forecast returns the latest forecast document.
func (u *Updater) Forecast() (Forecast, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.forecast == nil {
		return Forecast{}, false
	}
	return *u.forecast, true
}
