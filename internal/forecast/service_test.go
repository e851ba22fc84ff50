package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/units"
)

type fakeProvider struct {
	name    string
	reading Reading
	daily   []DailyReading
	err     error

	mu           sync.Mutex
	currentCalls int
	dailyCalls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Current(context.Context, Location) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCalls++
	return f.reading, f.err
}

func (f *fakeProvider) Daily(_ context.Context, _ Location, days int) ([]DailyReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dailyCalls++
	return f.daily, f.err
}

// currentOnly hides the Daily method of a fakeProvider.
type currentOnly struct{ p *fakeProvider }

func (c currentOnly) Name() string { return c.p.Name() }
func (c currentOnly) Current(ctx context.Context, loc Location) (Reading, error) {
	return c.p.Current(ctx, loc)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	docs   [][]byte
	err    error
}

func (r *recordingPublisher) PublishPayload(_ context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.docs = append(r.docs, payload)
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var start = time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

func newUpdater(t *testing.T, pub Publisher, providers ...Provider) (*Updater, *time.Time) {
	t.Helper()
	u, err := NewUpdater(providers, pub, Options{
		Location: home,
		Units:    dashboard.DefaultDisplayUnits(),
		Days:     2,
	}, quietLogger())
	require.NoError(t, err)
	clock := start
	u.now = func() time.Time { return clock }
	return u, &clock
}

func TestNewUpdaterNeedsProviders(t *testing.T) {
	_, err := NewUpdater(nil, nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestAggregateReadings(t *testing.T) {
	r, providers := AggregateReadings([]Reading{
		{Provider: "a", Timestamp: start, TemperatureC: ptr(20), HumidityPct: ptr(50), Condition: ConditionCloudy},
		{Provider: "b", Timestamp: start.Add(time.Minute), TemperatureC: ptr(22), Condition: ConditionRain},
		{Provider: "c", Timestamp: start, TemperatureC: ptr(24), Condition: ConditionRain},
	})
	assert.Equal(t, []string{"a", "b", "c"}, providers)
	assert.Equal(t, 22.0, *r.TemperatureC)
	assert.Equal(t, 50.0, *r.HumidityPct)
	assert.Nil(t, r.PressureHpa)
	assert.Equal(t, ConditionRain, r.Condition)
	assert.Equal(t, start.Add(time.Minute), r.Timestamp)
}

func TestMajorityTieGoesToFirst(t *testing.T) {
	assert.Equal(t, ConditionCloudy, majority([]Condition{ConditionUnknown, ConditionCloudy, ConditionClear}))
	assert.Equal(t, ConditionUnknown, majority([]Condition{ConditionUnknown}))
	assert.Equal(t, ConditionUnknown, majority(nil))
}

func TestAggregateDaily(t *testing.T) {
	days := AggregateDaily([]DailyReading{
		{Date: "2024-03-11", MaxC: ptr(30), Condition: ConditionClear},
		{Date: "2024-03-10", MaxC: ptr(20), MinC: ptr(10), Condition: ConditionRain},
		{Date: "2024-03-10", MaxC: ptr(24), Condition: ConditionRain},
		{Date: "2024-03-12", MaxC: ptr(31)},
		{Date: ""},
	}, 2)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-10", days[0].Date)
	assert.Equal(t, 22.0, *days[0].MaxC)
	assert.Equal(t, 10.0, *days[0].MinC)
	assert.Equal(t, ConditionRain, days[0].Condition)
	assert.Equal(t, "2024-03-11", days[1].Date)
}

func TestProcessPublishesBothFeatures(t *testing.T) {
	a := &fakeProvider{name: "a", reading: Reading{Timestamp: start, TemperatureC: ptr(20), WindSpeedKmh: ptr(36), Condition: ConditionClear},
		daily: []DailyReading{{Date: "2024-03-10", MaxC: ptr(25), Condition: ConditionClear}}}
	b := &fakeProvider{name: "b", err: errors.New("down")}
	pub := &recordingPublisher{}
	u, _ := newUpdater(t, pub, a, b)

	u.Process(context.Background())

	require.Equal(t, []string{"weather/conditions", "weather/forecast"}, pub.topics)
	var c Conditions
	require.NoError(t, json.Unmarshal(pub.docs[0], &c))
	assert.Equal(t, 20.0, *c.Temperature)
	assert.Equal(t, 36.0, *c.WindSpeed)
	assert.Equal(t, []string{"a"}, c.Providers)
	assert.Equal(t, start.Unix(), c.LastUpdated)

	fc, ok := u.Forecast()
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, fc.Providers)
	require.Len(t, fc.Days, 1)
	assert.Equal(t, 25.0, *fc.Days[0].TempMax)
}

func TestProcessConvertsToDisplayUnits(t *testing.T) {
	a := &fakeProvider{name: "a", reading: Reading{Timestamp: start, TemperatureC: ptr(100), PressureHpa: ptr(1013.25)}}
	u, _ := newUpdater(t, nil, currentOnly{a})
	u.opts.Units.Temperature = units.DegreeF
	u.opts.Units.Pressure = units.InHg

	u.Process(context.Background())

	c, ok := u.Conditions()
	require.True(t, ok)
	assert.InDelta(t, 212.0, *c.Temperature, 1e-9)
	assert.InDelta(t, 29.92, *c.Pressure, 0.01)
	_, ok = u.Forecast()
	assert.False(t, ok)
}

func TestProcessHonoursIntervalsAndLockout(t *testing.T) {
	a := &fakeProvider{name: "a", reading: Reading{Timestamp: start, TemperatureC: ptr(20)},
		daily: []DailyReading{{Date: "2024-03-10", MaxC: ptr(25)}}}
	u, clock := newUpdater(t, nil, a)
	u.opts.ConditionsInterval = 10 * time.Minute
	u.opts.ForecastInterval = time.Hour

	u.Process(context.Background())
	assert.Equal(t, 1, a.currentCalls)
	assert.Equal(t, 1, a.dailyCalls)

	// inside the lockout nothing is called
	*clock = start.Add(30 * time.Second)
	u.Process(context.Background())
	assert.Equal(t, 1, a.currentCalls)

	// lockout passed but neither interval elapsed
	*clock = start.Add(5 * time.Minute)
	u.Process(context.Background())
	assert.Equal(t, 1, a.currentCalls)

	// a tick one second early still counts
	*clock = start.Add(10*time.Minute - time.Second)
	u.Process(context.Background())
	assert.Equal(t, 2, a.currentCalls)
	assert.Equal(t, 1, a.dailyCalls)

	*clock = start.Add(time.Hour)
	u.Process(context.Background())
	assert.Equal(t, 3, a.currentCalls)
	assert.Equal(t, 2, a.dailyCalls)
}

func TestProcessRetriesFailedFeature(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("down")}
	pub := &recordingPublisher{}
	u, clock := newUpdater(t, pub, a)

	u.Process(context.Background())
	assert.Empty(t, pub.topics)
	_, ok := u.Conditions()
	assert.False(t, ok)

	// failures do not start the lockout
	a.err = nil
	a.reading = Reading{Timestamp: start, TemperatureC: ptr(18)}
	a.daily = []DailyReading{{Date: "2024-03-10"}}
	*clock = start.Add(time.Second)
	u.Process(context.Background())
	assert.Equal(t, []string{"weather/conditions", "weather/forecast"}, pub.topics)
}

func TestProcessKeepsDocumentWhenPublishFails(t *testing.T) {
	a := &fakeProvider{name: "a", reading: Reading{Timestamp: start, TemperatureC: ptr(18)}}
	pub := &recordingPublisher{err: errors.New("broker gone")}
	u, _ := newUpdater(t, pub, currentOnly{a})

	u.Process(context.Background())
	c, ok := u.Conditions()
	require.True(t, ok)
	assert.Equal(t, 18.0, *c.Temperature)
}
