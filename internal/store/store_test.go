package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

func archiveRecord(ts int64, system units.System, values map[string]float64) weather.Record {
	rec := weather.NewRecord(ts, system)
	for k, v := range values {
		rec.Set(k, weather.Float(v))
	}
	return rec
}

func TestArchiveGetRecordClosestWithinGrace(t *testing.T) {
	ctx := context.Background()
	s := NewArchiveStore(units.Metric, time.UTC, 5*time.Minute, 0, 0)
	for _, ts := range []int64{1000, 1300, 1600} {
		require.NoError(t, s.SaveRecord(ctx, archiveRecord(ts, units.Metric, map[string]float64{"outTemp": float64(ts)})))
	}

	rec, err := s.GetRecord(ctx, 1350, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), *rec.Timestamp)

	// equidistant picks the earlier record
	rec, err = s.GetRecord(ctx, 1450, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), *rec.Timestamp)

	_, err = s.GetRecord(ctx, 2500, 300)
	require.ErrorIs(t, err, ErrNotFound)

	// returned records are copies
	v, _ := rec.Get("outTemp")
	*v = -1
	again, err := s.GetRecord(ctx, 1300, 0)
	require.NoError(t, err)
	got, _ := again.Get("outTemp")
	assert.Equal(t, 1300.0, *got)
}

func TestArchiveSaveReplacesAndRetains(t *testing.T) {
	ctx := context.Background()
	s := NewArchiveStore(units.Metric, time.UTC, 0, 2, 0)
	require.NoError(t, s.SaveRecord(ctx, archiveRecord(300, units.Metric, map[string]float64{"outTemp": 1})))
	require.NoError(t, s.SaveRecord(ctx, archiveRecord(100, units.Metric, map[string]float64{"outTemp": 1})))
	require.NoError(t, s.SaveRecord(ctx, archiveRecord(300, units.Metric, map[string]float64{"outTemp": 2})))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.SaveRecord(ctx, archiveRecord(600, units.Metric, nil)))
	assert.Equal(t, 2, s.Len())

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(600), *latest.Timestamp)
	_, err = s.GetRecord(ctx, 100, 0)
	require.ErrorIs(t, err, ErrNotFound)

	bad := archiveRecord(1, units.Metric, nil)
	bad.Timestamp = nil
	require.ErrorIs(t, s.SaveRecord(ctx, bad), weather.ErrMissingTimestamp)
}

func TestArchivePrune(t *testing.T) {
	ctx := context.Background()
	s := NewArchiveStore(units.Metric, time.UTC, 0, 0, time.Hour)
	now := time.Unix(10000, 0)
	for _, ts := range []int64{5000, 6000, 7000, 9000} {
		require.NoError(t, s.SaveRecord(ctx, archiveRecord(ts, units.Metric, nil)))
	}
	assert.Equal(t, 2, s.Prune(now))
	assert.Equal(t, 2, s.Len())
}

func TestArchiveLatestEmpty(t *testing.T) {
	s := NewArchiveStore(units.Metric, time.UTC, 0, 0, 0)
	_, err := s.Latest(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveDaySummary(t *testing.T) {
	ctx := context.Background()
	s := NewArchiveStore(units.Metric, time.UTC, 5*time.Minute, 0, 0)
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Unix()

	recs := []weather.Record{
		// belongs to the previous day
		archiveRecord(day, units.Metric, map[string]float64{"outTemp": 40}),
		archiveRecord(day+300, units.Metric, map[string]float64{"outTemp": 10, "windSpeed": 10, "windDir": 90, "windGust": 15, "windGustDir": 80, "rain": 0.1}),
		archiveRecord(day+600, units.US, map[string]float64{"outTemp": 68, "windSpeed": 0, "rain": 0.1, "interval": 5}),
		archiveRecord(day+86400+300, units.Metric, map[string]float64{"outTemp": -5}),
	}
	for _, r := range recs {
		require.NoError(t, s.SaveRecord(ctx, r))
	}

	sum, err := s.DaySummary(ctx, day+3600)
	require.NoError(t, err)
	assert.Equal(t, day, sum.Start)
	assert.Equal(t, units.Metric, sum.UnitSystem)

	temp := sum.Obs["outTemp"]
	assert.Equal(t, 10.0, *temp.Min)
	assert.Equal(t, day+300, *temp.MinTime)
	assert.InDelta(t, 20.0, *temp.Max, 1e-9)
	assert.Equal(t, 2, temp.Count)

	// 0.1 inch converted to cm
	rain := sum.Obs["rain"]
	assert.InDelta(t, 0.1+0.254, rain.Sum, 1e-9)

	ws := sum.Obs["windSpeed"]
	assert.InDelta(t, 10.0*300, ws.WSum, 1e-9)
	assert.Equal(t, 600.0, ws.SumTime)

	wind := sum.Obs["wind"]
	assert.Equal(t, 15.0, *wind.Max)
	assert.Equal(t, 80.0, *wind.MaxDir)
	assert.InDelta(t, 10.0*300, wind.XSum, 1e-9)
	assert.InDelta(t, 0.0, wind.YSum, 1e-9)
	assert.Equal(t, 0.0, *wind.Min)

	// a midnight timestamp summarises the day that ends there
	prev, err := s.DaySummary(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 40.0, *prev.Obs["outTemp"].Max)
}

func snap(ts int64) dashboard.Snapshot {
	var s dashboard.Snapshot
	s.DateTime.Now = ts
	return s
}

func TestMemoryStoreRetentionByCount(t *testing.T) {
	st := NewMemoryStore(2, 0)
	st.SaveSnapshot("home", snap(1))
	st.SaveSnapshot("home", snap(2))
	st.SaveSnapshot("home", snap(3))

	all, err := st.GetRange("home", time.Unix(0, 0), time.Unix(10, 0))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].DateTime.Now)

	latest, err := st.GetLatest("home")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.DateTime.Now)

	_, err = st.GetLatest("elsewhere")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRetentionByAge(t *testing.T) {
	st := NewMemoryStore(0, time.Hour)
	st.now = func() time.Time { return time.Unix(10000, 0) }

	st.SaveSnapshot("home", snap(1000))
	st.SaveSnapshot("home", snap(7000))
	st.SaveSnapshot("home", snap(9000))

	all, err := st.GetRange("home", time.Unix(0, 0), time.Unix(20000, 0))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(7000), all[0].DateTime.Now)

	st.now = func() time.Time { return time.Unix(50000, 0) }
	st.Prune()
	all, err = st.GetRange("home", time.Unix(0, 0), time.Unix(20000, 0))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(9000), all[0].DateTime.Now)
}

func TestMemoryStoreRangeEmpty(t *testing.T) {
	st := NewMemoryStore(0, 0)
	st.SaveSnapshot("home", snap(100))
	_, err := st.GetRange("home", time.Unix(200, 0), time.Unix(300, 0))
	require.ErrorIs(t, err, ErrNotFound)
}
