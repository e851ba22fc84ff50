package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjr80/weewx-utilities/internal/aggregate"
	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/store"
	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []dashboard.Snapshot
	err   error
	panic bool
}

func (p *recordingPublisher) Publish(_ context.Context, s dashboard.Snapshot) error {
	if p.panic {
		panic("broker exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
	return p.err
}

func (p *recordingPublisher) published() []dashboard.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dashboard.Snapshot(nil), p.snaps...)
}

type brokenArchive struct {
	*store.ArchiveStore
	summary *weather.DaySummary
}

func (b brokenArchive) DaySummary(context.Context, int64) (*weather.DaySummary, error) {
	return b.summary, nil
}

var day1 = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packet(t time.Time, values map[string]float64) weather.Record {
	rec := weather.NewRecord(t.Unix(), units.Metric)
	for k, v := range values {
		rec.Set(k, weather.Float(v))
	}
	return rec
}

func newTestService(t *testing.T, pub Publisher, opts Options) (*Service, *store.ArchiveStore, *store.MemoryStore) {
	t.Helper()
	archive := store.NewArchiveStore(units.Metric, time.UTC, 5*time.Minute, 0, 0)
	snaps := store.NewMemoryStore(0, 0)
	opts.Location = time.UTC
	opts.Station = "test"
	opts.Dashboard.Units = dashboard.DefaultDisplayUnits()
	svc := New(opts, archive, pub, snaps, quietLogger())
	svc.now = func() time.Time { return day1.Add(22 * time.Hour) }
	return svc, archive, snaps
}

func TestServicePublishesSnapshots(t *testing.T) {
	pub := &recordingPublisher{}
	svc, archive, snaps := newTestService(t, pub, Options{MaxCacheAge: 7200})
	require.NoError(t, archive.SaveRecord(context.Background(), packet(day1.Add(21*time.Hour), map[string]float64{"outTemp": 4, "barometer": 1010})))

	require.NoError(t, svc.Start(context.Background()))
	svc.SubmitLoop(packet(day1.Add(22*time.Hour), map[string]float64{"outTemp": 6}))
	svc.SubmitLoop(packet(day1.Add(22*time.Hour+time.Minute), map[string]float64{"outTemp": 7}))
	require.NoError(t, svc.Stop(5*time.Second))

	got := pub.published()
	require.Len(t, got, 2)
	assert.Equal(t, 7.0, *got[1].OutTemp.Now)
	assert.Equal(t, 3.0, *got[1].OutTemp.Trend)
	// barometer is only in the primed cache
	assert.Equal(t, 1010.0, *got[1].Barometer.Now)

	latest, err := snaps.GetLatest("test")
	require.NoError(t, err)
	assert.Equal(t, got[1].DateTime.Now, latest.DateTime.Now)
	assert.NoError(t, svc.Err())
}

func TestServiceThrottles(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _, _ := newTestService(t, pub, Options{Dashboard: dashboard.Options{MinInterval: 60}})

	require.NoError(t, svc.Start(context.Background()))
	base := day1.Add(22 * time.Hour)
	for _, off := range []time.Duration{0, 10 * time.Second, 59 * time.Second, 60 * time.Second} {
		svc.SubmitLoop(packet(base.Add(off), map[string]float64{"outTemp": 1}))
	}
	require.NoError(t, svc.Stop(5*time.Second))
	assert.Len(t, pub.published(), 2)
}

func TestServiceDayRolloverAndNineAM(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _, _ := newTestService(t, pub, Options{})
	require.NoError(t, svc.Start(context.Background()))

	svc.SubmitLoop(packet(day1.Add(23*time.Hour), map[string]float64{"rain": 1, "outTemp": 20}))
	svc.SubmitLoop(packet(day1.Add(25*time.Hour), map[string]float64{"rain": 2, "outTemp": 5}))
	svc.SubmitLoop(packet(day1.Add(33*time.Hour+30*time.Minute), map[string]float64{"rain": 4, "outTemp": 8}))
	require.NoError(t, svc.Stop(5*time.Second))

	rain, ok := svc.buffer.Get("rain")
	require.True(t, ok)
	assert.Equal(t, 6.0, rain.Day().DaySum)
	assert.Equal(t, 4.0, rain.Day().NineAMSum)

	out, _ := svc.buffer.Get("outTemp")
	assert.Equal(t, 8.0, *out.Day().DayMax)
	assert.Equal(t, 5.0, *out.Day().DayMin)
}

func TestServiceEndOfInterval(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingPublisher{}, Options{})
	require.NoError(t, svc.Start(context.Background()))

	svc.SubmitLoop(packet(day1.Add(22*time.Hour), map[string]float64{"rain": 1}))
	svc.EndOfInterval()
	svc.SubmitLoop(packet(day1.Add(22*time.Hour+time.Minute), map[string]float64{"rain": 0.5}))
	require.NoError(t, svc.Stop(5*time.Second))

	rain, _ := svc.buffer.Get("rain")
	assert.Equal(t, 0.5, rain.Day().IntervalSum)
	assert.Equal(t, 1.5, rain.Day().DaySum)
}

func TestServiceSkipsBacklog(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _, _ := newTestService(t, pub, Options{MaxBacklog: 1})
	ctx := context.Background()
	require.NoError(t, svc.init(ctx))

	base := day1.Add(22 * time.Hour)
	for i := 0; i < 3; i++ {
		require.True(t, svc.SubmitLoop(packet(base.Add(time.Duration(i)*time.Minute), map[string]float64{"outTemp": float64(i)})))
	}
	svc.queue <- Package{Kind: kindShutdown}
	svc.run(ctx)

	got := pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(2*time.Minute).Unix(), got[0].DateTime.Now)
	assert.Equal(t, int64(2), svc.Skipped())
}

func TestServiceDropsWhenQueueFull(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingPublisher{}, Options{QueueSize: 1})
	assert.True(t, svc.EndOfInterval())
	assert.False(t, svc.EndOfInterval())
	assert.Equal(t, int64(1), svc.Dropped())
}

func TestServicePublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _, snaps := newTestService(t, pub, Options{})
	require.NoError(t, svc.Start(context.Background()))

	svc.SubmitLoop(packet(day1.Add(22*time.Hour), map[string]float64{"outTemp": 1}))
	svc.SubmitLoop(packet(day1.Add(22*time.Hour+time.Minute), map[string]float64{"outTemp": 2}))
	require.NoError(t, svc.Stop(5*time.Second))

	assert.Len(t, pub.published(), 2)
	latest, err := snaps.GetLatest("test")
	require.NoError(t, err)
	assert.Equal(t, 2.0, *latest.OutTemp.Now)
}

func TestServiceIgnoresPacketWithoutTimestamp(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _, _ := newTestService(t, pub, Options{})
	require.NoError(t, svc.Start(context.Background()))

	rec := packet(day1, map[string]float64{"outTemp": 1})
	rec.Timestamp = nil
	svc.SubmitLoop(rec)
	require.NoError(t, svc.Stop(5*time.Second))
	assert.Empty(t, pub.published())
}

func TestServiceUnknownUnitsStopLoop(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingPublisher{}, Options{})
	require.NoError(t, svc.Start(context.Background()))

	rec := packet(day1.Add(22*time.Hour), map[string]float64{"outTemp": 1})
	rec.UnitSystem = units.System(9)
	svc.SubmitLoop(rec)

	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
	require.ErrorIs(t, svc.Err(), aggregate.ErrConfiguration)
}

func TestServicePanicStopsLoop(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingPublisher{panic: true}, Options{})
	require.NoError(t, svc.Start(context.Background()))
	svc.SubmitLoop(packet(day1.Add(22*time.Hour), map[string]float64{"outTemp": 1}))

	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
	require.ErrorIs(t, svc.Err(), ErrUnexpected)
	require.ErrorIs(t, svc.Stop(time.Second), ErrUnexpected)
}

func TestServiceStartRejectsBadSummary(t *testing.T) {
	archive := brokenArchive{
		ArchiveStore: store.NewArchiveStore(units.Metric, time.UTC, 0, 0, 0),
		summary:      &weather.DaySummary{UnitSystem: units.System(42)},
	}
	svc := New(Options{Dashboard: dashboard.Options{Units: dashboard.DefaultDisplayUnits()}}, archive, nil, nil, quietLogger())
	require.ErrorIs(t, svc.Start(context.Background()), aggregate.ErrConfiguration)
	require.ErrorIs(t, svc.Stop(time.Second), ErrNotStarted)
}

func TestServiceArchiveRecordRefreshesSummary(t *testing.T) {
	svc, archive, _ := newTestService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	rec := packet(day1.Add(22*time.Hour), map[string]float64{"outTemp": 9})
	require.NoError(t, archive.SaveRecord(ctx, rec))
	svc.SubmitArchive(rec)
	require.NoError(t, svc.Stop(5*time.Second))

	require.NotNil(t, svc.primary)
	assert.Equal(t, 9.0, *svc.primary.Obs["outTemp"].Max)
}

func TestServiceDrainsQueueAfterCancel(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _, _ := newTestService(t, pub, Options{QueueSize: 100, MaxBacklog: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))

	base := day1.Add(22 * time.Hour)
	for i := 0; i < 50; i++ {
		require.True(t, svc.SubmitLoop(packet(base.Add(time.Duration(i)*time.Second), map[string]float64{"outTemp": float64(i)})))
	}
	cancel()

	require.NoError(t, svc.Stop(5*time.Second))
	got := pub.published()
	require.Len(t, got, 50)
	assert.Equal(t, 49.0, *got[49].OutTemp.Now)
}
