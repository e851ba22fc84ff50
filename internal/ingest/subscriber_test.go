package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjr80/weewx-utilities/internal/mqttclient"
	"github.com/gjr80/weewx-utilities/internal/mqtttest"
	"github.com/gjr80/weewx-utilities/internal/store"
	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

type recordingSink struct {
	mu      sync.Mutex
	loop    []weather.Record
	archive []weather.Record
	full    bool
	got     chan struct{}
}

func newSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) SubmitLoop(rec weather.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.loop = append(s.loop, rec)
	s.got <- struct{}{}
	return true
}

func (s *recordingSink) SubmitArchive(rec weather.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = append(s.archive, rec)
	s.got <- struct{}{}
	return true
}

func TestHandleLoop(t *testing.T) {
	sink := newSink()
	sub := NewSubscriber(Options{}, sink, nil, nil)

	require.NoError(t, sub.HandleLoop([]byte(`{"dateTime": 1700000000, "usUnits": 16, "outTemp": 21.5, "rain": null, "station": "home"}`)))
	require.Len(t, sink.loop, 1)
	rec := sink.loop[0]
	assert.Equal(t, units.Metric, rec.UnitSystem)
	v, ok := rec.Get("outTemp")
	require.True(t, ok)
	assert.Equal(t, 21.5, *v)
	v, ok = rec.Get("rain")
	assert.True(t, ok)
	assert.Nil(t, v)
	_, ok = rec.Get("station")
	assert.False(t, ok)
}

func TestHandleLoopRejects(t *testing.T) {
	sink := newSink()
	sub := NewSubscriber(Options{}, sink, nil, nil)

	for _, payload := range []string{
		`not json`,
		`{"usUnits": 1, "outTemp": 70}`,
		`{"dateTime": 1700000000, "outTemp": 70}`,
	} {
		assert.ErrorIs(t, sub.HandleLoop([]byte(payload)), ErrMalformed, payload)
	}
	assert.Empty(t, sink.loop)
	assert.Equal(t, int64(3), sub.Received())
	assert.Equal(t, int64(3), sub.Rejected())

	sink.full = true
	assert.Error(t, sub.HandleLoop([]byte(`{"dateTime": 1, "usUnits": 1}`)))
}

func TestHandleArchiveSavesFirst(t *testing.T) {
	sink := newSink()
	archive := store.NewArchiveStore(units.Metric, time.UTC, 5*time.Minute, 0, 0)
	sub := NewSubscriber(Options{}, sink, archive, nil)

	ctx := context.Background()
	require.NoError(t, sub.HandleArchive(ctx, []byte(`{"dateTime": 1700000100, "usUnits": 16, "outTemp": 12}`)))
	require.Len(t, sink.archive, 1)

	rec, err := archive.GetRecord(ctx, 1700000100, 0)
	require.NoError(t, err)
	v, _ := rec.Get("outTemp")
	assert.Equal(t, 12.0, *v)
}

func TestHandleArchiveFansOut(t *testing.T) {
	sink := newSink()
	extra := newSink()
	sub := NewSubscriber(Options{}, sink, nil, nil)
	sub.AddArchiveSink(extra)

	require.NoError(t, sub.HandleArchive(context.Background(), []byte(`{"dateTime": 1700000100, "usUnits": 16, "outTemp": 12}`)))
	require.Len(t, sink.archive, 1)
	require.Len(t, extra.archive, 1)
	ts, _ := extra.archive[0].TS()
	assert.Equal(t, int64(1700000100), ts)

	require.NoError(t, sub.HandleLoop([]byte(`{"dateTime": 1700000110, "usUnits": 16, "outTemp": 12}`)))
	assert.Empty(t, extra.loop)
}

func TestSubscriberOverBroker(t *testing.T) {
	broker := mqtttest.Start(t)
	sink := newSink()
	archive := store.NewArchiveStore(units.Metric, time.UTC, 5*time.Minute, 0, 0)
	sub := NewSubscriber(Options{LoopTopic: "weather/loop", ArchiveTopic: "weather/archive", QoS: 1}, sink, archive, nil)

	subscribed := make(chan struct{}, 1)
	client, err := mqttclient.Connect(mqttclient.Options{
		ServerURL: broker.URL("", ""),
		OnConnect: func(c mqtt.Client) {
			sub.OnConnect(c)
			subscribed <- struct{}{}
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(250) })

	select {
	case <-subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriptions not made")
	}

	pub, err := mqttclient.Connect(mqttclient.Options{ServerURL: broker.URL("", "")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pub.Disconnect(250) })

	publish := func(topic, payload string) {
		token := pub.Publish(topic, 1, false, payload)
		require.True(t, token.WaitTimeout(5*time.Second))
		require.NoError(t, token.Error())
	}
	publish("weather/loop", `{"dateTime": 1700000000, "usUnits": 1, "outTemp": 70}`)
	publish("weather/archive", `{"dateTime": 1700000300, "usUnits": 1, "outTemp": 71}`)

	for i := 0; i < 2; i++ {
		select {
		case <-sink.got:
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.loop, 1)
	assert.Len(t, sink.archive, 1)
	assert.Equal(t, 1, archive.Len())
}
