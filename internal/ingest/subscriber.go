// Package ingest feeds station loop packets and archive records received over
// MQTT into the realtime service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

var (
	ErrMalformed        = errors.New("malformed record")
	errSubscribeTimeout = errors.New("subscribe timeout")
)

// Sink accepts decoded records. Both methods must not block.
type Sink interface {
	SubmitLoop(rec weather.Record) bool
	SubmitArchive(rec weather.Record) bool
}

// ArchiveSink is an extra consumer of archive records.
type ArchiveSink interface {
	SubmitArchive(rec weather.Record) bool
}

// ArchiveWriter persists archive records.
type ArchiveWriter interface {
	SaveRecord(ctx context.Context, rec weather.Record) error
}

type Options struct {
	LoopTopic    string
	ArchiveTopic string
	QoS          byte
}

// Subscriber decodes records from the loop and archive topics.
type Subscriber struct {
	opts    Options
	sink    Sink
	archive ArchiveWriter
	extra   []ArchiveSink
	log     *slog.Logger

	received atomic.Int64
	rejected atomic.Int64
}

func NewSubscriber(opts Options, sink Sink, archive ArchiveWriter, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		opts:    opts,
		sink:    sink,
		archive: archive,
		log:     logger.With(slog.String("component", "ingest")),
	}
}

// AddArchiveSink registers another consumer of archive records. Call it
// before Subscribe.
func (s *Subscriber) AddArchiveSink(sink ArchiveSink) {
	s.extra = append(s.extra, sink)
}

// OnConnect subscribes to both topics. It is meant to be installed as the
// client's connect handler so subscriptions survive reconnects.
func (s *Subscriber) OnConnect(client mqtt.Client) {
	if err := s.Subscribe(client); err != nil {
		s.log.Error("subscribe failed", slog.Any("error", err))
	}
}

// Subscribe registers the message handlers with client.
func (s *Subscriber) Subscribe(client mqtt.Client) error {
	topics := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{s.opts.LoopTopic, s.onLoop},
		{s.opts.ArchiveTopic, s.onArchive},
	}
	for _, t := range topics {
		if t.topic == "" {
			continue
		}
		token := client.Subscribe(t.topic, s.opts.QoS, t.handler)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("%w for %s", errSubscribeTimeout, t.topic)
		}
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", t.topic, token.Error())
		}
		s.log.Info("subscribed", slog.String("topic", t.topic))
	}
	return nil
}

func (s *Subscriber) onLoop(_ mqtt.Client, msg mqtt.Message) {
	if err := s.HandleLoop(msg.Payload()); err != nil {
		s.log.Warn("loop packet rejected", slog.String("topic", msg.Topic()), slog.Any("error", err))
	}
}

func (s *Subscriber) onArchive(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.HandleArchive(ctx, msg.Payload()); err != nil {
		s.log.Warn("archive record rejected", slog.String("topic", msg.Topic()), slog.Any("error", err))
	}
}

// HandleLoop decodes a loop packet and queues it.
func (s *Subscriber) HandleLoop(payload []byte) error {
	rec, err := s.decode(payload)
	if err != nil {
		return err
	}
	if !s.sink.SubmitLoop(rec) {
		return errors.New("queue full")
	}
	return nil
}

// HandleArchive decodes an archive record, saves it and then queues it so the
// realtime service sees it after the archive does. Extra archive sinks get the
// record after the main sink.
func (s *Subscriber) HandleArchive(ctx context.Context, payload []byte) error {
	rec, err := s.decode(payload)
	if err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("save archive record: %w", err)
		}
	}
	queued := s.sink.SubmitArchive(rec)
	for _, sink := range s.extra {
		if !sink.SubmitArchive(rec) {
			s.log.Warn("archive sink queue full")
		}
	}
	if !queued {
		return errors.New("queue full")
	}
	return nil
}

func (s *Subscriber) decode(payload []byte) (weather.Record, error) {
	s.received.Add(1)
	var rec weather.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.rejected.Add(1)
		return rec, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if _, ok := rec.TS(); !ok {
		s.rejected.Add(1)
		return rec, fmt.Errorf("%w: %w", ErrMalformed, weather.ErrMissingTimestamp)
	}
	if rec.UnitSystem == units.Unknown {
		s.rejected.Add(1)
		return rec, fmt.Errorf("%w: missing %s", ErrMalformed, weather.KeyUnits)
	}
	return rec, nil
}

// Received counts messages seen on either topic.
func (s *Subscriber) Received() int64 { return s.received.Load() }

// Rejected counts messages that could not be decoded.
func (s *Subscriber) Rejected() int64 { return s.rejected.Load() }
