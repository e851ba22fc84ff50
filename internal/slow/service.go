// Package slow publishes the slowly changing dashboard document, the
// statistics of the previous day, once per archive record.
package slow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

var (
	ErrNotStarted      = errors.New("slow service not started")
	ErrShutdownTimeout = errors.New("slow service did not stop in time")
	// ErrUnexpected wraps a panic raised while processing a record.
	ErrUnexpected = errors.New("unexpected fault in slow loop")
)

// Archive supplies day summaries and local day boundaries.
type Archive interface {
	DayStart(ts int64) int64
	DaySummary(ctx context.Context, ts int64) (*weather.DaySummary, error)
}

// Publisher sends an encoded document to a topic.
type Publisher interface {
	PublishPayload(ctx context.Context, topic string, payload []byte) error
}

type Options struct {
	Topic      string
	QueueSize  int
	MaxBacklog int
	Dashboard  dashboard.Options
}

type item struct {
	rec  weather.Record
	stop bool
}

// Service queues archive records and publishes one slow document for each
// record it gets to.
type Service struct {
	opts    Options
	archive Archive
	pub     Publisher
	builder *dashboard.Builder
	log     *slog.Logger

	queue   chan item
	done    chan struct{}
	started atomic.Bool
	skipped atomic.Int64

	mu     sync.RWMutex
	err    error
	latest *dashboard.Slow
}

// New returns an idle service. pub may be nil, in which case documents are
// only kept for the HTTP API.
func New(opts Options, archive Archive, pub Publisher, logger *slog.Logger) *Service {
	if opts.Topic == "" {
		opts.Topic = "weather/slow"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 20
	}
	if opts.MaxBacklog <= 0 {
		opts.MaxBacklog = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		opts:    opts,
		archive: archive,
		pub:     pub,
		log:     logger.With(slog.String("component", "slow")),
		queue:   make(chan item, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start validates the display options and launches the loop. Like the
// realtime loop it only exits through Stop.
func (s *Service) Start(ctx context.Context) error {
	b, err := dashboard.NewBuilder(s.opts.Dashboard, nil)
	if err != nil {
		return err
	}
	s.builder = b
	s.started.Store(true)
	go s.run(context.WithoutCancel(ctx))
	s.log.Info("slow data will be published", slog.String("topic", s.opts.Topic))
	return nil
}

// SubmitArchive queues an archive record without blocking.
func (s *Service) SubmitArchive(rec weather.Record) bool {
	select {
	case s.queue <- item{rec: rec}:
		return true
	default:
		s.log.Warn("queue full, archive record dropped")
		return false
	}
}

// Stop queues the shutdown sentinel and waits up to timeout for the loop to
// drain and exit.
func (s *Service) Stop(timeout time.Duration) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.queue <- item{stop: true}:
	case <-s.done:
		return s.Err()
	case <-timer.C:
		return ErrShutdownTimeout
	}
	select {
	case <-s.done:
		return s.Err()
	case <-timer.C:
		return ErrShutdownTimeout
	}
}

// Done is closed when the loop exits.
func (s *Service) Done() <-chan struct{} { return s.done }

// Err returns the fault that stopped the loop, if any.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Skipped counts archive records skipped to clear a backlog.
func (s *Service) Skipped() int64 { return s.skipped.Load() }

// Slow returns the last generated document.
func (s *Service) Slow() (dashboard.Slow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return dashboard.Slow{}, false
	}
	return *s.latest, true
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.log.Error("slow loop exiting", slog.Any("error", err))
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("%w: %v", ErrUnexpected, r))
		}
	}()

	for {
		it := <-s.queue
		if it.stop {
			s.log.Info("shutdown received, slow loop exiting")
			return
		}
		if len(s.queue) > s.opts.MaxBacklog {
			s.skipped.Add(1)
			continue
		}
		if err := s.process(ctx, it.rec); err != nil {
			s.fail(err)
			return
		}
	}
}

// process builds and publishes the document for rec. Publish failures are
// logged; a document that cannot be built stops the loop.
func (s *Service) process(ctx context.Context, rec weather.Record) error {
	ts, ok := rec.TS()
	if !ok {
		s.log.Warn("archive record without timestamp ignored")
		return nil
	}

	// a record stamped at midnight closes the previous day
	today := s.archive.DayStart(ts - 1)
	yesterday, err := s.archive.DaySummary(ctx, today)
	if err != nil {
		s.log.Warn("yesterday summary unavailable", slog.Any("error", err))
		yesterday = nil
	}

	doc, err := s.builder.BuildSlow(ts, yesterday)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.latest = &doc
	s.mu.Unlock()

	if s.pub == nil {
		return nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode slow document: %w", err)
	}
	if err := s.pub.PublishPayload(ctx, s.opts.Topic, payload); err != nil {
		s.log.Error("data was not published", slog.Int64("ts", ts), slog.Any("error", err))
		return nil
	}
	s.log.Debug("archive record processed", slog.Int64("ts", ts))
	return nil
}
