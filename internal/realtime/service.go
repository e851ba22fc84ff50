// Package realtime runs the single consumer loop that owns the aggregate
// buffer and the freshness cache.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gjr80/weewx-utilities/internal/aggregate"
	"github.com/gjr80/weewx-utilities/internal/cache"
	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

var (
	ErrNotStarted      = errors.New("realtime service not started")
	ErrShutdownTimeout = errors.New("realtime service did not stop in time")
	// ErrUnexpected wraps a panic raised while processing a package.
	ErrUnexpected = errors.New("unexpected fault in realtime loop")
)

// Kind tells the loop what a queued package carries.
type Kind int

const (
	KindLoop Kind = iota
	KindArchive
	KindEndOfInterval
	kindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindLoop:
		return "loop"
	case KindArchive:
		return "archive"
	case KindEndOfInterval:
		return "end_of_interval"
	default:
		return "shutdown"
	}
}

// Package is one unit of work for the consumer loop.
type Package struct {
	Kind   Kind
	Record weather.Record
}

// DaySummaryProvider returns the archive day summary of the local day
// containing ts.
type DaySummaryProvider interface {
	DaySummary(ctx context.Context, ts int64) (*weather.DaySummary, error)
}

// Archive is the historical data the service reads.
type Archive interface {
	DaySummaryProvider
	dashboard.RecordLookup
	Latest(ctx context.Context) (*weather.Record, error)
}

// Publisher delivers a snapshot downstream.
type Publisher interface {
	Publish(ctx context.Context, s dashboard.Snapshot) error
}

// SnapshotSink keeps generated snapshots for the HTTP API.
type SnapshotSink interface {
	SaveSnapshot(station string, s dashboard.Snapshot)
}

// Options configure the Service.
type Options struct {
	Station string
	// QueueSize bounds the package queue; producers never block on it.
	QueueSize int
	// MaxBacklog is the queue length above which loop packets are skipped.
	MaxBacklog int
	// MaxCacheAge is how long, in seconds, a cached value stays usable.
	MaxCacheAge int64
	Location    *time.Location
	Aggregate   aggregate.Config
	Dashboard   dashboard.Options
	// Secondary optionally supplies observations the archive does not keep.
	Secondary DaySummaryProvider
}

const (
	DefaultQueueSize   = 100
	DefaultMaxBacklog  = 5
	DefaultMaxCacheAge = 600
)

// Service is the realtime dashboard engine.
type Service struct {
	opts      Options
	log       *slog.Logger
	archive   Archive
	publisher Publisher
	snapshots SnapshotSink

	queue   chan Package
	done    chan struct{}
	started atomic.Bool
	dropped atomic.Int64
	skipped atomic.Int64

	mu  sync.Mutex
	err error

	now func() time.Time

	// owned by the consumer loop once started
	buffer    *aggregate.Buffer
	cache     *cache.Cache
	builder   *dashboard.Builder
	day       string
	newDay    bool
	primary   *weather.DaySummary
	secondary *weather.DaySummary
}

// New returns an idle service. Packages may be submitted before Start; they
// are processed once the loop runs.
func New(opts Options, archive Archive, publisher Publisher, snapshots SnapshotSink, logger *slog.Logger) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxBacklog <= 0 {
		opts.MaxBacklog = DefaultMaxBacklog
	}
	if opts.MaxCacheAge <= 0 {
		opts.MaxCacheAge = DefaultMaxCacheAge
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Aggregate.Observations == nil {
		opts.Aggregate = aggregate.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		opts:      opts,
		log:       logger.With(slog.String("component", "realtime")),
		archive:   archive,
		publisher: publisher,
		snapshots: snapshots,
		queue:     make(chan Package, opts.QueueSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start seeds the buffer and cache from the archive and launches the
// consumer loop. Configuration problems are returned and nothing is started.
// Cancelling ctx after Start does not stop the loop; only Stop does, once the
// queue is drained.
func (s *Service) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	s.started.Store(true)
	go s.run(context.WithoutCancel(ctx))
	return nil
}

func (s *Service) init(ctx context.Context) error {
	now := s.now().Unix()

	primary, err := s.archive.DaySummary(ctx, now)
	if err != nil {
		return fmt.Errorf("%w: day summary: %w", aggregate.ErrConfiguration, err)
	}
	s.primary = primary
	if s.opts.Secondary != nil {
		if s.secondary, err = s.opts.Secondary.DaySummary(ctx, now); err != nil {
			s.log.Warn("secondary day summary unavailable", slog.Any("error", err))
		}
	}
	if s.buffer, err = aggregate.New(s.opts.Aggregate, s.primary, s.secondary); err != nil {
		return err
	}

	latest, err := s.archive.Latest(ctx)
	if err != nil || latest == nil {
		s.log.Info("no archive record to prime the cache", slog.Any("error", err))
		s.cache = cache.New(weather.NewRecord(now, s.buffer.PrimaryUnitSystem()))
	} else {
		s.cache = cache.New(*latest)
	}

	if s.builder, err = dashboard.NewBuilder(s.opts.Dashboard, s.archive); err != nil {
		return err
	}
	s.log.Info("realtime service initialised",
		slog.String("unit_system", s.buffer.PrimaryUnitSystem().String()),
		slog.Int("observations", len(s.buffer.Observations())))
	return nil
}

// Submit queues pkg without blocking and reports whether it was accepted.
func (s *Service) Submit(pkg Package) bool {
	select {
	case s.queue <- pkg:
		return true
	default:
		s.dropped.Add(1)
		s.log.Warn("queue full, package dropped", slog.String("kind", pkg.Kind.String()))
		return false
	}
}

// SubmitLoop queues a loop packet.
func (s *Service) SubmitLoop(rec weather.Record) bool {
	return s.Submit(Package{Kind: KindLoop, Record: rec})
}

// SubmitArchive queues an archive record.
func (s *Service) SubmitArchive(rec weather.Record) bool {
	return s.Submit(Package{Kind: KindArchive, Record: rec})
}

// EndOfInterval queues an end of archive period event.
func (s *Service) EndOfInterval() bool {
	return s.Submit(Package{Kind: KindEndOfInterval})
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
	case s.queue <- Package{Kind: kindShutdown}:
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

// Done is closed when the consumer loop exits.
func (s *Service) Done() <-chan struct{} { return s.done }

// Err returns the fault that stopped the loop, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped counts packages rejected because the queue was full.
func (s *Service) Dropped() int64 { return s.dropped.Load() }

// Skipped counts loop packets skipped to clear a backlog.
func (s *Service) Skipped() int64 { return s.skipped.Load() }

func (s *Service) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.log.Error("realtime loop exiting", slog.Any("error", err))
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("%w: %v", ErrUnexpected, r))
		}
	}()

	for {
		pkg := <-s.queue
		switch pkg.Kind {
		case kindShutdown:
			s.log.Info("shutdown received, realtime loop exiting")
			return
		case KindArchive:
			s.newArchiveRecord(ctx, pkg.Record)
		case KindEndOfInterval:
			s.buffer.EndOfIntervalReset()
			s.log.Debug("end of archive period, interval sums reset")
		case KindLoop:
			if len(s.queue) > s.opts.MaxBacklog {
				s.skipped.Add(1)
				continue
			}
			if err := s.processPacket(ctx, pkg.Record); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// newArchiveRecord refreshes the cached day summaries so a rollover reseeds
// from current data.
func (s *Service) newArchiveRecord(ctx context.Context, rec weather.Record) {
	ts, ok := rec.TS()
	if !ok {
		s.log.Warn("archive record without timestamp ignored")
		return
	}
	if sum, err := s.archive.DaySummary(ctx, ts); err != nil {
		s.log.Warn("day summary refresh failed", slog.Any("error", err))
	} else {
		s.primary = sum
	}
	if s.opts.Secondary != nil {
		if sum, err := s.opts.Secondary.DaySummary(ctx, ts); err == nil {
			s.secondary = sum
		}
	}
	s.log.Debug("archive record processed", slog.Int64("ts", ts))
}

func (s *Service) dayKey(ts int64) string {
	return time.Unix(ts, 0).In(s.opts.Location).Format(time.DateOnly)
}

func (s *Service) processPacket(ctx context.Context, rec weather.Record) error {
	ts, ok := rec.TS()
	if !ok {
		s.log.Warn("loop packet without timestamp ignored")
		return nil
	}
	if err := s.cache.Update(rec); err != nil {
		return fmt.Errorf("%w: %w", aggregate.ErrConfiguration, err)
	}

	day := s.dayKey(ts)
	if s.day != "" && day != s.day {
		s.startOfDay(ctx, ts)
	}
	s.day = day

	if s.newDay && time.Unix(ts, 0).In(s.opts.Location).Hour() >= 9 {
		s.newDay = false
		s.buffer.NineAMReset()
		s.log.Debug("buffer 9am reset")
	}

	if err := s.buffer.Add(rec); err != nil {
		return err
	}

	if !s.builder.Due(ts) {
		s.log.Debug("packet skipped", slog.Int64("ts", ts))
		return nil
	}
	snap, err := s.builder.Build(ctx, s.cache.Snapshot(ts, s.opts.MaxCacheAge), s.buffer)
	if err != nil {
		return err
	}
	if s.snapshots != nil {
		s.snapshots.SaveSnapshot(s.opts.Station, snap)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, snap); err != nil {
			s.log.Error("data was not published", slog.Int64("ts", ts), slog.Any("error", err))
			return nil
		}
	}
	s.log.Debug("packet processed", slog.Int64("ts", ts))
	return nil
}

// startOfDay resets the day statistics and reseeds them from the summary of
// the new day when one is available.
func (s *Service) startOfDay(ctx context.Context, ts int64) {
	s.newDay = true
	s.buffer.StartOfDayReset()
	s.log.Debug("buffer day max/min reset")

	primary := s.primary
	if primary == nil || s.dayKey(primary.Start) != s.dayKey(ts) {
		sum, err := s.archive.DaySummary(ctx, ts)
		if err != nil {
			s.log.Warn("day summary unavailable at rollover", slog.Any("error", err))
			return
		}
		primary = sum
	}
	if s.dayKey(primary.Start) != s.dayKey(ts) {
		return
	}
	s.primary = primary

	secondary := s.secondary
	if secondary != nil && s.dayKey(secondary.Start) != s.dayKey(ts) {
		secondary = nil
	}
	if err := s.buffer.Seed(primary, secondary); err != nil {
		s.log.Warn("reseed at rollover failed", slog.Any("error", err))
	}
}
