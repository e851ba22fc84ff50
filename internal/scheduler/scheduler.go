package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	tagEndOfInterval = "end-of-interval"
	tagPrune         = "prune"
)

// IntervalSink receives end of archive period events.
type IntervalSink interface {
	EndOfInterval() bool
}

// Scheduler fires the end of archive period event on interval boundaries and
// periodically prunes the in-memory stores.
type Scheduler struct {
	scheduler     *gocron.Scheduler
	sink          IntervalSink
	prune         func(now time.Time)
	interval      time.Duration
	pruneInterval time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// New creates a new Scheduler. prune may be nil.
func New(interval, pruneInterval time.Duration, sink IntervalSink, prune func(now time.Time), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler:     gocron.NewScheduler(time.UTC),
		sink:          sink,
		prune:         prune,
		interval:      interval,
		pruneInterval: pruneInterval,
		log:           logger.With(slog.String("component", "scheduler")),
		now:           time.Now,
	}
}

// Start schedules the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.sink == nil {
		return errors.New("scheduler: no interval sink configured")
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 5
	}
	next := NextBoundary(s.now(), time.Duration(minutes)*time.Minute)
	if _, err := s.scheduler.Every(minutes).Minutes().StartAt(next).Tag(tagEndOfInterval).Do(s.endOfInterval); err != nil {
		return err
	}

	if s.prune != nil {
		pruneMinutes := int(s.pruneInterval.Minutes())
		if pruneMinutes <= 0 {
			pruneMinutes = 15
		}
		if _, err := s.scheduler.Every(pruneMinutes).Minutes().Tag(tagPrune).Do(s.runPrune); err != nil {
			return err
		}
	}

	s.log.Info("scheduler started", slog.Int("interval_minutes", minutes), slog.Time("first_boundary", next))
	s.scheduler.StartAsync()
	return nil
}

// Every registers fn to run every interval under tag. The first run happens
// as soon as the scheduler is started.
func (s *Scheduler) Every(tag string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: invalid interval %s for %q", interval, tag)
	}
	_, err := s.scheduler.Every(interval).Tag(tag).Do(func() {
		s.log.Debug("running task", slog.String("task", tag))
		fn()
	})
	return err
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) endOfInterval() {
	if !s.sink.EndOfInterval() {
		s.log.Warn("end of archive period event dropped")
		return
	}
	s.log.Debug("end of archive period")
}

func (s *Scheduler) runPrune() {
	s.prune(s.now())
	s.log.Debug("stores pruned")
}

// NextBoundary returns the first multiple of interval, counted from the Unix
// epoch, strictly after now.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	sec := int64(interval / time.Second)
	if sec <= 0 {
		return now
	}
	next := (now.Unix()/sec + 1) * sec
	return time.Unix(next, 0).In(now.Location())
}
