package store

import (
	"errors"
	"sync"
	"time"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
)

var (
	// ErrNotFound is returned when the store holds nothing matching a query.
	ErrNotFound = errors.New("no data found")
)

// SnapshotHistory holds a time-ordered list of published snapshots for a station.
type SnapshotHistory struct {
	Snapshots []dashboard.Snapshot
}

// MemoryStore is a concurrency-safe in-memory history of dashboard snapshots.
type MemoryStore struct {
	mu sync.RWMutex

	// key: station name, value: history
	data map[string]*SnapshotHistory

	// retention configuration
	maxHistory int           // max number of snapshots per station
	maxAge     time.Duration // optional max age for snapshots

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*SnapshotHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func snapshotTime(s dashboard.Snapshot) time.Time {
	return time.Unix(s.DateTime.Now, 0)
}

// SaveSnapshot appends a snapshot for a station and enforces retention.
func (s *MemoryStore) SaveSnapshot(station string, snapshot dashboard.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[station]
	if !ok {
		history = &SnapshotHistory{}
		s.data[station] = history
	}

	history.Snapshots = append(history.Snapshots, snapshot)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Snapshots) > s.maxHistory {
		over := len(history.Snapshots) - s.maxHistory
		history.Snapshots = history.Snapshots[over:]
	}

	s.trim(history)
}

// trim enforces retention by age. The newest snapshot is always kept.
func (s *MemoryStore) trim(history *SnapshotHistory) {
	if s.maxAge <= 0 {
		return
	}
	cutoff := s.now().Add(-s.maxAge)
	i := 0
	for ; i < len(history.Snapshots)-1; i++ {
		if !snapshotTime(history.Snapshots[i]).Before(cutoff) {
			break
		}
	}
	if i > 0 {
		history.Snapshots = history.Snapshots[i:]
	}
}

// Prune applies age retention to every station.
func (s *MemoryStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.data {
		s.trim(h)
	}
}

// GetLatest returns the most recent snapshot for a station.
func (s *MemoryStore) GetLatest(station string) (dashboard.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[station]
	if !ok || len(history.Snapshots) == 0 {
		return dashboard.Snapshot{}, ErrNotFound
	}
	return history.Snapshots[len(history.Snapshots)-1], nil
}

// GetRange returns all snapshots for a station between from and to (inclusive).
func (s *MemoryStore) GetRange(station string, from, to time.Time) ([]dashboard.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[station]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []dashboard.Snapshot
	for _, snap := range history.Snapshots {
		ts := snapshotTime(snap)
		if !ts.Before(from) && !ts.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
