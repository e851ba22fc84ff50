// Package cache keeps the most recent value of each tracked observation so a
// complete record can be assembled even when the station omits fields from
// some packets.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// Tracked lists the observations the cache retains.
var Tracked = []string{
	"cloudbase", "windDir", "windrun", "inHumidity", "outHumidity",
	"barometer", "radiation", "rain", "rainRate", "windSpeed",
	"windGust", "windGustDir", "appTemp", "dewpoint", "heatindex",
	"humidex", "inTemp", "outTemp", "windchill", "UV",
}

type entry struct {
	value *float64
	ts    int64
}

// Cache is a freshness cache. It is safe for concurrent use, although the
// realtime service only mutates it from its consumer loop.
type Cache struct {
	mu         sync.RWMutex
	unitSystem units.System
	ts         int64
	entries    map[string]entry
}

// New returns a cache primed from latest, normally the most recent archive
// record. Tracked fields missing from latest are cached as null at the
// record's timestamp. A record with an unknown unit system primes every field
// as null and lets the first Update pick the unit system.
func New(latest weather.Record) *Cache {
	c := &Cache{entries: make(map[string]entry, len(Tracked))}
	ts, _ := latest.TS()
	c.ts = ts
	valid := latest.UnitSystem.Valid()
	if valid {
		c.unitSystem = latest.UnitSystem
	}
	for _, obs := range Tracked {
		e := entry{ts: ts}
		if valid {
			if v, ok := latest.Get(obs); ok && v != nil {
				e.value = weather.Float(*v)
			}
		}
		c.entries[obs] = e
	}
	return c
}

// Update folds a sample into the cache. Null values never evict a cached
// value and untracked fields are ignored.
func (c *Cache) Update(sample weather.Record) error {
	ts, ok := sample.TS()
	if !ok {
		return weather.ErrMissingTimestamp
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !sample.UnitSystem.Valid() {
		return fmt.Errorf("cache update: %w: %d", units.ErrUnknownUnitSystem, int(sample.UnitSystem))
	}
	if !c.unitSystem.Valid() {
		c.unitSystem = sample.UnitSystem
	}
	updates := make(map[string]float64)
	for obs, v := range sample.Values {
		if _, tracked := c.entries[obs]; !tracked || v == nil {
			continue
		}
		conv, err := units.ConvertStd(v, obs, sample.UnitSystem, c.unitSystem)
		if err != nil {
			return fmt.Errorf("cache update %s: %w", obs, err)
		}
		updates[obs] = *conv
	}
	for obs, v := range updates {
		c.entries[obs] = entry{value: weather.Float(v), ts: ts}
	}
	if ts > c.ts {
		c.ts = ts
	}
	return nil
}

// Value returns the cached value of name if it is no more than maxAge
// seconds older than now.
func (c *Cache) Value(name string, now, maxAge int64) *float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value(name, now, maxAge)
}

func (c *Cache) value(name string, now, maxAge int64) *float64 {
	e, ok := c.entries[name]
	if !ok || e.value == nil || now-e.ts > maxAge {
		return nil
	}
	return weather.Float(*e.value)
}

// Snapshot returns a record holding every tracked field as of now, with
// stale fields set to null. The record is stamped with now and the cache's
// unit system.
func (c *Cache) Snapshot(now, maxAge int64) weather.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec := weather.NewRecord(now, c.unitSystem)
	for obs := range c.entries {
		rec.Set(obs, c.value(obs, now, maxAge))
	}
	return rec
}

// UnitSystem returns the unit system cached values are held in.
func (c *Cache) UnitSystem() units.System {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unitSystem
}

// LastUpdate is the newest timestamp seen by the cache.
func (c *Cache) LastUpdate() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ts
}

// Fields returns the tracked observation names, sorted.
func Fields() []string {
	out := append([]string(nil), Tracked...)
	sort.Strings(out)
	return out
}
