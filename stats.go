package polymongo

import (
	"context"
	"sort"
	"time"

	"github.com/Konsultn-Engineering/polymongo/cache"
	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/eviction"
)

// Stats is an aggregate snapshot of the engine: cache counters plus one
// entry per known database, resident or not.
type Stats struct {
	Cache     cache.Counters
	Databases []DatabaseStats
}

// DatabaseStats merges a database's persisted record with its live state.
// Score is set only for resident connections under the LRU strategy.
type DatabaseStats struct {
	DBName         string
	Connected      bool
	UseCount       int64
	LastUsed       time.Time
	Priority       int
	HasActiveWatch bool
	IdleMs         int64
	Score          *float64
	Pool           *connector.ConnectionStats
}

// Stats assembles the snapshot: persisted metadata overlaid with the live
// map, sorted ascending by priority, then by descending score (least
// evictable first; scored entries before unscored ones), then by descending
// idle time.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	records, err := c.meta.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	byName := make(map[string]*DatabaseStats, len(records))
	for _, rec := range records {
		byName[rec.DBName] = &DatabaseStats{
			DBName:         rec.DBName,
			UseCount:       rec.UseCount,
			LastUsed:       rec.LastUsed,
			Priority:       rec.Priority,
			HasActiveWatch: rec.HasActiveWatch,
			IdleMs:         now.Sub(rec.LastUsed).Milliseconds(),
		}
	}

	scored := c.cfg.EvictionType == eviction.TypeLRU
	for _, info := range c.cache.Entries() {
		ds, ok := byName[info.DBName]
		if !ok {
			ds = &DatabaseStats{DBName: info.DBName}
			byName[info.DBName] = ds
		}
		ds.Connected = true
		ds.UseCount = info.UseCount
		ds.LastUsed = info.LastActivity
		ds.Priority = info.Priority
		ds.HasActiveWatch = info.Watching
		ds.IdleMs = now.Sub(info.LastActivity).Milliseconds()
		pool := info.PoolStats
		ds.Pool = &pool
		if scored {
			score := eviction.Score(info.Entry, now)
			ds.Score = &score
		}
	}

	databases := make([]DatabaseStats, 0, len(byName))
	for _, ds := range byName {
		databases = append(databases, *ds)
	}
	sort.Slice(databases, func(i, j int) bool {
		a, b := databases[i], databases[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Score != nil && b.Score != nil && *a.Score != *b.Score {
			return *a.Score > *b.Score
		}
		if (a.Score != nil) != (b.Score != nil) {
			return a.Score != nil
		}
		if a.IdleMs != b.IdleMs {
			return a.IdleMs > b.IdleMs
		}
		return a.DBName < b.DBName
	})

	return &Stats{
		Cache:     c.cache.Counters(),
		Databases: databases,
	}, nil
}
