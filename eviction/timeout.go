package eviction

import (
	"sort"
	"time"
)

// Timeout evicts connections whose inactivity reaches IdleTimeout. Watched
// and never-close connections are exempt.
type Timeout struct {
	IdleTimeout time.Duration
}

func (t Timeout) ShouldEvict(e Entry, now time.Time) bool {
	if e.Priority == -1 || e.Watching {
		return false
	}
	return now.Sub(e.LastActivity) >= t.IdleTimeout
}

// SelectForEviction returns the currently idle-expired connections, most
// idle first, truncated to n.
func (t Timeout) SelectForEviction(entries []Entry, n int) []string {
	now := time.Now()

	eligible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if t.ShouldEvict(e, now) {
			eligible = append(eligible, e)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		ii, jj := eligible[i].LastActivity, eligible[j].LastActivity
		if !ii.Equal(jj) {
			return ii.Before(jj)
		}
		return eligible[i].DBName < eligible[j].DBName
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}
	names := make([]string, len(eligible))
	for i, e := range eligible {
		names[i] = e.DBName
	}
	return names
}
