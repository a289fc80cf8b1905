package eviction

import "time"

// LRU delegates victim selection to the adaptive scoring engine. Any
// non-watched, non-protected connection is fair game; the score is only
// consulted at selection time.
type LRU struct{}

func (LRU) ShouldEvict(e Entry, _ time.Time) bool {
	return e.Priority != -1 && !e.Watching
}

func (LRU) SelectForEviction(entries []Entry, n int) []string {
	return selectByScore(entries, n, time.Now())
}
