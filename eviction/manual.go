package eviction

import "time"

// Manual never evicts anything on its own; only explicit close operates.
type Manual struct{}

func (Manual) ShouldEvict(Entry, time.Time) bool {
	return false
}

func (Manual) SelectForEviction([]Entry, int) []string {
	return nil
}
