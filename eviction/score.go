package eviction

import (
	"math"
	"sort"
	"time"
)

// Scoring constants. The never-close sentinel is finite so protected
// connections still order predictably instead of poisoning comparisons.
const (
	idleTimeWeight = 0.001
	priorityBase   = 1000.0
	neverClose     = float64(math.MaxInt64 / 2)
)

// Score maps a connection's state to its eviction score. Lower means more
// evictable. Pure and stateless.
func Score(e Entry, now time.Time) float64 {
	lifetimeMs := float64(now.Sub(e.CreatedAt).Milliseconds())

	avgInterval := lifetimeMs
	if e.UseCount > 0 {
		avgInterval = lifetimeMs / float64(e.UseCount)
	}
	useScore := float64(e.UseCount) / math.Max(avgInterval, 1)

	idlePenalty := float64(now.Sub(e.LastActivity).Milliseconds()) * idleTimeWeight

	var priorityWeight float64
	if e.Priority == -1 {
		priorityWeight = neverClose
	} else {
		priorityWeight = priorityBase / float64(e.Priority+1)
	}

	return useScore - idlePenalty + priorityWeight
}

// selectByScore returns up to n database names in ascending score order.
// Watched connections and never-close connections are excluded first; when
// that yields fewer than n candidates, watched connections are re-admitted
// (still score-ordered, so protected high-score entries stay last). Entries
// with priority -1 are never returned. Ties break lexicographically on name.
func selectByScore(entries []Entry, n int, now time.Time) []string {
	if n <= 0 {
		return nil
	}

	strict := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Priority == -1 || e.Watching {
			continue
		}
		strict = append(strict, e)
	}

	candidates := strict
	if len(candidates) < n {
		relaxed := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.Priority == -1 {
				continue
			}
			relaxed = append(relaxed, e)
		}
		candidates = relaxed
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := Score(candidates[i], now), Score(candidates[j], now)
		if si != sj {
			return si < sj
		}
		return candidates[i].DBName < candidates[j].DBName
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	names := make([]string, len(candidates))
	for i, e := range candidates {
		names[i] = e.DBName
	}
	return names
}
