package metadata

import (
	"errors"
	"fmt"
	"time"
)

// Priority levels for eviction ordering. Zero is the most important; larger
// values are evicted sooner. PriorityNeverClose exempts a database from
// automatic eviction entirely.
const (
	PriorityNeverClose = -1
	PriorityHighest    = 0
	PriorityHigh       = 100
	PriorityMedium     = 500
	PriorityLow        = 1000
	PriorityLowest     = 10000
)

// ErrInvalidPriority is returned for priorities below PriorityNeverClose.
var ErrInvalidPriority = errors.New("invalid priority")

// ValidatePriority checks that p is a legal priority value.
func ValidatePriority(p int) error {
	if p < PriorityNeverClose {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}
	return nil
}

// Record is the persisted per-database statistics document. It outlives any
// individual connection; deleting one is an explicit admin operation.
type Record struct {
	DBName         string    `bson:"dbName"`
	LastUsed       time.Time `bson:"lastUsed"`
	UseCount       int64     `bson:"useCount"`
	Priority       int       `bson:"priority"`
	HasActiveWatch bool      `bson:"hasActiveWatch"`
	IdleTime       int64     `bson:"idleTime"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}
