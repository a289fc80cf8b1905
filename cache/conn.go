package cache

import (
	"context"
	"time"

	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/eviction"
	"github.com/Konsultn-Engineering/polymongo/metadata"
)

// Stream is a change-stream handle tracked by the cache. Streams pin their
// connection against automatic eviction until closed.
type Stream interface {
	Close(ctx context.Context) error
}

type connState int

const (
	connStateConnected connState = iota
	connStateClosing
)

// conn is the live in-memory record for one open connection. All fields are
// guarded by the owning cache's mutex.
type conn struct {
	name         string
	conn         connector.Connection
	meta         *metadata.Record
	lastActivity time.Time
	idleTimer    *time.Timer
	streams      map[Stream]struct{}
	state        connState
}

// entry snapshots the conn for the eviction policies.
func (c *conn) entry() eviction.Entry {
	return eviction.Entry{
		DBName:       c.name,
		CreatedAt:    c.meta.CreatedAt,
		LastActivity: c.lastActivity,
		UseCount:     c.meta.UseCount,
		Priority:     c.meta.Priority,
		Watching:     len(c.streams) > 0,
	}
}
