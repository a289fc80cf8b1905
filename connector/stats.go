package connector

import "sync/atomic"

// ConnectionStats is a point-in-time view of the driver pool behind one
// connection.
type ConnectionStats struct {
	InUse int64
	Idle  int64
}

// PoolTracker accumulates checkout/checkin counts from the driver's pool
// monitor. Safe for concurrent use by driver callbacks.
type PoolTracker struct {
	inUse atomic.Int64
	idle  atomic.Int64
}

func (t *PoolTracker) CheckedOut() {
	t.inUse.Add(1)
	t.idle.Add(-1)
}

func (t *PoolTracker) CheckedIn() {
	t.inUse.Add(-1)
	t.idle.Add(1)
}

func (t *PoolTracker) ConnectionReady() {
	t.idle.Add(1)
}

func (t *PoolTracker) ConnectionClosed() {
	t.idle.Add(-1)
}

func (t *PoolTracker) Snapshot() ConnectionStats {
	return ConnectionStats{
		InUse: t.inUse.Load(),
		Idle:  t.idle.Load(),
	}
}
