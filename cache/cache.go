package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/eviction"
	"github.com/Konsultn-Engineering/polymongo/metadata"
)

// ErrMaxConnectionsExceeded is returned when the cache is at capacity and
// the eviction strategy yields no victim.
var ErrMaxConnectionsExceeded = errors.New("max connections exceeded")

const backgroundOpTimeout = 10 * time.Second

// Opener dials a connection to one database. Satisfied by
// connector.Connector.
type Opener interface {
	Connect(ctx context.Context, dbName string) (connector.Connection, error)
}

// MetadataStore is the slice of the metadata store the cache depends on.
type MetadataStore interface {
	Get(ctx context.Context, dbName string) (*metadata.Record, error)
	IncrementUseCount(ctx context.Context, dbName string)
	SetPriority(ctx context.Context, dbName string, priority int) error
	SetWatchStatus(ctx context.Context, dbName string, active bool) error
}

// Options configures a connection cache.
type Options struct {
	// MaxConnections caps concurrently open connections; zero means
	// unlimited.
	MaxConnections   int
	IdleTimeout      time.Duration
	CacheConnections bool
	DisconnectOnIdle bool
	EvictionType     eviction.Type
	ModelCacheSize   int
	Logger           logrus.FieldLogger
}

// Cache owns the live map of open connections. It opens and closes physical
// connections, tracks activity and watch streams, schedules idle timers and
// enforces the admission cap through the eviction strategy.
type Cache struct {
	opener   Opener
	meta     MetadataStore
	strategy eviction.Strategy
	opts     Options
	log      logrus.FieldLogger

	mu       sync.RWMutex
	conns    map[string]*conn
	inflight map[string]*inflightOpen

	// enforceMu serializes cap enforcement so two concurrent misses cannot
	// double-evict.
	enforceMu sync.Mutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	models *ModelCache
}

// inflightOpen is the single-flight slot for one in-progress dial. Waiters
// block on done and read conn/err afterwards.
type inflightOpen struct {
	done chan struct{}
	conn connector.Connection
	err  error
}

// Counters is a snapshot of the cache's monotonic counters.
type Counters struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// EntryInfo combines an eviction snapshot with driver pool statistics, for
// stats assembly.
type EntryInfo struct {
	eviction.Entry
	PoolStats connector.ConnectionStats
}

// New builds a cache with the given opener and metadata store.
func New(opener Opener, meta MetadataStore, opts Options) (*Cache, error) {
	strategy, err := eviction.New(opts.EvictionType, opts.IdleTimeout)
	if err != nil {
		return nil, err
	}
	if opts.ModelCacheSize <= 0 {
		opts.ModelCacheSize = 256
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	models, err := NewModelCache(opts.ModelCacheSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		opener:   opener,
		meta:     meta,
		strategy: strategy,
		opts:     opts,
		log:      log.WithField("component", "cache"),
		conns:    make(map[string]*conn),
		inflight: make(map[string]*inflightOpen),
		models:   models,
	}, nil
}

// Get returns a live connection for dbName, opening one on a miss. The miss
// path is single-flight per name: concurrent misses for the same database
// share one dial.
func (c *Cache) Get(ctx context.Context, dbName string) (connector.Connection, error) {
	if err := ValidateDatabaseName(dbName); err != nil {
		return nil, err
	}

	if c.opts.CacheConnections {
		c.mu.RLock()
		ci, ok := c.conns[dbName]
		connected := ok && ci.state == connStateConnected
		var cn connector.Connection
		if connected {
			cn = ci.conn
		}
		c.mu.RUnlock()
		if connected {
			c.hits.Add(1)
			c.recordActivity(dbName)
			return cn, nil
		}
	}

	c.misses.Add(1)

	c.mu.Lock()
	if c.opts.CacheConnections {
		// Someone may have finished opening while we queued.
		if ci, ok := c.conns[dbName]; ok && ci.state == connStateConnected {
			cn := ci.conn
			c.mu.Unlock()
			c.recordActivity(dbName)
			return cn, nil
		}
	}
	if fl, ok := c.inflight[dbName]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-fl.done:
		}
		if fl.err != nil {
			return nil, fl.err
		}
		return fl.conn, nil
	}
	fl := &inflightOpen{done: make(chan struct{})}
	c.inflight[dbName] = fl
	c.mu.Unlock()

	cn, err := c.open(ctx, dbName)
	fl.conn, fl.err = cn, err

	c.mu.Lock()
	delete(c.inflight, dbName)
	c.mu.Unlock()
	close(fl.done)

	return cn, err
}

// Open prewarms the connection for dbName.
func (c *Cache) Open(ctx context.Context, dbName string) error {
	_, err := c.Get(ctx, dbName)
	return err
}

func (c *Cache) open(ctx context.Context, dbName string) (connector.Connection, error) {
	if err := c.enforceMax(ctx); err != nil {
		return nil, err
	}
	return c.createConnection(ctx, dbName)
}

// createConnection dials dbName, hydrates (or creates) its metadata record
// and inserts it into the live map.
func (c *Cache) createConnection(ctx context.Context, dbName string) (connector.Connection, error) {
	cn, err := c.opener.Connect(ctx, dbName)
	if err != nil {
		return nil, err
	}

	rec, err := c.meta.Get(ctx, dbName)
	if err != nil {
		_ = cn.Close(ctx)
		return nil, err
	}

	now := time.Now()
	rec.UseCount++
	rec.LastUsed = now

	ci := &conn{
		name:         dbName,
		conn:         cn,
		meta:         rec,
		lastActivity: now,
		streams:      make(map[Stream]struct{}),
		state:        connStateConnected,
	}

	c.mu.Lock()
	if old, ok := c.conns[dbName]; ok && old.state == connStateConnected {
		// Stale entry (caching disabled, or a replaced connection): close it
		// out of band. Its timer must not fire against the new entry.
		if old.idleTimer != nil {
			old.idleTimer.Stop()
			old.idleTimer = nil
		}
		c.models.PurgeDB(dbName)
		stale := old
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
			defer cancel()
			if err := stale.conn.Close(cctx); err != nil {
				c.log.WithField("db", stale.name).WithError(err).Warn("stale connection close failed")
			}
		}()
	}
	c.conns[dbName] = ci
	c.armIdleTimerLocked(ci)
	c.mu.Unlock()

	go func() {
		ictx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
		defer cancel()
		c.meta.IncrementUseCount(ictx, dbName)
	}()

	c.log.WithField("db", dbName).Debug("connection opened")
	return cn, nil
}

// enforceMax upholds the admission invariant before a miss-path create:
// counting the incoming connection, the number of open non-watched
// connections must not exceed MaxConnections. Watched connections are
// sticky and may push the total above the cap temporarily.
func (c *Cache) enforceMax(ctx context.Context) error {
	if c.opts.MaxConnections <= 0 {
		return nil
	}

	c.enforceMu.Lock()
	defer c.enforceMu.Unlock()

	entries, watching := c.snapshot()
	nonWatched := len(entries) - watching
	needed := nonWatched + 1 - c.opts.MaxConnections
	if needed <= 0 {
		return nil
	}

	victims := c.strategy.SelectForEviction(entries, needed)
	if len(victims) == 0 {
		return fmt.Errorf("%w: %d connections open, no eviction candidate",
			ErrMaxConnectionsExceeded, len(entries))
	}
	for _, name := range victims {
		if err := c.Close(ctx, name); err != nil {
			c.log.WithField("db", name).WithError(err).Warn("eviction close failed")
		}
	}
	return nil
}

// snapshot copies the connected entries and counts the watched ones.
func (c *Cache) snapshot() ([]eviction.Entry, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]eviction.Entry, 0, len(c.conns))
	watching := 0
	for _, ci := range c.conns {
		if ci.state != connStateConnected {
			continue
		}
		e := ci.entry()
		if e.Watching {
			watching++
		}
		entries = append(entries, e)
	}
	return entries, watching
}

// recordActivity marks dbName used now, slides its idle timer and bumps the
// persisted use count in the background.
func (c *Cache) recordActivity(dbName string) {
	c.mu.Lock()
	ci, ok := c.conns[dbName]
	if ok {
		ci.lastActivity = time.Now()
		ci.meta.UseCount++
		ci.meta.LastUsed = ci.lastActivity
		if ci.idleTimer != nil {
			ci.idleTimer.Reset(c.opts.IdleTimeout)
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		ictx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
		defer cancel()
		c.meta.IncrementUseCount(ictx, dbName)
	}()
}

// armIdleTimerLocked schedules the idle timer for ci when the configuration
// and connection state call for one. Caller holds c.mu.
func (c *Cache) armIdleTimerLocked(ci *conn) {
	if !c.opts.DisconnectOnIdle || c.opts.EvictionType != eviction.TypeTimeout {
		return
	}
	if ci.meta.Priority == metadata.PriorityNeverClose || len(ci.streams) > 0 {
		return
	}
	if ci.idleTimer != nil {
		ci.idleTimer.Stop()
	}
	name := ci.name
	ci.idleTimer = time.AfterFunc(c.opts.IdleTimeout, func() {
		c.onIdleTimeout(name)
	})
}

// onIdleTimeout re-checks evictability at fire time: a watch may have been
// registered or activity recorded between schedule and fire.
func (c *Cache) onIdleTimeout(dbName string) {
	c.mu.RLock()
	ci, ok := c.conns[dbName]
	evict := ok && ci.state == connStateConnected &&
		c.strategy.ShouldEvict(ci.entry(), time.Now())
	c.mu.RUnlock()
	if !evict {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()
	if err := c.Close(ctx, dbName); err != nil {
		c.log.WithField("db", dbName).WithError(err).Warn("idle close failed")
	}
}

// Close tears down the connection for dbName: streams first, then the
// driver session. Teardown errors are logged; the map entry is removed
// regardless. Closing an absent name is a logged no-op.
func (c *Cache) Close(ctx context.Context, dbName string) error {
	c.mu.Lock()
	ci, ok := c.conns[dbName]
	if !ok || ci.state != connStateConnected {
		c.mu.Unlock()
		c.log.WithField("db", dbName).Debug("close: connection not resident")
		return nil
	}
	ci.state = connStateClosing
	if ci.idleTimer != nil {
		ci.idleTimer.Stop()
		ci.idleTimer = nil
	}
	streams := make([]Stream, 0, len(ci.streams))
	for s := range ci.streams {
		streams = append(streams, s)
	}
	ci.streams = make(map[Stream]struct{})
	delete(c.conns, dbName)
	c.mu.Unlock()

	for _, s := range streams {
		if err := s.Close(ctx); err != nil {
			c.log.WithField("db", dbName).WithError(err).Warn("watch stream close failed")
		}
	}
	if err := ci.conn.Close(ctx); err != nil {
		c.log.WithField("db", dbName).WithError(err).Warn("connection close failed")
	}
	c.models.PurgeDB(dbName)
	c.evictions.Add(1)
	c.log.WithField("db", dbName).Debug("connection closed")
	return nil
}

// CloseAll closes every cached connection concurrently and waits for all of
// them. Per-entry failures are logged, never aggregated.
func (c *Cache) CloseAll(ctx context.Context) {
	c.mu.RLock()
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := c.Close(ctx, name); err != nil {
				c.log.WithField("db", name).WithError(err).Warn("close failed")
			}
		}(name)
	}
	wg.Wait()
	c.models.Purge()
}

// SetPriority persists a new priority and patches the live record when the
// connection is resident. It does not trigger eviction re-evaluation; the
// next acquisition does.
func (c *Cache) SetPriority(ctx context.Context, dbName string, priority int) error {
	if err := metadata.ValidatePriority(priority); err != nil {
		return err
	}
	if err := c.meta.SetPriority(ctx, dbName, priority); err != nil {
		return err
	}
	c.mu.Lock()
	if ci, ok := c.conns[dbName]; ok {
		ci.meta.Priority = priority
	}
	c.mu.Unlock()
	return nil
}

// RegisterWatchStream starts tracking a change stream on dbName's
// connection. The idle timer is disarmed while any stream is live; the
// persisted watch flag is updated in the background.
func (c *Cache) RegisterWatchStream(dbName string, s Stream) error {
	c.mu.Lock()
	ci, ok := c.conns[dbName]
	if !ok || ci.state != connStateConnected {
		c.mu.Unlock()
		return fmt.Errorf("register watch: no open connection for %s", dbName)
	}
	ci.streams[s] = struct{}{}
	ci.meta.HasActiveWatch = true
	if ci.idleTimer != nil {
		ci.idleTimer.Stop()
		ci.idleTimer = nil
	}
	c.mu.Unlock()

	go c.persistWatchStatus(dbName, true)
	return nil
}

// UnregisterWatchStream drops a tracked stream. When the last stream goes,
// the persisted flag clears and, under the timeout policy, the idle timer
// re-arms.
func (c *Cache) UnregisterWatchStream(dbName string, s Stream) {
	c.mu.Lock()
	ci, ok := c.conns[dbName]
	var lastGone bool
	if ok {
		delete(ci.streams, s)
		if len(ci.streams) == 0 {
			ci.meta.HasActiveWatch = false
			lastGone = true
			c.armIdleTimerLocked(ci)
		}
	}
	c.mu.Unlock()

	if lastGone {
		go c.persistWatchStatus(dbName, false)
	}
}

func (c *Cache) persistWatchStatus(dbName string, active bool) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()
	if err := c.meta.SetWatchStatus(ctx, dbName, active); err != nil {
		c.log.WithField("db", dbName).WithError(err).Warn("watch status persist failed")
	}
}

// Has reports whether dbName is resident and connected.
func (c *Cache) Has(dbName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ci, ok := c.conns[dbName]
	return ok && ci.state == connStateConnected
}

// Len returns the number of resident connections.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// Counters snapshots the hit/miss/eviction counters.
func (c *Cache) Counters() Counters {
	return Counters{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Entries snapshots every resident connection with its pool statistics.
func (c *Cache) Entries() []EntryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(c.conns))
	for _, ci := range c.conns {
		if ci.state != connStateConnected {
			continue
		}
		infos = append(infos, EntryInfo{
			Entry:     ci.entry(),
			PoolStats: ci.conn.Stats(),
		})
	}
	return infos
}

// Strategy exposes the active eviction strategy (stats scoring consults it).
func (c *Cache) Strategy() eviction.Strategy {
	return c.strategy
}
