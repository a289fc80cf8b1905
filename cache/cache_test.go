package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/eviction"
	"github.com/Konsultn-Engineering/polymongo/metadata"
)

// =========================================================================
// Fakes
// =========================================================================

type fakeConnection struct {
	name   string
	closed atomic.Bool
}

func (f *fakeConnection) Client() *mongo.Client { return nil }

func (f *fakeConnection) Database(string, ...*options.DatabaseOptions) *mongo.Database {
	return nil
}

func (f *fakeConnection) Ping(context.Context) error { return nil }

func (f *fakeConnection) Stats() connector.ConnectionStats { return connector.ConnectionStats{} }

func (f *fakeConnection) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu    sync.Mutex
	dials int
	delay time.Duration
	err   error
	conns map[string]*fakeConnection
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{conns: make(map[string]*fakeConnection)}
}

func (f *fakeOpener) Connect(ctx context.Context, dbName string) (connector.Connection, error) {
	f.mu.Lock()
	f.dials++
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", connector.ErrConnectionFailed, dbName, err)
	}

	conn := &fakeConnection{name: dbName}
	f.mu.Lock()
	f.conns[dbName] = conn
	f.mu.Unlock()
	return conn, nil
}

func (f *fakeOpener) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

type fakeMeta struct {
	mu         sync.Mutex
	records    map[string]*metadata.Record
	increments map[string]int
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		records:    make(map[string]*metadata.Record),
		increments: make(map[string]int),
	}
}

func (f *fakeMeta) seed(dbName string, mutate func(*metadata.Record)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.ensureLocked(dbName)
	mutate(rec)
}

func (f *fakeMeta) ensureLocked(dbName string) *metadata.Record {
	rec, ok := f.records[dbName]
	if !ok {
		now := time.Now()
		rec = &metadata.Record{
			DBName:    dbName,
			Priority:  metadata.PriorityMedium,
			LastUsed:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		f.records[dbName] = rec
	}
	return rec
}

func (f *fakeMeta) Get(_ context.Context, dbName string) (*metadata.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := *f.ensureLocked(dbName)
	return &rec, nil
}

func (f *fakeMeta) IncrementUseCount(_ context.Context, dbName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.ensureLocked(dbName)
	rec.UseCount++
	rec.LastUsed = time.Now()
	f.increments[dbName]++
}

func (f *fakeMeta) SetPriority(_ context.Context, dbName string, priority int) error {
	if err := metadata.ValidatePriority(priority); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked(dbName).Priority = priority
	return nil
}

func (f *fakeMeta) SetWatchStatus(_ context.Context, dbName string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked(dbName).HasActiveWatch = active
	return nil
}

func (f *fakeMeta) incrementCount(dbName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.increments[dbName]
}

type fakeStream struct {
	closed atomic.Bool
}

func (f *fakeStream) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

func newTestCache(t *testing.T, opener Opener, meta MetadataStore, opts Options) *Cache {
	t.Helper()
	if opts.EvictionType == "" {
		opts.EvictionType = eviction.TypeLRU
	}
	c, err := New(opener, meta, opts)
	require.NoError(t, err)
	return c
}

// =========================================================================
// Validation
// =========================================================================

func TestValidateDatabaseName(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
	}{
		{name: "Valid", input: "tenant-a"},
		{name: "ValidUnderscore", input: "tenant_a"},
		{name: "Empty", input: "", expectError: true},
		{name: "WhitespaceOnly", input: "   ", expectError: true},
		{name: "Slash", input: "a/b", expectError: true},
		{name: "Backslash", input: `a\b`, expectError: true},
		{name: "Dot", input: "a.b", expectError: true},
		{name: "Space", input: "a b", expectError: true},
		{name: "Quote", input: `a"b`, expectError: true},
		{name: "Dollar", input: "a$b", expectError: true},
		{name: "Star", input: "a*b", expectError: true},
		{name: "Angle", input: "a<b>", expectError: true},
		{name: "Colon", input: "a:b", expectError: true},
		{name: "Pipe", input: "a|b", expectError: true},
		{name: "Question", input: "a?b", expectError: true},
		{name: "TooLong", input: string(make([]byte, 65)), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatabaseName(tt.input)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidDatabaseName)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// =========================================================================
// Get / caching
// =========================================================================

func TestGetMissThenHit(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: true})

	first, err := c.Get(ctx, "a")
	require.NoError(t, err)
	second, err := c.Get(ctx, "a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, opener.dialCount())
	counters := c.Counters()
	assert.Equal(t, uint64(1), counters.Hits)
	assert.Equal(t, uint64(1), counters.Misses)
	assert.Equal(t, 1, c.Len())
}

func TestGetInvalidNameCountsNothing(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeOpener(), newFakeMeta(), Options{CacheConnections: true})

	_, err := c.Get(ctx, "bad.name")
	require.ErrorIs(t, err, ErrInvalidDatabaseName)

	counters := c.Counters()
	assert.Zero(t, counters.Hits)
	assert.Zero(t, counters.Misses)
}

func TestGetConnectFailure(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	opener.err = errors.New("dial refused")
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: true})

	_, err := c.Get(ctx, "a")
	require.ErrorIs(t, err, connector.ErrConnectionFailed)
	assert.Equal(t, 0, c.Len())

	// The failed open leaves no single-flight residue: a later get retries.
	opener.mu.Lock()
	opener.err = nil
	opener.mu.Unlock()
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	opener.delay = 50 * time.Millisecond
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: true})

	const callers = 10
	conns := make([]connector.Connection, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = c.Get(ctx, "a")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, opener.dialCount())
	for _, conn := range conns {
		assert.Same(t, conns[0], conn)
	}
	counters := c.Counters()
	assert.Equal(t, uint64(callers), counters.Hits+counters.Misses)
}

func TestCachingDisabled(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: false})

	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 2, opener.dialCount())
	counters := c.Counters()
	assert.Zero(t, counters.Hits)
	assert.Equal(t, uint64(2), counters.Misses)
	assert.Equal(t, 1, c.Len())
}

// =========================================================================
// enforceMax
// =========================================================================

func TestEnforceMaxEvictsLowestScore(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	meta := newFakeMeta()
	meta.seed("a", func(r *metadata.Record) { r.Priority = metadata.PriorityHigh })
	meta.seed("b", func(r *metadata.Record) {
		r.Priority = metadata.PriorityMedium
		// A long usage history keeps b's use score dominant regardless of
		// how long this test body takes to run.
		r.UseCount = 200
	})
	c := newTestCache(t, opener, meta, Options{
		CacheConnections: true,
		MaxConnections:   2,
		EvictionType:     eviction.TypeLRU,
	})

	require.NoError(t, c.Open(ctx, "a"))
	require.NoError(t, c.Open(ctx, "b"))
	for i := 0; i < 10; i++ {
		_, err := c.Get(ctx, "b")
		require.NoError(t, err)
	}
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	_, err = c.Get(ctx, "c")
	require.NoError(t, err)

	assert.False(t, c.Has("a"), "a has the lower score and must be evicted")
	assert.True(t, c.Has("b"))
	assert.True(t, c.Has("c"))
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestEnforceMaxWatchAllowance(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	c := newTestCache(t, opener, newFakeMeta(), Options{
		CacheConnections: true,
		MaxConnections:   1,
		EvictionType:     eviction.TypeLRU,
	})

	require.NoError(t, c.Open(ctx, "a"))
	stream := &fakeStream{}
	require.NoError(t, c.RegisterWatchStream("a", stream))

	// The watched connection is sticky: b is admitted alongside it even
	// though the total now exceeds the cap.
	_, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.Equal(t, 2, c.Len())

	// Once the watch closes, the cap applies again: admitting c evicts
	// enough non-watched connections to satisfy it.
	c.UnregisterWatchStream("a", stream)
	_, err = c.Get(ctx, "c")
	require.NoError(t, err)
	assert.True(t, c.Has("c"))

	nonWatched := 0
	for _, e := range c.Entries() {
		if !e.Watching {
			nonWatched++
		}
	}
	assert.LessOrEqual(t, nonWatched, 1)
}

func TestEnforceMaxNeverClosePriority(t *testing.T) {
	ctx := context.Background()
	meta := newFakeMeta()
	meta.seed("a", func(r *metadata.Record) { r.Priority = metadata.PriorityNeverClose })
	meta.seed("b", func(r *metadata.Record) { r.Priority = metadata.PriorityHighest })
	meta.seed("c", func(r *metadata.Record) { r.Priority = metadata.PriorityHighest })
	c := newTestCache(t, newFakeOpener(), meta, Options{
		CacheConnections: true,
		MaxConnections:   2,
		EvictionType:     eviction.TypeLRU,
	})

	require.NoError(t, c.Open(ctx, "a"))
	require.NoError(t, c.Open(ctx, "b"))

	_, err := c.Get(ctx, "c")
	require.NoError(t, err)

	assert.True(t, c.Has("a"), "never-close connections are not eviction candidates")
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("c"))
}

func TestEnforceMaxNoCandidates(t *testing.T) {
	ctx := context.Background()
	meta := newFakeMeta()
	meta.seed("a", func(r *metadata.Record) { r.Priority = metadata.PriorityNeverClose })
	c := newTestCache(t, newFakeOpener(), meta, Options{
		CacheConnections: true,
		MaxConnections:   1,
		EvictionType:     eviction.TypeLRU,
	})

	require.NoError(t, c.Open(ctx, "a"))

	_, err := c.Get(ctx, "b")
	require.ErrorIs(t, err, ErrMaxConnectionsExceeded)
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
}

func TestEnforceMaxManualStrategy(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeOpener(), newFakeMeta(), Options{
		CacheConnections: true,
		MaxConnections:   1,
		EvictionType:     eviction.TypeManual,
	})

	require.NoError(t, c.Open(ctx, "a"))
	_, err := c.Get(ctx, "b")
	require.ErrorIs(t, err, ErrMaxConnectionsExceeded)

	// Explicit close still frees the slot.
	require.NoError(t, c.Close(ctx, "a"))
	_, err = c.Get(ctx, "b")
	require.NoError(t, err)
}

// =========================================================================
// Close
// =========================================================================

func TestCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: true})

	require.NoError(t, c.Open(ctx, "a"))
	require.NoError(t, c.Close(ctx, "a"))
	require.NoError(t, c.Close(ctx, "a"))

	assert.Equal(t, uint64(1), c.Counters().Evictions)
	assert.True(t, opener.conns["a"].closed.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCloseClosesStreamsAndConnection(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: true})

	require.NoError(t, c.Open(ctx, "a"))
	s1, s2 := &fakeStream{}, &fakeStream{}
	require.NoError(t, c.RegisterWatchStream("a", s1))
	require.NoError(t, c.RegisterWatchStream("a", s2))

	require.NoError(t, c.Close(ctx, "a"))
	assert.True(t, s1.closed.Load())
	assert.True(t, s2.closed.Load())
	assert.True(t, opener.conns["a"].closed.Load())
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	opener := newFakeOpener()
	c := newTestCache(t, opener, newFakeMeta(), Options{CacheConnections: true})

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, c.Open(ctx, name))
	}
	c.CloseAll(ctx)

	assert.Equal(t, 0, c.Len())
	for _, name := range []string{"a", "b", "c"} {
		assert.True(t, opener.conns[name].closed.Load(), name)
	}
}

// =========================================================================
// Idle timers
// =========================================================================

func TestSlidingIdleTimeout(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeOpener(), newFakeMeta(), Options{
		CacheConnections: true,
		DisconnectOnIdle: true,
		EvictionType:     eviction.TypeTimeout,
		IdleTimeout:      150 * time.Millisecond,
	})

	require.NoError(t, c.Open(ctx, "a"))

	time.Sleep(90 * time.Millisecond)
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)

	// Activity slid the timer: well past the original deadline the
	// connection is still resident.
	time.Sleep(90 * time.Millisecond)
	assert.True(t, c.Has("a"))

	// With no further activity the timer fires.
	require.Eventually(t, func() bool { return !c.Has("a") },
		2*time.Second, 10*time.Millisecond)
}

func TestWatchDisarmsIdleTimer(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeOpener(), newFakeMeta(), Options{
		CacheConnections: true,
		DisconnectOnIdle: true,
		EvictionType:     eviction.TypeTimeout,
		IdleTimeout:      80 * time.Millisecond,
	})

	require.NoError(t, c.Open(ctx, "a"))
	stream := &fakeStream{}
	require.NoError(t, c.RegisterWatchStream("a", stream))

	time.Sleep(200 * time.Millisecond)
	assert.True(t, c.Has("a"), "watched connections never idle out")

	// Dropping the last stream re-arms the timer.
	c.UnregisterWatchStream("a", stream)
	require.Eventually(t, func() bool { return !c.Has("a") },
		2*time.Second, 10*time.Millisecond)
}

func TestNoIdleTimerWhenDisabled(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeOpener(), newFakeMeta(), Options{
		CacheConnections: true,
		DisconnectOnIdle: false,
		EvictionType:     eviction.TypeTimeout,
		IdleTimeout:      50 * time.Millisecond,
	})

	require.NoError(t, c.Open(ctx, "a"))
	time.Sleep(150 * time.Millisecond)
	assert.True(t, c.Has("a"))
}

func TestNeverClosePriorityGetsNoTimer(t *testing.T) {
	ctx := context.Background()
	meta := newFakeMeta()
	meta.seed("a", func(r *metadata.Record) { r.Priority = metadata.PriorityNeverClose })
	c := newTestCache(t, newFakeOpener(), meta, Options{
		CacheConnections: true,
		DisconnectOnIdle: true,
		EvictionType:     eviction.TypeTimeout,
		IdleTimeout:      50 * time.Millisecond,
	})

	require.NoError(t, c.Open(ctx, "a"))
	time.Sleep(150 * time.Millisecond)
	assert.True(t, c.Has("a"))
}

// =========================================================================
// Priority and metadata
// =========================================================================

func TestSetPriority(t *testing.T) {
	ctx := context.Background()
	meta := newFakeMeta()
	c := newTestCache(t, newFakeOpener(), meta, Options{CacheConnections: true})

	require.NoError(t, c.Open(ctx, "a"))
	require.NoError(t, c.SetPriority(ctx, "a", metadata.PriorityNeverClose))

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, metadata.PriorityNeverClose, entries[0].Priority)

	rec, err := meta.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, metadata.PriorityNeverClose, rec.Priority)

	err = c.SetPriority(ctx, "a", -2)
	assert.ErrorIs(t, err, metadata.ErrInvalidPriority)
}

func TestActivityIncrementsPersistedUseCount(t *testing.T) {
	ctx := context.Background()
	meta := newFakeMeta()
	c := newTestCache(t, newFakeOpener(), meta, Options{CacheConnections: true})

	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)

	// Increments are fire-and-forget.
	require.Eventually(t, func() bool { return meta.incrementCount("a") == 2 },
		time.Second, 5*time.Millisecond)
}

func TestWatchStatusPersisted(t *testing.T) {
	ctx := context.Background()
	meta := newFakeMeta()
	c := newTestCache(t, newFakeOpener(), meta, Options{CacheConnections: true})

	require.NoError(t, c.Open(ctx, "a"))
	stream := &fakeStream{}
	require.NoError(t, c.RegisterWatchStream("a", stream))

	require.Eventually(t, func() bool {
		rec, err := meta.Get(ctx, "a")
		return err == nil && rec.HasActiveWatch
	}, time.Second, 5*time.Millisecond)

	c.UnregisterWatchStream("a", stream)
	require.Eventually(t, func() bool {
		rec, err := meta.Get(ctx, "a")
		return err == nil && !rec.HasActiveWatch
	}, time.Second, 5*time.Millisecond)
}
