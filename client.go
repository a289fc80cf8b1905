package polymongo

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Konsultn-Engineering/polymongo/cache"
	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/engine"
	"github.com/Konsultn-Engineering/polymongo/metadata"
	"github.com/Konsultn-Engineering/polymongo/schema"

	_ "github.com/Konsultn-Engineering/polymongo/providers/mongo"
)

// ErrNotInitialized is returned for operations after Close.
var ErrNotInitialized = errors.New("client not initialized")

// providerName selects the registered connector provider.
const providerName = "mongo"

// Client is the orchestrator: one connection cache, one metadata store and
// the resolved configuration. Construction is cheap; the first operation
// that needs I/O runs the real initialization, which is idempotent,
// concurrency-safe and retryable after failure.
type Client struct {
	cfg Config
	log logrus.FieldLogger

	initMu      sync.Mutex
	initAttempt *initAttempt
	initialized bool
	closed      bool

	conn  connector.Connector
	meta  *metadata.Store
	cache *cache.Cache
}

// initAttempt is the shared in-flight initialization slot. Concurrent
// callers wait on done and read err afterwards.
type initAttempt struct {
	done chan struct{}
	err  error
}

// New validates the configuration and returns an uninitialized client.
func New(cfg Config) (*Client, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		log: cfg.Logger.WithField("client", uuid.NewString()[:8]),
	}, nil
}

// ensureInitialized runs (or joins) the lazy initialization. On failure the
// in-flight slot clears so the next caller may retry.
func (c *Client) ensureInitialized(ctx context.Context) error {
	c.initMu.Lock()
	if c.closed {
		c.initMu.Unlock()
		return ErrNotInitialized
	}
	if c.initialized {
		c.initMu.Unlock()
		return nil
	}
	if att := c.initAttempt; att != nil {
		c.initMu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-att.done:
		}
		return att.err
	}

	att := &initAttempt{done: make(chan struct{})}
	c.initAttempt = att
	c.initMu.Unlock()

	att.err = c.initialize(ctx)

	c.initMu.Lock()
	if att.err == nil {
		c.initialized = true
	}
	c.initAttempt = nil
	c.initMu.Unlock()
	close(att.done)

	return att.err
}

func (c *Client) initialize(ctx context.Context) error {
	conn, err := connector.New(providerName, connector.Config{
		URI:            c.cfg.MongoURI,
		ConnectTimeout: c.cfg.ConnectTimeout,
		MaxPoolSize:    c.cfg.MaxPoolSize,
		Retry:          c.cfg.Retry,
	})
	if err != nil {
		return err
	}

	meta := metadata.NewStore(conn, c.cfg.MetadataDB, c.log)
	if err := meta.Init(ctx); err != nil {
		return err
	}

	cc, err := cache.New(conn, meta, cache.Options{
		MaxConnections:   c.cfg.MaxConnections,
		IdleTimeout:      c.cfg.IdleTimeout,
		CacheConnections: c.cfg.cacheConnections(),
		DisconnectOnIdle: c.cfg.disconnectOnIdle(),
		EvictionType:     c.cfg.EvictionType,
		ModelCacheSize:   c.cfg.ModelCacheSize,
		Logger:           c.log,
	})
	if err != nil {
		_ = meta.Close(ctx)
		return err
	}

	c.conn = conn
	c.meta = meta
	c.cache = cc
	c.log.WithField("metadataDB", c.cfg.MetadataDB).Info("client initialized")
	return nil
}

// WrapModel binds a schema to this client. The returned model runs every
// terminal operation against the chain's selected database, defaulting to
// DefaultDB; the client dials lazily on first use.
func (c *Client) WrapModel(s *schema.Schema) *engine.Model {
	return engine.NewModel(c, s, c.cfg.DefaultDB, c.log)
}

// Collection implements engine.ConnectionSource.
func (c *Client) Collection(ctx context.Context, dbName, collection string) (*mongo.Collection, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return c.cache.Collection(ctx, dbName, collection)
}

// RegisterWatchStream implements engine.ConnectionSource.
func (c *Client) RegisterWatchStream(dbName string, s cache.Stream) error {
	cc := c.cacheOrNil()
	if cc == nil {
		return ErrNotInitialized
	}
	return cc.RegisterWatchStream(dbName, s)
}

// UnregisterWatchStream implements engine.ConnectionSource.
func (c *Client) UnregisterWatchStream(dbName string, s cache.Stream) {
	if cc := c.cacheOrNil(); cc != nil {
		cc.UnregisterWatchStream(dbName, s)
	}
}

func (c *Client) cacheOrNil() *cache.Cache {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if !c.initialized || c.closed {
		return nil
	}
	return c.cache
}

// Open prewarms the connection for dbName.
func (c *Client) Open(ctx context.Context, dbName string) error {
	if err := c.ensureInitialized(ctx); err != nil {
		return err
	}
	return c.cache.Open(ctx, dbName)
}

// Connection returns the live connection for dbName, dialing on a miss.
func (c *Client) Connection(ctx context.Context, dbName string) (connector.Connection, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return c.cache.Get(ctx, dbName)
}

// CloseDatabase explicitly closes the cached connection for dbName. A name
// that is not resident is a no-op.
func (c *Client) CloseDatabase(ctx context.Context, dbName string) error {
	cc := c.cacheOrNil()
	if cc == nil {
		return nil
	}
	return cc.Close(ctx, dbName)
}

// SetPriority persists the eviction priority for dbName and patches the
// live connection when resident.
func (c *Client) SetPriority(ctx context.Context, dbName string, priority int) error {
	if err := cache.ValidateDatabaseName(dbName); err != nil {
		return err
	}
	if err := c.ensureInitialized(ctx); err != nil {
		return err
	}
	return c.cache.SetPriority(ctx, dbName, priority)
}

// DeleteMetadata removes the persisted record for dbName. Admin operation;
// never closes a live connection.
func (c *Client) DeleteMetadata(ctx context.Context, dbName string) error {
	if err := c.ensureInitialized(ctx); err != nil {
		return err
	}
	return c.meta.Delete(ctx, dbName)
}

// Close tears down every cached connection, then the metadata store.
// Subsequent operations fail with ErrNotInitialized, except CloseDatabase,
// which has nothing to close and returns nil.
func (c *Client) Close(ctx context.Context) error {
	c.initMu.Lock()
	if c.closed {
		c.initMu.Unlock()
		return nil
	}
	c.closed = true
	initialized := c.initialized
	cc, meta := c.cache, c.meta
	c.initMu.Unlock()

	if !initialized {
		return nil
	}
	cc.CloseAll(ctx)
	return meta.Close(ctx)
}
