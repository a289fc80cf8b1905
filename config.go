package polymongo

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/eviction"
)

// Configuration defaults.
const (
	DefaultMetadataDB  = "polymongo-metadata"
	DefaultDatabase    = "Default-DB"
	DefaultIdleTimeout = 60 * time.Second
)

// Config configures a Client. MongoURI is the only required field; any
// database or query component in it is ignored.
type Config struct {
	MongoURI string

	// MetadataDB names the database holding the connection_metadata
	// collection.
	MetadataDB string

	// DefaultDB is used when a chain does not select a database.
	DefaultDB string

	// MaxConnections caps concurrently open connections. Zero means
	// unlimited.
	MaxConnections int

	// IdleTimeout drives the timeout eviction strategy and the sliding
	// idle timers.
	IdleTimeout time.Duration

	// CacheConnections reuses open connections across gets. Defaults to
	// true; nil means default.
	CacheConnections *bool

	// DisconnectOnIdle arms idle timers under the timeout strategy.
	// Defaults to true; nil means default.
	DisconnectOnIdle *bool

	// EvictionType is one of manual, timeout, LRU. Defaults to LRU.
	EvictionType eviction.Type

	// ConnectTimeout bounds each dial, including the readiness ping.
	ConnectTimeout time.Duration

	// MaxPoolSize caps the driver pool per connection. Zero leaves the
	// driver default.
	MaxPoolSize uint64

	// Retry enables backoff retries on dials.
	Retry *connector.RetryConfig

	// ModelCacheSize bounds the materialized collection-handle cache.
	ModelCacheSize int

	// Logger receives engine logs. Defaults to a Warn-level logger.
	Logger *logrus.Logger
}

// normalized returns a copy with defaults applied and the URI stripped to
// its host form.
func (c Config) normalized() (Config, error) {
	base, err := connector.ParseURI(c.MongoURI)
	if err != nil {
		return Config{}, err
	}
	c.MongoURI = base

	if c.MetadataDB == "" {
		c.MetadataDB = DefaultMetadataDB
	}
	if c.DefaultDB == "" {
		c.DefaultDB = DefaultDatabase
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.EvictionType == "" {
		c.EvictionType = eviction.TypeLRU
	}
	if _, err := eviction.New(c.EvictionType, c.IdleTimeout); err != nil {
		return Config{}, err
	}
	if c.MaxConnections < 0 {
		return Config{}, fmt.Errorf("maxConnections must not be negative, got %d", c.MaxConnections)
	}
	if c.Logger == nil {
		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		c.Logger = log
	}
	return c, nil
}

func (c Config) cacheConnections() bool {
	if c.CacheConnections == nil {
		return true
	}
	return *c.CacheConnections
}

func (c Config) disconnectOnIdle() bool {
	if c.DisconnectOnIdle == nil {
		return true
	}
	return *c.DisconnectOnIdle
}

// Bool is a helper for the optional boolean config fields.
func Bool(v bool) *bool {
	return &v
}
