// Package polymongo is a multi-database connection pool and adaptive
// eviction engine for MongoDB. Applications register a model once and pick,
// per query chain, which physical database on the configured host it runs
// against; the engine caches live connections per database name, persists
// usage statistics in a dedicated metadata database, enforces an optional
// cap on open connections and evicts under a pluggable policy.
//
//	client, err := polymongo.New(polymongo.Config{
//		MongoURI:       "mongodb://localhost:27017",
//		MaxConnections: 10,
//	})
//	users := client.WrapModel(schema.New("User"))
//	_, err = users.Db("tenant-a").InsertOne(ctx, bson.M{"name": "ada"})
//	cur, err := users.Find(ctx, bson.M{})
package polymongo

import (
	"github.com/Konsultn-Engineering/polymongo/cache"
	"github.com/Konsultn-Engineering/polymongo/connector"
	"github.com/Konsultn-Engineering/polymongo/engine"
	"github.com/Konsultn-Engineering/polymongo/eviction"
	"github.com/Konsultn-Engineering/polymongo/metadata"
	"github.com/Konsultn-Engineering/polymongo/schema"
)

// Re-exported types so common use needs only this package and schema.
type (
	Model        = engine.Model
	Session      = engine.Session
	WatchStream  = engine.WatchStream
	Schema       = schema.Schema
	RetryConfig  = connector.RetryConfig
	EvictionType = eviction.Type
)

// NewSchema builds a model schema; see package schema for options.
func NewSchema(name string, opts ...schema.Option) *Schema {
	return schema.New(name, opts...)
}

// Eviction policies.
const (
	EvictionManual  = eviction.TypeManual
	EvictionTimeout = eviction.TypeTimeout
	EvictionLRU     = eviction.TypeLRU
)

// Priority levels.
const (
	PriorityNeverClose = metadata.PriorityNeverClose
	PriorityHighest    = metadata.PriorityHighest
	PriorityHigh       = metadata.PriorityHigh
	PriorityMedium     = metadata.PriorityMedium
	PriorityLow        = metadata.PriorityLow
	PriorityLowest     = metadata.PriorityLowest
)

// Error kinds, re-exported for errors.Is checks at the call site.
var (
	ErrInvalidURI             = connector.ErrInvalidURI
	ErrInvalidDatabaseName    = cache.ErrInvalidDatabaseName
	ErrInvalidPriority        = metadata.ErrInvalidPriority
	ErrConnectionFailed       = connector.ErrConnectionFailed
	ErrMaxConnectionsExceeded = cache.ErrMaxConnectionsExceeded
	ErrMetadataInitFailed     = metadata.ErrInitFailed
)
