package connector

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connection is a live driver session bound to one logical database on the
// configured host.
type Connection interface {
	Client() *mongo.Client
	Database(name string, opts ...*options.DatabaseOptions) *mongo.Database
	Ping(ctx context.Context) error
	Stats() ConnectionStats
	Close(ctx context.Context) error
}

// Config carries everything a provider needs to dial one database.
type Config struct {
	// URI is the host-only MongoDB URI; any path or query component has
	// already been stripped by ParseURI. The provider appends the database
	// name per dial.
	URI string

	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	Retry          *RetryConfig
}

// RetryConfig defines connection retry behavior.
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" yaml:"max_delay"`
}

// Connector opens connections to individual databases on the configured host.
type Connector interface {
	Connect(ctx context.Context, dbName string) (Connection, error)
	Close() error
}
