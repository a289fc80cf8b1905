package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Konsultn-Engineering/polymongo/connector"
)

type Provider struct{}

func init() {
	connector.Register("mongo", &Provider{})
}

// Connect dials one database on the configured host and waits for the
// deployment to answer a primary ping before handing the connection out.
func (p *Provider) Connect(ctx context.Context, cfg connector.Config, dbName string) (connector.Connection, error) {
	// apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	tracker := &connector.PoolTracker{}
	monitor := &event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionReady:
				tracker.ConnectionReady()
			case event.ConnectionClosed:
				tracker.ConnectionClosed()
			case event.GetSucceeded:
				tracker.CheckedOut()
			case event.ConnectionReturned:
				tracker.CheckedIn()
			}
		},
	}

	clientOpts := options.Client().
		ApplyURI(connector.WithDatabase(cfg.URI, dbName)).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetPoolMonitor(monitor)
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(dialCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &connection{client: client, tracker: tracker}, nil
}

func (p *Provider) HealthCheck(ctx context.Context, conn connector.Connection) error {
	return conn.Ping(ctx)
}

type connection struct {
	client  *mongo.Client
	tracker *connector.PoolTracker
}

func (c *connection) Client() *mongo.Client {
	return c.client
}

func (c *connection) Database(name string, opts ...*options.DatabaseOptions) *mongo.Database {
	return c.client.Database(name, opts...)
}

func (c *connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *connection) Stats() connector.ConnectionStats {
	return c.tracker.Snapshot()
}

func (c *connection) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
