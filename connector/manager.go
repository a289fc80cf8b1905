package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrConnectionFailed is wrapped into every failed dial, tagged with the
// database name.
var ErrConnectionFailed = errors.New("connection failed")

type standardConnector struct {
	provider Provider
	config   Config
}

var globalManager = &Manager{
	providers: make(map[string]Provider),
}

type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// Register makes a provider available under the given name. Providers
// register themselves from an init function.
func Register(name string, provider Provider) {
	globalManager.mu.Lock()
	defer globalManager.mu.Unlock()
	globalManager.providers[name] = provider
}

// New resolves a registered provider into a Connector for the given config.
func New(name string, config Config) (Connector, error) {
	globalManager.mu.RLock()
	provider, ok := globalManager.providers[name]
	globalManager.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", name)
	}
	return &standardConnector{provider: provider, config: config}, nil
}

func (c *standardConnector) Connect(ctx context.Context, dbName string) (Connection, error) {
	if c.config.Retry != nil {
		conn, err := retryConnect(ctx, c.config.Retry, func(ctx context.Context) (Connection, error) {
			return c.provider.Connect(ctx, c.config, dbName)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, dbName, err)
		}
		return conn, nil
	}
	conn, err := c.provider.Connect(ctx, c.config, dbName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, dbName, err)
	}
	return conn, nil
}

func (c *standardConnector) Close() error {
	return nil
}
