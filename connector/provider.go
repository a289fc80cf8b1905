package connector

import (
	"context"
)

type Provider interface {
	Connect(ctx context.Context, config Config, dbName string) (Connection, error)
	HealthCheck(ctx context.Context, conn Connection) error
}
