package engine

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
)

// WatchStream wraps a driver change stream so its lifetime is visible to
// the connection cache: while open it pins the underlying connection
// against automatic eviction. It holds only the database name, never the
// cache's internal connection record.
type WatchStream struct {
	cs     *mongo.ChangeStream
	dbName string
	source ConnectionSource
	once   sync.Once
}

// Watch opens a change stream on this chain's collection and registers it
// with the cache.
func (s *Session) Watch(ctx context.Context, pipeline any, opts ...WatchOption) (*WatchStream, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := coll.Watch(ctx, pipeline, opts...)
	if err != nil {
		return nil, err
	}

	ws := &WatchStream{cs: cs, dbName: s.database(), source: s.model.source}
	if err := s.model.source.RegisterWatchStream(ws.dbName, ws); err != nil {
		_ = cs.Close(ctx)
		return nil, err
	}
	return ws, nil
}

// Next delegates to the underlying change stream.
func (w *WatchStream) Next(ctx context.Context) bool {
	return w.cs.Next(ctx)
}

// TryNext delegates to the underlying change stream.
func (w *WatchStream) TryNext(ctx context.Context) bool {
	return w.cs.TryNext(ctx)
}

// Decode decodes the current event into val.
func (w *WatchStream) Decode(val any) error {
	return w.cs.Decode(val)
}

// Err returns the stream's deferred error.
func (w *WatchStream) Err() error {
	return w.cs.Err()
}

// Raw exposes the driver change stream.
func (w *WatchStream) Raw() *mongo.ChangeStream {
	return w.cs
}

// Close unregisters the stream from the cache and closes the underlying
// cursor. Safe to call more than once; later calls are no-ops. The cache
// also calls this when it tears the enclosing connection down.
func (w *WatchStream) Close(ctx context.Context) error {
	var err error
	w.once.Do(func() {
		w.source.UnregisterWatchStream(w.dbName, w)
		err = w.cs.Close(ctx)
	})
	return err
}
