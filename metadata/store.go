package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Konsultn-Engineering/polymongo/connector"
)

// CollectionName is the collection the store persists records into.
const CollectionName = "connection_metadata"

// ErrInitFailed is returned when the store cannot open its dedicated
// connection or ensure its indexes.
var ErrInitFailed = errors.New("metadata store initialization failed")

// Store is the durable, upsert-oriented view of per-database statistics.
// It holds its own dedicated connection so that evicting a tenant database
// never disturbs statistics persistence, and so that increments need no
// application-level locking (the per-document atomic update suffices).
type Store struct {
	connector connector.Connector
	dbName    string
	log       logrus.FieldLogger

	mu   sync.Mutex
	conn connector.Connection
	coll *mongo.Collection
}

// NewStore builds an uninitialized store over the given metadata database.
func NewStore(conn connector.Connector, dbName string, log logrus.FieldLogger) *Store {
	return &Store{
		connector: conn,
		dbName:    dbName,
		log:       log.WithField("component", "metadata"),
	}
}

// Init dials the metadata database and ensures the collection indexes:
// unique on dbName, ascending on priority, descending on lastUsed.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	conn, err := s.connector.Connect(ctx, s.dbName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	coll := conn.Database(s.dbName).Collection(CollectionName)

	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dbName", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "priority", Value: 1}}},
		{Keys: bson.D{{Key: "lastUsed", Value: -1}}},
	})
	if err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("%w: ensure indexes: %v", ErrInitFailed, err)
	}

	s.conn = conn
	s.coll = coll
	return nil
}

func (s *Store) collection() (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll == nil {
		return nil, fmt.Errorf("%w: store not initialized", ErrInitFailed)
	}
	return s.coll, nil
}

// Get returns the record for dbName, creating it with defaults when absent.
func (s *Store) Get(ctx context.Context, dbName string) (*Record, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res := coll.FindOneAndUpdate(ctx,
		bson.M{"dbName": dbName},
		bson.M{
			"$setOnInsert": bson.M{
				"dbName":         dbName,
				"useCount":       int64(0),
				"priority":       PriorityMedium,
				"hasActiveWatch": false,
				"idleTime":       int64(0),
				"lastUsed":       now,
				"createdAt":      now,
				"updatedAt":      now,
			},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	)

	var rec Record
	if err := res.Decode(&rec); err != nil {
		return nil, fmt.Errorf("get metadata for %s: %w", dbName, err)
	}
	return &rec, nil
}

// Update applies a partial upsert; it never read-modifies-writes.
func (s *Store) Update(ctx context.Context, dbName string, patch bson.M) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}

	set := bson.M{"updatedAt": time.Now()}
	for k, v := range patch {
		set[k] = v
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"dbName": dbName},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"dbName": dbName, "createdAt": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("update metadata for %s: %w", dbName, err)
	}
	return nil
}

// IncrementUseCount atomically bumps useCount and touches lastUsed. Failures
// are logged, never propagated: activity tracking must not break a query.
func (s *Store) IncrementUseCount(ctx context.Context, dbName string) {
	coll, err := s.collection()
	if err != nil {
		s.log.WithField("db", dbName).WithError(err).Warn("use count increment skipped")
		return
	}

	now := time.Now()
	_, err = coll.UpdateOne(ctx,
		bson.M{"dbName": dbName},
		bson.M{
			"$inc": bson.M{"useCount": int64(1)},
			"$set": bson.M{"lastUsed": now, "idleTime": int64(0), "updatedAt": now},
			"$setOnInsert": bson.M{
				"dbName":    dbName,
				"priority":  PriorityMedium,
				"createdAt": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.log.WithField("db", dbName).WithError(err).Warn("use count increment failed")
	}
}

// SetPriority persists a new eviction priority for dbName.
func (s *Store) SetPriority(ctx context.Context, dbName string, priority int) error {
	if err := ValidatePriority(priority); err != nil {
		return err
	}
	return s.Update(ctx, dbName, bson.M{"priority": priority})
}

// SetWatchStatus persists whether dbName currently has live change streams.
func (s *Store) SetWatchStatus(ctx context.Context, dbName string, active bool) error {
	return s.Update(ctx, dbName, bson.M{"hasActiveWatch": active})
}

// GetAll returns every persisted record. Used only by stats assembly.
func (s *Store) GetAll(ctx context.Context) ([]Record, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	cur, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer cur.Close(ctx)

	var records []Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return records, nil
}

// Delete removes the record for dbName. This is an admin operation: it does
// not close any live connection.
func (s *Store) Delete(ctx context.Context, dbName string) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, bson.M{"dbName": dbName}); err != nil {
		return fmt.Errorf("delete metadata for %s: %w", dbName, err)
	}
	return nil
}

// Close tears down the dedicated metadata connection.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ctx)
	s.conn = nil
	s.coll = nil
	return err
}
