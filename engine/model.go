package engine

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Konsultn-Engineering/polymongo/cache"
	"github.com/Konsultn-Engineering/polymongo/schema"
)

// ConnectionSource is the slice of the connection cache the engine needs.
type ConnectionSource interface {
	Collection(ctx context.Context, dbName, collection string) (*mongo.Collection, error)
	RegisterWatchStream(dbName string, s cache.Stream) error
	UnregisterWatchStream(dbName string, s cache.Stream)
}

// Model is the database-selecting handle for one schema. Every terminal
// operation runs against the chain's selected database, falling back to the
// configured default. Db returns a fresh session, so selection never leaks
// between chains.
type Model struct {
	source    ConnectionSource
	schema    *schema.Schema
	defaultDB string
	log       logrus.FieldLogger
}

// NewModel binds a schema to a connection source.
func NewModel(source ConnectionSource, s *schema.Schema, defaultDB string, log logrus.FieldLogger) *Model {
	return &Model{
		source:    source,
		schema:    s,
		defaultDB: defaultDB,
		log:       log.WithField("model", s.Name),
	}
}

// Schema returns the bound schema.
func (m *Model) Schema() *schema.Schema {
	return m.schema
}

// Db selects the database the returned session operates on. An empty name
// selects the default database.
func (m *Model) Db(name string) *Session {
	return &Session{model: m, db: name}
}

func (m *Model) session() *Session {
	return &Session{model: m}
}

// Terminal operations on the model itself run against the default database.

func (m *Model) Find(ctx context.Context, filter any, opts ...FindOption) (*mongo.Cursor, error) {
	return m.session().Find(ctx, filter, opts...)
}

func (m *Model) FindOne(ctx context.Context, filter any, opts ...FindOneOption) (*mongo.SingleResult, error) {
	return m.session().FindOne(ctx, filter, opts...)
}

func (m *Model) InsertOne(ctx context.Context, document any, opts ...InsertOneOption) (*mongo.InsertOneResult, error) {
	return m.session().InsertOne(ctx, document, opts...)
}

func (m *Model) InsertMany(ctx context.Context, documents []any, opts ...InsertManyOption) (*mongo.InsertManyResult, error) {
	return m.session().InsertMany(ctx, documents, opts...)
}

func (m *Model) UpdateOne(ctx context.Context, filter, update any, opts ...UpdateOption) (*mongo.UpdateResult, error) {
	return m.session().UpdateOne(ctx, filter, update, opts...)
}

func (m *Model) UpdateMany(ctx context.Context, filter, update any, opts ...UpdateOption) (*mongo.UpdateResult, error) {
	return m.session().UpdateMany(ctx, filter, update, opts...)
}

func (m *Model) ReplaceOne(ctx context.Context, filter, replacement any, opts ...ReplaceOption) (*mongo.UpdateResult, error) {
	return m.session().ReplaceOne(ctx, filter, replacement, opts...)
}

func (m *Model) DeleteOne(ctx context.Context, filter any, opts ...DeleteOption) (*mongo.DeleteResult, error) {
	return m.session().DeleteOne(ctx, filter, opts...)
}

func (m *Model) DeleteMany(ctx context.Context, filter any, opts ...DeleteOption) (*mongo.DeleteResult, error) {
	return m.session().DeleteMany(ctx, filter, opts...)
}

func (m *Model) CountDocuments(ctx context.Context, filter any, opts ...CountOption) (int64, error) {
	return m.session().CountDocuments(ctx, filter, opts...)
}

func (m *Model) Distinct(ctx context.Context, fieldName string, filter any, opts ...DistinctOption) ([]any, error) {
	return m.session().Distinct(ctx, fieldName, filter, opts...)
}

func (m *Model) Aggregate(ctx context.Context, pipeline any, opts ...AggregateOption) (*mongo.Cursor, error) {
	return m.session().Aggregate(ctx, pipeline, opts...)
}

func (m *Model) Watch(ctx context.Context, pipeline any, opts ...WatchOption) (*WatchStream, error) {
	return m.session().Watch(ctx, pipeline, opts...)
}

// Collection resolves the model's collection handle on the default database.
func (m *Model) Collection(ctx context.Context) (*mongo.Collection, error) {
	return m.session().Collection(ctx)
}
