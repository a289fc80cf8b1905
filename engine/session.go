package engine

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Driver option aliases, so chains read without the options import.
type (
	FindOption       = *options.FindOptions
	FindOneOption    = *options.FindOneOptions
	InsertOneOption  = *options.InsertOneOptions
	InsertManyOption = *options.InsertManyOptions
	UpdateOption     = *options.UpdateOptions
	ReplaceOption    = *options.ReplaceOptions
	DeleteOption     = *options.DeleteOptions
	CountOption      = *options.CountOptions
	DistinctOption   = *options.DistinctOptions
	AggregateOption  = *options.AggregateOptions
	WatchOption      = *options.ChangeStreamOptions
)

// Session is one database-bound chain off a model. Sessions are cheap,
// single-use values; the zero db selects the model's default database.
type Session struct {
	model *Model
	db    string
}

func (s *Session) database() string {
	if s.db != "" {
		return s.db
	}
	return s.model.defaultDB
}

// Collection resolves the driver collection handle this chain operates on.
func (s *Session) Collection(ctx context.Context) (*mongo.Collection, error) {
	return s.model.source.Collection(ctx, s.database(), s.model.schema.Collection())
}

func (s *Session) Find(ctx context.Context, filter any, opts ...FindOption) (*mongo.Cursor, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Find(ctx, filter, opts...)
}

func (s *Session) FindOne(ctx context.Context, filter any, opts ...FindOneOption) (*mongo.SingleResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.FindOne(ctx, filter, opts...), nil
}

func (s *Session) InsertOne(ctx context.Context, document any, opts ...InsertOneOption) (*mongo.InsertOneResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	document, err = s.applyID(document)
	if err != nil {
		return nil, err
	}
	return coll.InsertOne(ctx, document, opts...)
}

func (s *Session) InsertMany(ctx context.Context, documents []any, opts ...InsertManyOption) (*mongo.InsertManyResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	for i, doc := range documents {
		if documents[i], err = s.applyID(doc); err != nil {
			return nil, err
		}
	}
	return coll.InsertMany(ctx, documents, opts...)
}

func (s *Session) UpdateOne(ctx context.Context, filter, update any, opts ...UpdateOption) (*mongo.UpdateResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.UpdateOne(ctx, filter, update, opts...)
}

func (s *Session) UpdateMany(ctx context.Context, filter, update any, opts ...UpdateOption) (*mongo.UpdateResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.UpdateMany(ctx, filter, update, opts...)
}

func (s *Session) ReplaceOne(ctx context.Context, filter, replacement any, opts ...ReplaceOption) (*mongo.UpdateResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (s *Session) DeleteOne(ctx context.Context, filter any, opts ...DeleteOption) (*mongo.DeleteResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.DeleteOne(ctx, filter, opts...)
}

func (s *Session) DeleteMany(ctx context.Context, filter any, opts ...DeleteOption) (*mongo.DeleteResult, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.DeleteMany(ctx, filter, opts...)
}

func (s *Session) CountDocuments(ctx context.Context, filter any, opts ...CountOption) (int64, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, filter, opts...)
}

func (s *Session) Distinct(ctx context.Context, fieldName string, filter any, opts ...DistinctOption) ([]any, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Distinct(ctx, fieldName, filter, opts...)
}

func (s *Session) Aggregate(ctx context.Context, pipeline any, opts ...AggregateOption) (*mongo.Cursor, error) {
	coll, err := s.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Aggregate(ctx, pipeline, opts...)
}

// applyID fills in _id from the schema's ID generator for map-shaped
// documents that lack one. Struct documents are left to the driver.
func (s *Session) applyID(document any) (any, error) {
	gen := s.model.schema.Generator()
	if gen == nil {
		return document, nil
	}

	switch doc := document.(type) {
	case bson.M:
		if _, ok := doc["_id"]; ok {
			return document, nil
		}
		id, err := gen.Generate()
		if err != nil {
			return nil, err
		}
		doc["_id"] = id
		return doc, nil
	case map[string]any:
		if _, ok := doc["_id"]; ok {
			return document, nil
		}
		id, err := gen.Generate()
		if err != nil {
			return nil, err
		}
		doc["_id"] = id
		return doc, nil
	case bson.D:
		for _, e := range doc {
			if e.Key == "_id" {
				return document, nil
			}
		}
		id, err := gen.Generate()
		if err != nil {
			return nil, err
		}
		return append(bson.D{primitive.E{Key: "_id", Value: id}}, doc...), nil
	default:
		return document, nil
	}
}
