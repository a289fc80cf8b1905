package schema

// Schema binds a model name to a MongoDB collection and, optionally, a
// document ID generator applied on insert when _id is absent.
type Schema struct {
	Name       string
	collection string
	generator  IDGenerator
}

// Option configures a Schema.
type Option func(*Schema)

// WithCollection overrides the derived collection name.
func WithCollection(name string) Option {
	return func(s *Schema) {
		s.collection = name
	}
}

// WithIDGenerator selects a registered ID generator (objectid, uuid, ulid)
// for documents inserted without an _id. Unknown names are ignored and the
// driver's ObjectID behavior applies.
func WithIDGenerator(name string) Option {
	return func(s *Schema) {
		if gen, ok := defaultRegistry.Get(name); ok {
			s.generator = gen
		}
	}
}

// New builds a schema for the given model name. The collection defaults to
// the camelCase plural of the name ("User" -> "users", "BlogPost" ->
// "blogPosts").
func New(name string, opts ...Option) *Schema {
	s := &Schema{Name: name}
	for _, opt := range opts {
		opt(s)
	}
	if s.collection == "" {
		s.collection = CollectionName(name)
	}
	return s
}

// Collection returns the bound collection name.
func (s *Schema) Collection() string {
	return s.collection
}

// Generator returns the configured ID generator, or nil.
func (s *Schema) Generator() IDGenerator {
	return s.generator
}
