// Package mongo hosts the MongoDB-backed implementation of the persistence
// contract. One collection backs each logical table; the full-text index
// lives on the items collection so item writes and index updates share the
// same document write. Collections are accessed through narrow seam
// interfaces so tests can substitute fakes for the driver types.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"
)

const (
	defaultItemsCollection    = "clipboard_items"
	defaultTasksCollection    = "ai_tasks"
	defaultSessionsCollection = "clipboard_sessions"
	defaultMembersCollection  = "session_members"
	defaultResultsCollection  = "workflow_results"
	defaultTagsCollection     = "tags"
	defaultOpTimeout          = 5 * time.Second
	storeClientName           = "flowclip-mongo"
)

// Options configures the Mongo store.
type Options struct {
	// Client is the connected Mongo client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Timeout bounds individual operations. Defaults to 5 seconds.
	Timeout time.Duration
}

// Store implements the persistence contract on MongoDB. It also implements
// health.Pinger so deployments can surface store connectivity.
type Store struct {
	mongo    *mongodriver.Client
	items    collection
	tasks    collection
	sessions collection
	members  collection
	results  collection
	tags     collection
	timeout  time.Duration
}

var _ health.Pinger = (*Store)(nil)

// New returns a Store backed by MongoDB, creating the required indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:    opts.Client,
		items:    mongoCollection{coll: db.Collection(defaultItemsCollection)},
		tasks:    mongoCollection{coll: db.Collection(defaultTasksCollection)},
		sessions: mongoCollection{coll: db.Collection(defaultSessionsCollection)},
		members:  mongoCollection{coll: db.Collection(defaultMembersCollection)},
		results:  mongoCollection{coll: db.Collection(defaultResultsCollection)},
		tags:     mongoCollection{coll: db.Collection(defaultTagsCollection)},
		timeout:  timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeClientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Close implements the store contract. The Mongo client is owned by the
// caller; Close only detaches.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ensureIndexes creates the uniqueness, lookup, and full-text indexes. The
// text index spans the searchable item fields so ranked search uses a single
// engine alongside the row data.
func (s *Store) ensureIndexes(ctx context.Context) error {
	itemIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "item_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "content", Value: "text"},
				{Key: "window_title", Value: "text"},
				{Key: "surrounding_text", Value: "text"},
				{Key: "tags", Value: "text"},
			},
			Options: options.Index().SetName("clipboard_search"),
		},
	}
	for _, idx := range itemIndexes {
		if _, err := s.items.Indexes().CreateOne(ctx, idx); err != nil {
			return err
		}
	}
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "clipboard_item_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return err
	}
	if _, err := s.sessions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.sessions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_activity", Value: -1}},
	}); err != nil {
		return err
	}
	memberIndexes := []mongodriver.IndexModel{
		{
			// An item belongs to at most one session.
			Keys:    bson.D{{Key: "clipboard_item_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "sequence_order", Value: 1}},
		},
	}
	for _, idx := range memberIndexes {
		if _, err := s.members.Indexes().CreateOne(ctx, idx); err != nil {
			return err
		}
	}
	if _, err := s.results.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "clipboard_item_id", Value: 1}, {Key: "executed_at", Value: -1}},
	}); err != nil {
		return err
	}
	if _, err := s.tags.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	return nil
}

// Seam interfaces over the Mongo driver so tests can substitute fakes.

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	InsertOne(ctx context.Context, doc any) error
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	UpdateMany(ctx context.Context, filter any, update any) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (int64, error)
	DeleteMany(ctx context.Context, filter any) (int64, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) UpdateMany(ctx context.Context, filter any, update any) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateMany(ctx, filter, update)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                      { return c.cur.Err() }
func (c mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
