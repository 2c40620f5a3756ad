// Package mongo provides a MongoDB implementation of artifact.RecordStore.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/webrun/runtime/browser/artifact"
)

const (
	defaultCollection = "artifacts"
	defaultTimeout    = 5 * time.Second
	storeName         = "artifact-mongo"
)

// Options configures the Store.
type Options struct {
	// Client is the connected MongoDB client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection overrides the default "artifacts" collection.
	Collection string
	// Timeout bounds each store operation. Defaults to five seconds.
	Timeout time.Duration
}

// Store is a MongoDB implementation of artifact.RecordStore.
type Store struct {
	client  *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// Compile-time checks.
var (
	_ artifact.RecordStore = (*Store)(nil)
	_ health.Pinger        = (*Store)(nil)
)

// New builds a Store and ensures its indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Store{
		client:  opts.Client,
		coll:    opts.Client.Database(opts.Database).Collection(collection),
		timeout: timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure artifact indexes: %w", err)
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return storeName
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Create implements artifact.RecordStore.
func (s *Store) Create(ctx context.Context, rec artifact.Record) (artifact.Record, error) {
	if rec.ID == "" {
		return artifact.Record{}, errors.New("artifact id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, toDocument(rec)); err != nil {
		return artifact.Record{}, fmt.Errorf("mongodb create artifact %q: %w", rec.ID, err)
	}
	return rec, nil
}

// List implements artifact.RecordStore.
func (s *Store) List(ctx context.Context, f artifact.Filter) ([]artifact.Record, error) {
	if f.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"organization_id": f.OrganizationID}
	if f.TaskID != "" {
		filter["task_id"] = f.TaskID
	}
	if f.WorkflowRunID != "" {
		filter["workflow_run_id"] = f.WorkflowRunID
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		filter["type"] = bson.M{"$in": types}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list artifacts: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []artifactDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list artifacts decode: %w", err)
	}
	out := make([]artifact.Record, len(docs))
	for i, doc := range docs {
		out[i] = fromDocument(doc)
	}
	return out, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "task_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "workflow_run_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

// artifactDocument is the MongoDB representation of an artifact record.
type artifactDocument struct {
	ID             string    `bson:"_id"`
	OrganizationID string    `bson:"organization_id"`
	TaskID         string    `bson:"task_id,omitempty"`
	WorkflowRunID  string    `bson:"workflow_run_id,omitempty"`
	Type           string    `bson:"type"`
	URI            string    `bson:"uri"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toDocument(rec artifact.Record) artifactDocument {
	return artifactDocument{
		ID:             rec.ID,
		OrganizationID: rec.OrganizationID,
		TaskID:         rec.TaskID,
		WorkflowRunID:  rec.WorkflowRunID,
		Type:           string(rec.Type),
		URI:            rec.URI,
		CreatedAt:      rec.CreatedAt.UTC(),
	}
}

func fromDocument(doc artifactDocument) artifact.Record {
	return artifact.Record{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		TaskID:         doc.TaskID,
		WorkflowRunID:  doc.WorkflowRunID,
		Type:           artifact.Type(doc.Type),
		URI:            doc.URI,
		CreatedAt:      doc.CreatedAt,
	}
}
