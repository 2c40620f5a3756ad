// Package mongo provides a MongoDB implementation of session.Store.
//
// The occupy claim is a single FindOneAndUpdate with a status predicate so
// that exactly one of any set of concurrent claimants wins; the store never
// splits the claim into a read followed by a write.
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

	"goa.design/webrun/runtime/browser/session"
)

const (
	defaultCollection = "browser_sessions"
	defaultTimeout    = 5 * time.Second
	storeName         = "session-mongo"
)

// Options configures the Store.
type Options struct {
	// Client is the connected MongoDB client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection overrides the default "browser_sessions" collection.
	Collection string
	// Timeout bounds each store operation. Defaults to five seconds.
	Timeout time.Duration
}

// Store is a MongoDB implementation of session.Store.
type Store struct {
	client  *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// Compile-time checks.
var (
	_ session.Store = (*Store)(nil)
	_ health.Pinger = (*Store)(nil)
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
		return nil, fmt.Errorf("ensure session indexes: %w", err)
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

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, in session.Session) (session.Session, error) {
	if in.ID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	if in.OrganizationID == "" {
		return session.Session{}, errors.New("organization id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := toDocument(in)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return session.Session{}, fmt.Errorf("mongodb create session %q: %w", in.ID, err)
	}
	return fromDocument(doc), nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, sessionID, orgID string) (session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	err := s.coll.FindOne(ctx, scopeFilter(sessionID, orgID)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("mongodb get session %q: %w", sessionID, err)
	}
	return fromDocument(doc), nil
}

// Occupy implements session.Store. The filter admits the available state and
// an idempotent re-claim by the current holder; the pipeline update keeps an
// existing start time so re-claims do not move it.
func (s *Store) Occupy(ctx context.Context, sessionID, orgID string, rt session.RunnableType, runnableID string, now time.Time) (session.Session, error) {
	filter := bson.M{
		"_id":             sessionID,
		"organization_id": orgID,
		"$or": bson.A{
			bson.M{"status": string(session.StatusAvailable)},
			bson.M{"runnable_id": runnableID, "runnable_type": string(rt)},
		},
	}
	out, err := s.claim(ctx, filter, rt, runnableID, now)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, s.claimFailure(ctx, sessionID, orgID)
		}
		return session.Session{}, fmt.Errorf("mongodb occupy session %q: %w", sessionID, err)
	}
	return out, nil
}

// Bind implements session.Store. Unlike Occupy it also admits a session that
// is unbound regardless of status, covering two-phase claims where the
// occupation path did not record the binding.
func (s *Store) Bind(ctx context.Context, sessionID, orgID string, rt session.RunnableType, runnableID string, now time.Time) (session.Session, error) {
	filter := bson.M{
		"_id":             sessionID,
		"organization_id": orgID,
		"$or": bson.A{
			bson.M{"runnable_id": nil},
			bson.M{"runnable_id": runnableID, "runnable_type": string(rt)},
		},
	}
	out, err := s.claim(ctx, filter, rt, runnableID, now)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, s.claimFailure(ctx, sessionID, orgID)
		}
		return session.Session{}, fmt.Errorf("mongodb bind session %q: %w", sessionID, err)
	}
	return out, nil
}

// MarkStarted implements session.Store. The update is conditional on a bound
// runnable with no start time; when the condition does not hold the current
// record is returned unchanged.
func (s *Store) MarkStarted(ctx context.Context, sessionID, orgID string, now time.Time) (session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"_id":             sessionID,
		"organization_id": orgID,
		"runnable_id":     bson.M{"$ne": nil},
		"started_at":      nil,
	}
	update := bson.M{"$set": bson.M{
		"status":     string(session.StatusRunning),
		"started_at": now.UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc sessionDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return s.Get(ctx, sessionID, orgID)
		}
		return session.Session{}, fmt.Errorf("mongodb mark session %q started: %w", sessionID, err)
	}
	return fromDocument(doc), nil
}

// Release implements session.Store. Releasing an available session matches
// the filter and rewrites the same state, making the operation idempotent.
func (s *Store) Release(ctx context.Context, sessionID, orgID string) (session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": bson.M{
		"status":        string(session.StatusAvailable),
		"runnable_type": "",
		"runnable_id":   nil,
		"started_at":    nil,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc sessionDocument
	err := s.coll.FindOneAndUpdate(ctx, scopeFilter(sessionID, orgID), update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("mongodb release session %q: %w", sessionID, err)
	}
	return fromDocument(doc), nil
}

// List implements session.Store.
func (s *Store) List(ctx context.Context, orgID string, status *session.Status, page, pageSize int) ([]session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"organization_id": orgID}
	if status != nil {
		filter["status"] = string(*status)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		opts = opts.SetSkip(int64((page - 1) * pageSize)).SetLimit(int64(pageSize))
	}
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list sessions: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list sessions decode: %w", err)
	}
	out := make([]session.Session, len(docs))
	for i, doc := range docs {
		out[i] = fromDocument(doc)
	}
	return out, nil
}

// claim performs the single conditional write shared by Occupy and Bind.
func (s *Store) claim(ctx context.Context, filter bson.M, rt session.RunnableType, runnableID string, now time.Time) (session.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := mongodriver.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status":        string(session.StatusRunning),
			"runnable_type": string(rt),
			"runnable_id":   runnableID,
			"started_at":    bson.M{"$ifNull": bson.A{"$started_at", now.UTC()}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc sessionDocument
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return session.Session{}, err
	}
	return fromDocument(doc), nil
}

// claimFailure disambiguates a failed conditional claim: a missing record is
// ErrNotFound, an existing one held by someone else is ErrConflict.
func (s *Store) claimFailure(ctx context.Context, sessionID, orgID string) error {
	if _, err := s.Get(ctx, sessionID, orgID); err != nil {
		return err
	}
	return session.ErrConflict
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
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "status", Value: 1}}},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func scopeFilter(sessionID, orgID string) bson.M {
	return bson.M{"_id": sessionID, "organization_id": orgID}
}

// sessionDocument is the MongoDB representation of a session.
type sessionDocument struct {
	ID             string     `bson:"_id"`
	OrganizationID string     `bson:"organization_id"`
	Status         string     `bson:"status"`
	TimeoutMinutes int        `bson:"timeout_minutes"`
	RunnableType   string     `bson:"runnable_type,omitempty"`
	RunnableID     *string    `bson:"runnable_id"`
	StartedAt      *time.Time `bson:"started_at"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func toDocument(in session.Session) sessionDocument {
	return sessionDocument{
		ID:             in.ID,
		OrganizationID: in.OrganizationID,
		Status:         string(in.Status),
		TimeoutMinutes: in.TimeoutMinutes,
		RunnableType:   string(in.RunnableType),
		RunnableID:     in.RunnableID,
		StartedAt:      in.StartedAt,
		CreatedAt:      in.CreatedAt.UTC(),
	}
}

func fromDocument(doc sessionDocument) session.Session {
	out := session.Session{
		ID:             doc.ID,
		OrganizationID: doc.OrganizationID,
		Status:         session.Status(doc.Status),
		TimeoutMinutes: doc.TimeoutMinutes,
		RunnableType:   session.RunnableType(doc.RunnableType),
		CreatedAt:      doc.CreatedAt,
	}
	if doc.RunnableID != nil {
		id := *doc.RunnableID
		out.RunnableID = &id
	}
	if doc.StartedAt != nil {
		at := doc.StartedAt.UTC()
		out.StartedAt = &at
	}
	return out
}
