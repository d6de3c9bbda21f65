package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
	"github.com/okian/classboard/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Default mongo store configuration constants.
const (
	defaultQueryTimeout = 10 * time.Second
	connectTimeout      = 10 * time.Second
	closeTimeout        = 5 * time.Second
)

// MongoStore is a Store over MongoDB collections. Subscriptions are backed
// by change streams, so the server must run as a replica set.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  logger.Logger

	mu   sync.Mutex
	subs map[string]*mongoSubscription
}

// NewMongoStore connects to uri, pings the primary and returns a store
// over database.
func NewMongoStore(ctx context.Context, uri, database string, opts ...MongoOption) (*MongoStore, error) {
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrUnavailable, err)
	}
	if err := client.Ping(connCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping: %w", ErrUnavailable, err)
	}

	s := &MongoStore{
		client:  client,
		db:      client.Database(database),
		timeout: defaultQueryTimeout,
		logger:  logger.Get().Named("mongostore"),
		subs:    make(map[string]*mongoSubscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info(ctx, "connected to mongo", logger.String("database", database))
	return s, nil
}

// Filter translates predicates into a mongo filter document. Several
// predicates on one field merge into a single operator document.
func Filter(preds []Predicate) bson.M {
	f := bson.M{}
	for _, p := range preds {
		var op string
		switch p.Op {
		case OpEq:
			f[p.Field] = p.Value
			continue
		case OpIn:
			op = "$in"
		case OpGte:
			op = "$gte"
		case OpLte:
			op = "$lte"
		default:
			continue
		}
		sub, ok := f[p.Field].(bson.M)
		if !ok {
			sub = bson.M{}
			f[p.Field] = sub
		}
		sub[op] = p.Value
	}
	return f
}

func find[T any](ctx context.Context, s *MongoStore, c Collection, preds []Predicate) ([]T, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.db.Collection(string(c)).Find(ctx, Filter(preds))
	if err != nil {
		metrics.RecordStoreError(string(c))
		return nil, fmt.Errorf("%w: find %s: %w", ErrUnavailable, c, err)
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		metrics.RecordStoreError(string(c))
		return nil, fmt.Errorf("%w: decode %s: %w", ErrUnavailable, c, err)
	}
	metrics.RecordStoreQuery(string(c), float64(time.Since(start).Microseconds())/1000)
	return out, nil
}

// Users returns users matching preds.
func (s *MongoStore) Users(ctx context.Context, preds ...Predicate) ([]model.User, error) {
	return find[model.User](ctx, s, Users, preds)
}

// Classes returns classes matching preds.
func (s *MongoStore) Classes(ctx context.Context, preds ...Predicate) ([]model.ClassRecord, error) {
	return find[model.ClassRecord](ctx, s, Classes, preds)
}

// Enrollments returns enrollments matching preds.
func (s *MongoStore) Enrollments(ctx context.Context, preds ...Predicate) ([]model.Enrollment, error) {
	return find[model.Enrollment](ctx, s, Enrollments, preds)
}

// Assignments returns assignments matching preds.
func (s *MongoStore) Assignments(ctx context.Context, preds ...Predicate) ([]model.Assignment, error) {
	return find[model.Assignment](ctx, s, Assignments, preds)
}

// Submissions returns submissions matching preds.
func (s *MongoStore) Submissions(ctx context.Context, preds ...Predicate) ([]model.Submission, error) {
	return find[model.Submission](ctx, s, Submissions, preds)
}

// Attendance returns attendance rows matching preds.
func (s *MongoStore) Attendance(ctx context.Context, preds ...Predicate) ([]model.AttendanceRecord, error) {
	return find[model.AttendanceRecord](ctx, s, Attendance, preds)
}

// Announcements returns announcements matching preds.
func (s *MongoStore) Announcements(ctx context.Context, preds ...Predicate) ([]model.Announcement, error) {
	return find[model.Announcement](ctx, s, Announcements, preds)
}

// changeEvent is the subset of a change stream document we read.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
}

// Relevant reports whether a change event can affect the matching set of
// preds. Deletes carry no document and always count.
func (e changeEvent) Relevant(preds []Predicate) bool {
	if e.FullDocument == nil {
		return true
	}
	return Match(preds, fieldsOf(map[string]any(e.FullDocument)))
}

// Subscribe opens a change stream on the query's collection and calls
// onChange for relevant events until the subscription ends.
func (s *MongoStore) Subscribe(ctx context.Context, q Query, onChange func(Change)) (Subscription, error) {
	if onChange == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", q.Collection)
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}}},
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.db.Collection(string(q.Collection)).Watch(streamCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: watch %s: %w", ErrUnavailable, q.Collection, err)
	}

	sub := &mongoSubscription{id: uuid.NewString(), cancel: cancel, store: s, done: make(chan struct{})}
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer func() { _ = stream.Close(context.Background()) }()
		for stream.Next(streamCtx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				s.logger.Warn(streamCtx, "undecodable change event", logger.String("query", q.Key()), logger.Error(err))
				continue
			}
			if ev.Relevant(q.Predicates) {
				onChange(Change{Collection: q.Collection, At: time.Now()})
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(streamCtx, "change stream ended", logger.String("query", q.Key()), logger.Error(err))
		}
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
	}()
	return sub, nil
}

// InsertFixture writes every record of f into its collection.
func (s *MongoStore) InsertFixture(ctx context.Context, f *Fixture) error {
	batches := map[Collection][]any{
		Users:         toDocs(f.Users),
		Classes:       toDocs(f.Classes),
		Enrollments:   toDocs(f.Enrollments),
		Assignments:   toDocs(f.Assignments),
		Submissions:   toDocs(f.Submissions),
		Attendance:    toDocs(f.Attendance),
		Announcements: toDocs(f.Announcements),
	}
	for c, docs := range batches {
		if len(docs) == 0 {
			continue
		}
		if _, err := s.db.Collection(string(c)).InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("insert %s: %w", c, err)
		}
		s.logger.Info(ctx, "inserted fixture records", logger.String("collection", string(c)), logger.Int("count", len(docs)))
	}
	return nil
}

func toDocs[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// Close ends every change stream and disconnects the client.
func (s *MongoStore) Close() error {
	s.mu.Lock()
	subs := make([]*mongoSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

type mongoSubscription struct {
	id     string
	cancel context.CancelFunc
	store  *MongoStore
	done   chan struct{}
}

func (m *mongoSubscription) ID() string { return m.id }

func (m *mongoSubscription) Unsubscribe() {
	m.cancel()
}
