package tutorial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CollectionName is the MongoDB collection tutorials are stored in.
const CollectionName = "tutorials"

var tracer = otel.Tracer("tutorials/store")

// Store is the persistence contract used by Service.
type Store interface {
	Create(ctx context.Context, in CreateInput) (*Tutorial, error)
	List(ctx context.Context, publishedOnly bool) ([]Tutorial, error)
	Get(ctx context.Context, id string) (*Tutorial, error)
	Update(ctx context.Context, id string, in UpdateInput) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// MongoStore persists tutorials in a MongoDB collection.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

// NewMongoStore returns a store over db's tutorials collection. Every call
// is bounded by timeout when it is positive.
func NewMongoStore(db *mongo.Database, timeout time.Duration) *MongoStore {
	return &MongoStore{
		coll:    db.Collection(CollectionName),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MongoStore) begin(ctx context.Context, op string) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := tracer.Start(ctx, "tutorials.store."+op,
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.collection", CollectionName),
		),
	)
	if s.timeout <= 0 {
		return ctx, span, func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, span, cancel
}

func (s *MongoStore) Create(ctx context.Context, in CreateInput) (*Tutorial, error) {
	ctx, span, cancel := s.begin(ctx, "create")
	defer span.End()
	defer cancel()

	now := s.now()
	t := &Tutorial{
		Title:       in.Title,
		Description: in.Description,
		Published:   in.Published,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.coll.InsertOne(ctx, t)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inserting tutorial: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		t.ID = oid
	}
	return t, nil
}

func (s *MongoStore) List(ctx context.Context, publishedOnly bool) ([]Tutorial, error) {
	ctx, span, cancel := s.begin(ctx, "list")
	defer span.End()
	defer cancel()

	filter := bson.M{}
	if publishedOnly {
		filter["published"] = true
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("finding tutorials: %w", err)
	}
	defer cursor.Close(ctx)

	tutorials := make([]Tutorial, 0)
	if err := cursor.All(ctx, &tutorials); err != nil {
		return nil, fmt.Errorf("decoding tutorials: %w", err)
	}
	return tutorials, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Tutorial, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	ctx, span, cancel := s.begin(ctx, "get")
	defer span.End()
	defer cancel()

	var t Tutorial
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("finding tutorial %s: %w", id, err)
	}
	return &t, nil
}

func (s *MongoStore) Update(ctx context.Context, id string, in UpdateInput) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	if in.Empty() {
		return ErrNoChanges
	}

	ctx, span, cancel := s.begin(ctx, "update")
	defer span.End()
	defer cancel()

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": updateDoc(in, s.now())})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("updating tutorial %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}

	ctx, span, cancel := s.begin(ctx, "delete")
	defer span.End()
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting tutorial %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteAll(ctx context.Context) (int64, error) {
	ctx, span, cancel := s.begin(ctx, "delete_all")
	defer span.End()
	defer cancel()

	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("deleting tutorials: %w", err)
	}
	return res.DeletedCount, nil
}

// updateDoc builds the $set document for a partial update.
func updateDoc(in UpdateInput, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if in.Title != nil {
		set["title"] = *in.Title
	}
	if in.Description != nil {
		set["description"] = *in.Description
	}
	if in.Published != nil {
		set["published"] = *in.Published
	}
	return set
}
