package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/pkg/retry"
	"tilecast/pkg/tracing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const collectionName = "layouts"

// layoutDocument is the stored shape of a LayoutRecord. layout_data keeps the
// tagged wire form as a sub-document so it stays readable from the shell.
type layoutDocument struct {
	ID         string    `bson:"_id"`
	SessionID  string    `bson:"session_id"`
	LayoutData bson.M    `bson:"layout_data"`
	CreatedAt  time.Time `bson:"created_at"`
}

// NewMongoClient connects to uri, retrying the initial ping.
func NewMongoClient(ctx context.Context, uri string, connect retry.Config, logger *zap.SugaredLogger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create Mongo client: %w", err)
	}

	err = retry.Retry(ctx, connect, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to Mongo: %w", err)
	}

	if logger != nil {
		logger.Info("connected to Mongo")
	}
	return client, nil
}

type MongoLayoutRepository struct {
	collection *mongo.Collection
}

// NewMongoLayoutRepository ensures the (session_id, created_at desc) index
// used by latest-first reads exists.
func NewMongoLayoutRepository(ctx context.Context, db *mongo.Database) (ports.LayoutRepository, error) {
	coll := db.Collection(collectionName)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("session_created_at"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create layouts index: %w", err)
	}

	return &MongoLayoutRepository{collection: coll}, nil
}

func (r *MongoLayoutRepository) Append(ctx context.Context, record *domain.LayoutRecord) error {
	if record == nil || record.SessionID == "" {
		return fmt.Errorf("append layout: %w", domain.ErrEmptySessionID)
	}

	ctx, span := tracing.TraceDatabaseOperation(ctx, "mongodb", "insert", collectionName)
	defer span.End()

	doc, err := toDocument(record)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to insert layout: %w", err)
	}
	return nil
}

func (r *MongoLayoutRepository) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "mongodb", "find_one", collectionName)
	defer span.End()

	var doc layoutDocument
	err := r.collection.FindOne(ctx,
		bson.M{"session_id": string(sessionID)},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrLayoutNotFound
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to find latest layout: %w", err)
	}
	return fromDocument(doc)
}

func (r *MongoLayoutRepository) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "mongodb", "find", collectionName)
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"session_id": string(sessionID)}, opts)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to query layout history: %w", err)
	}

	var docs []layoutDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read layout history: %w", err)
	}

	records := make([]*domain.LayoutRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func toDocument(record *domain.LayoutRecord) (layoutDocument, error) {
	data, err := domain.EncodeLayout(record.LayoutData)
	if err != nil {
		return layoutDocument{}, fmt.Errorf("failed to encode layout: %w", err)
	}

	var layout bson.M
	if err := bson.UnmarshalExtJSON(data, false, &layout); err != nil {
		return layoutDocument{}, fmt.Errorf("failed to convert layout to bson: %w", err)
	}

	return layoutDocument{
		ID:         record.ID,
		SessionID:  string(record.SessionID),
		LayoutData: layout,
		CreatedAt:  record.CreatedAt,
	}, nil
}

func fromDocument(doc layoutDocument) (*domain.LayoutRecord, error) {
	data, err := bson.MarshalExtJSON(doc.LayoutData, false, false)
	if err != nil {
		return nil, fmt.Errorf("layout record %s: %w", doc.ID, err)
	}

	layout, err := domain.DecodeLayout(data)
	if err != nil {
		return nil, fmt.Errorf("layout record %s: %w", doc.ID, err)
	}

	return &domain.LayoutRecord{
		ID:         doc.ID,
		SessionID:  domain.SessionID(doc.SessionID),
		LayoutData: layout,
		CreatedAt:  doc.CreatedAt.UTC(),
	}, nil
}
