package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

const (
	defaultDatabase   = "messagewall"
	messageCollection = "messages"
)

// MongoStore keeps messages as documents in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *slog.Logger
}

type mongoMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Text       string             `bson:"message"`
	SenderName string             `bson:"sender_name"`
	Picture    *string            `bson:"picture,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

func toMongoMessage(msg message.Message) mongoMessage {
	doc := mongoMessage{
		Text:       msg.Text,
		SenderName: msg.SenderName,
		CreatedAt:  msg.CreatedAt,
	}
	if msg.ImageURL != "" {
		picture := msg.ImageURL
		doc.Picture = &picture
	}
	return doc
}

func fromMongoMessage(doc mongoMessage) message.Message {
	msg := message.Message{
		ID:         doc.ID.Hex(),
		Text:       doc.Text,
		SenderName: doc.SenderName,
		CreatedAt:  doc.CreatedAt.UTC(),
	}
	if doc.Picture != nil {
		msg.ImageURL = *doc.Picture
	}
	return msg
}

// OpenMongo connects and pings the server. Selection and socket timeouts
// bound startup when the server is unreachable.
func OpenMongo(ctx context.Context, uri, database string, log *slog.Logger) (*MongoStore, error) {
	if database == "" {
		database = defaultDatabase
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(45 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	collection := client.Database(database).Collection(messageCollection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		log.Warn("[storage] failed to ensure createdAt index", "error", err)
	}

	log.Info("[storage] mongo connected", "database", database)
	return &MongoStore{client: client, collection: collection, log: log}, nil
}

// Create inserts the document; MongoDB assigns the ObjectID.
func (s *MongoStore) Create(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	// BSON dates carry millisecond precision.
	msg.CreatedAt = msg.CreatedAt.Truncate(time.Millisecond)

	result, err := s.collection.InsertOne(ctx, toMongoMessage(msg))
	if err != nil {
		return message.Message{}, err
	}
	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return message.Message{}, fmt.Errorf("unexpected inserted id type %T", result.InsertedID)
	}
	msg.ID = oid.Hex()
	return msg, nil
}

// Latest sorts on createdAt then _id, both descending.
func (s *MongoStore) Latest(ctx context.Context, limit int) ([]message.Message, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, err
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]message.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, fromMongoMessage(doc))
	}
	return messages, nil
}

// Delete removes the document with the given hex ObjectID.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return message.ErrNotFound
	}
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return message.ErrNotFound
	}
	return nil
}

// DeleteAll removes every document in the collection.
func (s *MongoStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
