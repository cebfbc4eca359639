package linkcache

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	DefaultMongoDatabase   = "SpTube"
	DefaultMongoCollection = "songs"
)

type songDoc struct {
	ID   string `bson:"_id"`
	Link string `bson:"link"`
}

// MongoStore keeps links as {_id: track id, link} documents.
type MongoStore struct {
	client *mongo.Client
	songs  *mongo.Collection
}

// NewMongoStore connects to uri. The driver dials lazily; Ping checks reachability.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri required")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}
	if collection == "" {
		collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoStore{
		client: client,
		songs:  client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) LoadAll(ctx context.Context) (map[string]string, error) {
	cursor, err := s.songs.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	links := make(map[string]string)
	for cursor.Next(ctx) {
		var doc songDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		links[doc.ID] = doc.Link
	}
	return links, cursor.Err()
}

func (s *MongoStore) Find(ctx context.Context, trackID string) (string, bool, error) {
	var doc songDoc
	err := s.songs.FindOne(ctx, bson.M{"_id": trackID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Link, true, nil
}

func (s *MongoStore) Upsert(ctx context.Context, trackID, link string) error {
	_, err := s.songs.UpdateOne(ctx,
		bson.M{"_id": trackID},
		bson.M{"$set": bson.M{"link": link}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) Delete(ctx context.Context, trackID string) error {
	_, err := s.songs.DeleteOne(ctx, bson.M{"_id": trackID})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
