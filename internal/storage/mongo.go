package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/model"
)

const (
	defaultMongoDatabaseName   = "portfolio"
	defaultMongoCollectionName = "contacts"
	defaultMongoConnectTimeout = 10 * time.Second
)

var ErrMissingMongoURI = errors.New("storage: missing mongodb uri")

// MongoConfig captures the document store connection settings.
type MongoConfig struct {
	URI            string
	DatabaseName   string
	CollectionName string
	ConnectTimeout time.Duration
}

// MongoContactArchive stores contact submissions as documents in one collection.
type MongoContactArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NormalizeMongoConfig fills in the database, collection, and timeout defaults.
func NormalizeMongoConfig(configuration MongoConfig) (MongoConfig, error) {
	configuration.URI = strings.TrimSpace(configuration.URI)
	if configuration.URI == "" {
		return MongoConfig{}, ErrMissingMongoURI
	}
	configuration.DatabaseName = strings.TrimSpace(configuration.DatabaseName)
	if configuration.DatabaseName == "" {
		configuration.DatabaseName = defaultMongoDatabaseName
	}
	configuration.CollectionName = strings.TrimSpace(configuration.CollectionName)
	if configuration.CollectionName == "" {
		configuration.CollectionName = defaultMongoCollectionName
	}
	if configuration.ConnectTimeout <= 0 {
		configuration.ConnectTimeout = defaultMongoConnectTimeout
	}
	return configuration, nil
}

// OpenMongoContactArchive connects to the document store. The driver connects lazily, so an
// unreachable server surfaces on the first write rather than here.
func OpenMongoContactArchive(ctx context.Context, configuration MongoConfig) (*MongoContactArchive, error) {
	normalized, configErr := NormalizeMongoConfig(configuration)
	if configErr != nil {
		return nil, configErr
	}

	clientOptions := options.Client().
		ApplyURI(normalized.URI).
		SetConnectTimeout(normalized.ConnectTimeout).
		SetServerSelectionTimeout(normalized.ConnectTimeout)

	client, connectErr := mongo.Connect(ctx, clientOptions)
	if connectErr != nil {
		return nil, fmt.Errorf("storage: connect mongodb: %w", connectErr)
	}

	return &MongoContactArchive{
		client:     client,
		collection: client.Database(normalized.DatabaseName).Collection(normalized.CollectionName),
	}, nil
}

// RecordContact inserts the normalized submission document once.
func (archive *MongoContactArchive) RecordContact(ctx context.Context, submission model.ContactSubmission) error {
	if archive == nil || archive.collection == nil {
		return ErrArchiveUnavailable
	}
	submission = submission.ArchiveRecord()
	if strings.TrimSpace(submission.ID) == "" {
		submission.ID = NewID()
	}
	if _, insertErr := archive.collection.InsertOne(ctx, submission); insertErr != nil {
		return fmt.Errorf("storage: record contact: %w", insertErr)
	}
	return nil
}

// ListContacts returns the most recent submissions first.
func (archive *MongoContactArchive) ListContacts(ctx context.Context, limit int) ([]model.ContactSubmission, error) {
	if archive == nil || archive.collection == nil {
		return nil, ErrArchiveUnavailable
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "submittedAt", Value: -1}}).
		SetLimit(int64(normalizeListLimit(limit)))

	cursor, findErr := archive.collection.Find(ctx, bson.D{}, findOptions)
	if findErr != nil {
		return nil, fmt.Errorf("storage: list contacts: %w", findErr)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	submissions := make([]model.ContactSubmission, 0)
	if decodeErr := cursor.All(ctx, &submissions); decodeErr != nil {
		return nil, fmt.Errorf("storage: decode contacts: %w", decodeErr)
	}
	return submissions, nil
}

// Close disconnects the client.
func (archive *MongoContactArchive) Close() error {
	if archive == nil || archive.client == nil {
		return nil
	}
	disconnectCtx, cancel := context.WithTimeout(context.Background(), defaultMongoConnectTimeout)
	defer cancel()
	return archive.client.Disconnect(disconnectCtx)
}
