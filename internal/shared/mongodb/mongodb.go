package mongodb

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoClient wraps the MongoDB client
type MongoClient struct {
	client   *mongo.Client
	database *mongo.Database
}

// validateMongoURI performs basic validation on a MongoDB URI before connecting
func validateMongoURI(uri string) error {
	if uri == "" {
		return errors.New("mongodb URI cannot be empty")
	}

	parsedURI, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid mongodb URI format: %w", err)
	}

	scheme := parsedURI.Scheme
	if scheme != "mongodb" && scheme != "mongodb+srv" {
		return fmt.Errorf("invalid mongodb URI scheme: %s (must be mongodb or mongodb+srv)", scheme)
	}

	if parsedURI.Host == "" {
		return errors.New("mongodb URI must contain a host")
	}

	return nil
}

// validateDatabaseName rejects names MongoDB would refuse or misinterpret
func validateDatabaseName(database string) error {
	if database == "" {
		return errors.New("database name cannot be empty")
	}
	if strings.ContainsAny(database, "/\\. \"$*<>:|?") {
		return errors.New("database name contains invalid characters")
	}
	return nil
}

// NewMongoClient creates a new MongoDB client. Job runs are short bursts of
// reads and appends, so the pool is smaller than an API-facing service needs.
func NewMongoClient(uri, database string) (*MongoClient, error) {
	if err := validateMongoURI(uri); err != nil {
		return nil, fmt.Errorf("mongodb URI validation failed: %w", err)
	}
	if err := validateDatabaseName(database); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(60 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	if strings.Contains(uri, "mongodb+srv://") || strings.Contains(uri, "tls=true") || strings.Contains(uri, "ssl=true") {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoClient{
		client:   client,
		database: client.Database(database),
	}, nil
}

// Collection returns a collection handle
func (c *MongoClient) Collection(name string) *mongo.Collection {
	return c.database.Collection(name)
}

// Ping checks the primary is reachable; used by the readiness check
func (c *MongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the MongoDB connection
func (c *MongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Database returns the database handle
func (c *MongoClient) Database() *mongo.Database {
	return c.database
}

// CreateIndexes creates indexes for a collection
func (c *MongoClient) CreateIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := c.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// IsDuplicateKey reports whether err is a unique index violation
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
