package repository

import (
	"context"
	"strings"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bouncesCollection = "email_bounces"

// suppressionWindowDays is how long a hard bounce or complaint blocks an address
const suppressionWindowDays = 30

// BounceRepository handles email bounce data operations
type BounceRepository struct {
	client *mongodb.MongoClient
}

// NewBounceRepository creates a new bounce repository
func NewBounceRepository(client *mongodb.MongoClient) *BounceRepository {
	return &BounceRepository{client: client}
}

// EnsureIndexes creates the suppression lookup index
func (r *BounceRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "email", Value: 1},
				{Key: "type", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("email_type_timestamp_idx"),
		},
	}
	return r.client.CreateIndexes(ctx, bouncesCollection, indexes)
}

// Create creates a new bounce record
func (r *BounceRepository) Create(ctx context.Context, bounce *domain.EmailBounce) error {
	bounce.ID = primitive.NewObjectID()
	bounce.Email = normalizeEmail(bounce.Email)
	bounce.CreatedAt = time.Now()
	if bounce.Timestamp.IsZero() {
		bounce.Timestamp = bounce.CreatedAt
	}

	_, err := r.client.Collection(bouncesCollection).InsertOne(ctx, bounce)
	return err
}

// IsSuppressed reports whether the address hard bounced or complained recently
func (r *BounceRepository) IsSuppressed(ctx context.Context, email string) (bool, error) {
	cutoff := time.Now().AddDate(0, 0, -suppressionWindowDays)
	filter := bson.M{
		"email":     normalizeEmail(email),
		"type":      bson.M{"$in": []string{"hard", "complaint"}},
		"timestamp": bson.M{"$gte": cutoff},
	}

	n, err := r.client.Collection(bouncesCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
