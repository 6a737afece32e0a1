package repository

import (
	"context"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const notificationsCollection = "notifications"

// NotificationRepository appends notification records
type NotificationRepository struct {
	client *mongodb.MongoClient
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(client *mongodb.MongoClient) *NotificationRepository {
	return &NotificationRepository{client: client}
}

// EnsureIndexes creates the indexes the app feed, the cap fallback and run
// lookups rely on
func (r *NotificationRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "channel", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("user_channel_created_idx"),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "job_type", Value: 1},
				{Key: "status", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("user_job_status_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "run_key", Value: 1}},
			Options: options.Index().SetName("run_key_idx"),
		},
	}

	return r.client.CreateIndexes(ctx, notificationsCollection, indexes)
}

// Insert appends a record
func (r *NotificationRepository) Insert(ctx context.Context, rec *domain.NotificationRecord) error {
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := r.client.Collection(notificationsCollection).InsertOne(ctx, rec)
	return err
}

// CountDeliveries counts organic runs of a family that delivered at least one
// channel to the user since the given time
func (r *NotificationRepository) CountDeliveries(ctx context.Context, family domain.JobType, userID string, since time.Time) (int, error) {
	filter := bson.M{
		"user_id":    userID,
		"job_type":   family,
		"status":     domain.NotificationStatusSent,
		"manual":     bson.M{"$ne": true},
		"created_at": bson.M{"$gte": since},
	}

	runs, err := r.client.Collection(notificationsCollection).Distinct(ctx, "run_key", filter)
	if err != nil {
		return 0, err
	}
	return len(runs), nil
}

// FindByRunKey returns the records of one run with pagination
func (r *NotificationRepository) FindByRunKey(ctx context.Context, runKey string, page, pageSize int) ([]*domain.NotificationRecord, int64, error) {
	filter := bson.M{"run_key": runKey}

	total, err := r.client.Collection(notificationsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	skip := (page - 1) * pageSize
	opts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(pageSize)).
		SetSort(bson.M{"created_at": 1})

	cursor, err := r.client.Collection(notificationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var records []*domain.NotificationRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}
