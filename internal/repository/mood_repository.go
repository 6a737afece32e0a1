package repository

import (
	"context"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const moodsCollection = "mood_entries"

// MoodRepository reads mood check-ins
type MoodRepository struct {
	client *mongodb.MongoClient
}

// NewMoodRepository creates a new mood repository
func NewMoodRepository(client *mongodb.MongoClient) *MoodRepository {
	return &MoodRepository{client: client}
}

// Recent returns the user's entries newest first. A zero since means no
// lower bound; a zero limit means no limit.
func (r *MoodRepository) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.MoodEntry, error) {
	filter := bson.M{"user_id": userID}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gte": since}
	}

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.client.Collection(moodsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*domain.MoodEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
