package repository

import (
	"context"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	apperrors "github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const profilesCollection = "profiles"

// ProfileRepository reads recipient profiles. Profiles are owned by the app;
// this service never writes them.
type ProfileRepository struct {
	client *mongodb.MongoClient
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(client *mongodb.MongoClient) *ProfileRepository {
	return &ProfileRepository{client: client}
}

// EnsureIndexes creates the opt-in index used by organic selections
func (r *ProfileRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "notifications_enabled", Value: 1}},
			Options: options.Index().SetName("notifications_enabled_idx"),
		},
	}
	return r.client.CreateIndexes(ctx, profilesCollection, indexes)
}

// FindOptedIn returns every profile with notifications enabled
func (r *ProfileRepository) FindOptedIn(ctx context.Context) ([]*domain.Profile, error) {
	cursor, err := r.client.Collection(profilesCollection).Find(ctx, bson.M{"notifications_enabled": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var profiles []*domain.Profile
	if err = cursor.All(ctx, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// FindByID returns one profile regardless of its opt-in flag
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.client.Collection(profilesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "profile %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
