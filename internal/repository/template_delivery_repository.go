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

const templateDeliveriesCollection = "template_deliveries"

// TemplateDeliveryRepository records which template reached whom and when
type TemplateDeliveryRepository struct {
	client *mongodb.MongoClient
}

// NewTemplateDeliveryRepository creates a new template delivery repository
func NewTemplateDeliveryRepository(client *mongodb.MongoClient) *TemplateDeliveryRepository {
	return &TemplateDeliveryRepository{client: client}
}

// EnsureIndexes creates the cooldown lookup index
func (r *TemplateDeliveryRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "template_id", Value: 1},
				{Key: "delivered_at", Value: -1},
			},
			Options: options.Index().SetName("user_template_delivered_idx"),
		},
	}
	return r.client.CreateIndexes(ctx, templateDeliveriesCollection, indexes)
}

// Record stores a delivery
func (r *TemplateDeliveryRepository) Record(ctx context.Context, d *domain.TemplateDelivery) error {
	d.ID = primitive.NewObjectID()
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now()
	}
	_, err := r.client.Collection(templateDeliveriesCollection).InsertOne(ctx, d)
	return err
}

// LastDelivered returns the latest delivery time per template for a user
func (r *TemplateDeliveryRepository) LastDelivered(ctx context.Context, userID string, templateIDs []primitive.ObjectID) (map[primitive.ObjectID]time.Time, error) {
	out := make(map[primitive.ObjectID]time.Time, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID, "template_id": bson.M{"$in": templateIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$template_id", "last": bson.M{"$max": "$delivered_at"}}}},
	}

	cursor, err := r.client.Collection(templateDeliveriesCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID   primitive.ObjectID `bson:"_id"`
		Last time.Time          `bson:"last"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.Last
	}
	return out, nil
}
