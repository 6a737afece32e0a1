package repository

import (
	"context"
	"time"

	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/joblog"
	apperrors "github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jobLogsCollection = "job_logs"

// JobLogFilter narrows a job log listing
type JobLogFilter struct {
	JobType domain.JobType
	Status  domain.JobStatus
	Manual  *bool
}

// JobLogRepository stores job logs. The unique run_key index is what makes
// a run claim atomic.
type JobLogRepository struct {
	client *mongodb.MongoClient
}

// NewJobLogRepository creates a new job log repository
func NewJobLogRepository(client *mongodb.MongoClient) *JobLogRepository {
	return &JobLogRepository{client: client}
}

// EnsureIndexes creates the run key claim index and listing indexes
func (r *JobLogRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_key", Value: 1}},
			Options: options.Index().SetName("run_key_unique_idx").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "job_type", Value: 1},
				{Key: "started_at", Value: -1},
			},
			Options: options.Index().SetName("job_started_idx"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "started_at", Value: 1},
			},
			Options: options.Index().SetName("status_started_idx"),
		},
	}

	return r.client.CreateIndexes(ctx, jobLogsCollection, indexes)
}

// Insert claims the run key
func (r *JobLogRepository) Insert(ctx context.Context, log *domain.JobLog) error {
	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	_, err := r.client.Collection(jobLogsCollection).InsertOne(ctx, log)
	if mongodb.IsDuplicateKey(err) {
		return apperrors.ErrAlreadyClaimed
	}
	return err
}

// Finalize writes the end-of-run update
func (r *JobLogRepository) Finalize(ctx context.Context, id primitive.ObjectID, final joblog.Final) error {
	set := bson.M{
		"status":            final.Status,
		"recipients":        final.Recipients,
		"targeted":          final.Targeted,
		"sent":              final.Sent,
		"failed":            final.Failed,
		"skipped":           final.Skipped,
		"recipients_failed": final.RecipientsFailed,
		"detail":            final.Detail,
		"detail_truncated":  final.DetailTruncated,
		"completed_at":      final.CompletedAt,
	}
	if final.Error != "" {
		set["error"] = final.Error
	}

	result, err := r.client.Collection(jobLogsCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// MarkStale fails running rows started before the cutoff
func (r *JobLogRepository) MarkStale(ctx context.Context, startedBefore time.Time, reason string) (int64, error) {
	filter := bson.M{
		"status":     domain.JobStatusRunning,
		"started_at": bson.M{"$lt": startedBefore},
	}
	update := bson.M{
		"$set": bson.M{
			"status":       domain.JobStatusFailed,
			"error":        reason,
			"completed_at": time.Now(),
		},
	}

	result, err := r.client.Collection(jobLogsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// List returns job logs newest first with pagination. Detail is omitted.
func (r *JobLogRepository) List(ctx context.Context, f JobLogFilter, page, pageSize int) ([]*domain.JobLog, int64, error) {
	filter := bson.M{}
	if f.JobType != "" {
		filter["job_type"] = f.JobType
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Manual != nil {
		filter["manual_bypass"] = *f.Manual
	}

	total, err := r.client.Collection(jobLogsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	skip := (page - 1) * pageSize
	opts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(pageSize)).
		SetSort(bson.M{"started_at": -1}).
		SetProjection(bson.M{"detail": 0})

	cursor, err := r.client.Collection(jobLogsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var logs []*domain.JobLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// FindByID returns one job log with its detail
func (r *JobLogRepository) FindByID(ctx context.Context, id string) (*domain.JobLog, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "job log %s", id)
	}

	var log domain.JobLog
	err = r.client.Collection(jobLogsCollection).FindOne(ctx, bson.M{"_id": objectID}).Decode(&log)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "job log %s", id)
	}
	if err != nil {
		return nil, err
	}

	return &log, nil
}
