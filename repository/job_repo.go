package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type jobRepo struct {
	collection  *mongo.Collection
	maxAttempts int
}

// NewJobRepo wraps the ocr_jobs collection. Claims rely on the atomicity of
// findOneAndUpdate: a claimed job stays invisible until its lease expires.
func NewJobRepo(db *mongo.Database, maxAttempts int) database.JobQueue {
	collection := db.Collection("ocr_jobs")
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "lease_until", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "firm_id", Value: 1},
				{Key: "document_id", Value: 1},
			},
		},
	}
	if _, err := collection.Indexes().CreateMany(context.Background(), indexes); err != nil {
		slog.Warn("failed to create job indexes", "error", err)
	}
	return &jobRepo{collection: collection, maxAttempts: maxAttempts}
}

func (r *jobRepo) Enqueue(ctx context.Context, job *types.OCRJob) error {
	now := time.Now().Unix()
	job.Status = types.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.MaxAttempts == 0 {
		job.MaxAttempts = r.maxAttempts
	}
	_, err := r.collection.InsertOne(ctx, job)
	return err
}

// ClaimNext atomically flips the oldest claimable job to processing and
// stamps its lease. Returns database.ErrNotFound when the queue is drained.
func (r *jobRepo) ClaimNext(ctx context.Context, lease time.Duration) (*types.OCRJob, error) {
	now := time.Now().Unix()
	filter := bson.M{
		"status":      bson.M{"$in": []string{types.JobStatusPending, types.JobStatusProcessing}},
		"lease_until": bson.M{"$lte": now},
		"$expr":       bson.M{"$lt": []interface{}{"$attempts", "$max_attempts"}},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      types.JobStatusProcessing,
			"lease_until": now + int64(lease/time.Second),
			"updated_at":  now,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var job types.OCRJob
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) Complete(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, bson.M{
		"status":     types.JobStatusCompleted,
		"last_error": "",
	})
}

// Fail requeues the job after retryIn, or marks it failed for good when
// retryIn is negative.
func (r *jobRepo) Fail(ctx context.Context, id string, cause string, retryIn time.Duration) error {
	now := time.Now().Unix()
	set := bson.M{"last_error": cause}
	if retryIn < 0 {
		set["status"] = types.JobStatusFailed
	} else {
		set["status"] = types.JobStatusPending
		set["lease_until"] = now + int64(retryIn/time.Second)
	}
	return r.setStatus(ctx, id, set)
}

func (r *jobRepo) setStatus(ctx context.Context, id string, fields bson.M) error {
	fields["updated_at"] = time.Now().Unix()
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}
