// Package mongodb implements the store adapter over MongoDB.
//
// It persists job records and the queue registry and answers the indexed
// queries behind the aggregate-feedback workflow.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// DatabaseName is the store database shared by every process.
	DatabaseName = "ml_api_db"
	// JobsCollection holds one document per job.
	JobsCollection = "col_jobs"
	// RegistryCollection holds the single queue-registry document.
	RegistryCollection = "col_queue_registry"

	idxJobID       = "idx_jobid"
	idxPredictDone = "idx_jobs_pred_done"
	idxGetFeedback = "idx_getfeedback"
)

// Connect dials the store and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("op=mongo.connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("op=mongo.ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the job-collection indexes; existing indexes with the
// same definition are a no-op on the server side. The get_feedback queries
// pass idx_getfeedback and idx_jobs_pred_done as hints, so their names are
// part of the store contract.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetName(idxJobID),
		},
		{
			Keys: bson.D{
				{Key: "model_name", Value: 1},
				{Key: "method", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName(idxPredictDone),
		},
		{
			Keys: bson.D{
				{Key: "model_name", Value: 1},
				{Key: "method", Value: 1},
				{Key: "status", Value: 1},
				{Key: "has_feedback", Value: 1},
				{Key: "datetime", Value: 1},
			},
			Options: options.Index().SetName(idxGetFeedback),
		},
	}
	if _, err := db.Collection(JobsCollection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("op=mongo.ensure_indexes: %w", err)
	}
	return nil
}
