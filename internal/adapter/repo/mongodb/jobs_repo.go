package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// JobRepo persists and loads job records from the col_jobs collection.
type JobRepo struct{ col *mongo.Collection }

// NewJobRepo constructs a JobRepo over the given database.
func NewJobRepo(db *mongo.Database) *JobRepo {
	return &JobRepo{col: db.Collection(JobsCollection)}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("op=%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

// Insert writes a freshly admitted job. Method-specific fields follow the
// document shape of the original store: predict jobs start with an empty
// feedback and has_feedback=false, get_feedback jobs carry their window and
// request source.
func (r *JobRepo) Insert(ctx context.Context, j domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Insert")
	defer span.End()
	doc := bson.M{
		"job_id":                  j.ID,
		"model_name":              j.ModelName,
		"method":                  string(j.Method),
		"status":                  string(j.Status),
		"datetime":                j.Datetime,
		"queue_response_time_sec": j.QueueResponseTimeSec,
		"total_response_time_sec": j.TotalResponseTimeSec,
		"response":                j.Response,
	}
	if j.Method == domain.MethodPredict {
		doc["feedback"] = ""
		doc["has_feedback"] = false
	}
	if j.Method == domain.MethodGetFeedback {
		doc["initial_date"] = j.InitialDate
		doc["end_date"] = j.EndDate
		doc["request_source"] = j.RequestSource
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return storeErr("jobs.insert", err)
	}
	return nil
}

// GetByID loads a job by its job_id.
func (r *JobRepo) GetByID(ctx context.Context, jobID string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.GetByID")
	defer span.End()
	var raw bson.M
	if err := r.col.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Job{}, fmt.Errorf("op=jobs.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, storeErr("jobs.get", err)
	}
	return decodeJob(raw), nil
}

// UpdateStatus sets the status of a job; found reports whether a record
// matched the id.
func (r *JobRepo) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	res, err := r.col.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return false, storeErr("jobs.update_status", err)
	}
	return res.MatchedCount > 0, nil
}

// SetResult records the terminal outcome reported by a worker.
func (r *JobRepo) SetResult(ctx context.Context, jobID string, status domain.JobStatus, queueSec, totalSec float64, response any, modelVersion string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetResult")
	defer span.End()
	set := bson.M{
		"status":                  string(status),
		"queue_response_time_sec": queueSec,
		"total_response_time_sec": totalSec,
		"response":                response,
	}
	if modelVersion != "" {
		set["model_version"] = modelVersion
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": set})
	if err != nil {
		return storeErr("jobs.set_result", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("op=jobs.set_result: %w", domain.ErrNotFound)
	}
	return nil
}

// SetFeedback attaches user labels to a predict job and flips has_feedback.
func (r *JobRepo) SetFeedback(ctx context.Context, jobID string, feedback []any) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetFeedback")
	defer span.End()
	res, err := r.col.UpdateOne(ctx, bson.M{"job_id": jobID},
		bson.M{"$set": bson.M{"feedback": feedback, "has_feedback": true}})
	if err != nil {
		return storeErr("jobs.set_feedback", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("op=jobs.set_feedback: %w", domain.ErrNotFound)
	}
	return nil
}

func feedbackFilter(model string, start, end float64) bson.M {
	return bson.M{
		"model_name":   model,
		"method":       string(domain.MethodPredict),
		"status":       string(domain.StatusDone),
		"has_feedback": true,
		"datetime":     bson.M{"$gte": start, "$lt": end},
	}
}

// CountFeedbackJobs counts predict/Done jobs with feedback in [start, end).
func (r *JobRepo) CountFeedbackJobs(ctx context.Context, model string, start, end float64) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountFeedbackJobs")
	defer span.End()
	n, err := r.col.CountDocuments(ctx, feedbackFilter(model, start, end), options.Count().SetHint(idxGetFeedback))
	if err != nil {
		return 0, storeErr("jobs.count_feedback", err)
	}
	return n, nil
}

// CountPredictDone counts all completed predict jobs for a model.
func (r *JobRepo) CountPredictDone(ctx context.Context, model string) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountPredictDone")
	defer span.End()
	filter := bson.M{
		"model_name": model,
		"method":     string(domain.MethodPredict),
		"status":     string(domain.StatusDone),
	}
	n, err := r.col.CountDocuments(ctx, filter, options.Count().SetHint(idxPredictDone))
	if err != nil {
		return 0, storeErr("jobs.count_predict_done", err)
	}
	return n, nil
}

// FeedbackJobs loads feedback jobs in the window, newest first, capped at
// limit records.
func (r *JobRepo) FeedbackJobs(ctx context.Context, model string, start, end float64, limit int64) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FeedbackJobs")
	defer span.End()
	opts := options.Find().
		SetSort(bson.D{{Key: "datetime", Value: -1}}).
		SetLimit(limit).
		SetHint(idxGetFeedback)
	cur, err := r.col.Find(ctx, feedbackFilter(model, start, end), opts)
	if err != nil {
		return nil, storeErr("jobs.feedback_jobs", err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var jobs []domain.Job
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, storeErr("jobs.feedback_jobs", err)
		}
		jobs = append(jobs, decodeJob(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, storeErr("jobs.feedback_jobs", err)
	}
	return jobs, nil
}

func decodeJob(raw bson.M) domain.Job {
	j := domain.Job{
		ID:                   getString(raw["job_id"]),
		ModelName:            getString(raw["model_name"]),
		Method:               domain.Method(getString(raw["method"])),
		Status:               domain.JobStatus(getString(raw["status"])),
		Datetime:             getFloat(raw["datetime"]),
		QueueResponseTimeSec: getFloat(raw["queue_response_time_sec"]),
		TotalResponseTimeSec: getFloat(raw["total_response_time_sec"]),
		Response:             normalizeValue(raw["response"]),
		ModelVersion:         getString(raw["model_version"]),
		InitialDate:          getString(raw["initial_date"]),
		EndDate:              getString(raw["end_date"]),
		RequestSource:        getString(raw["request_source"]),
	}
	if fb, ok := asList(raw["feedback"]); ok {
		j.Feedback = fb
	}
	if b, ok := raw["has_feedback"].(bool); ok {
		j.HasFeedback = b
	}
	return j
}

func getString(v any) string {
	s, _ := v.(string)
	return s
}

func getFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	}
	return 0
}
