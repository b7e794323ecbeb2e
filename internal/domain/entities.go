// Package domain defines the core entities and ports of the ML serving stack.
package domain

import (
	"context"
	"errors"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrNoWorkers         = errors.New("no workers listening")
	ErrInternal          = errors.New("internal error")
)

// JobStatus is the lifecycle state of a job.
// Transitions are monotonic along Queued -> Running -> {Done, Error}.
type JobStatus string

const (
	StatusQueued  JobStatus = "Queued"
	StatusRunning JobStatus = "Running"
	StatusDone    JobStatus = "Done"
	StatusError   JobStatus = "Error"
)

// Valid reports whether s is one of the four known statuses (case sensitive).
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusDone, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool { return s == StatusDone || s == StatusError }

// Method is the operation a job performs against a model.
type Method string

const (
	MethodPredict     Method = "predict"
	MethodEvaluate    Method = "evaluate"
	MethodInfo        Method = "info"
	MethodGetFeedback Method = "get_feedback"
)

// InferenceMethods are the methods accepted by the /inference endpoint.
var InferenceMethods = []Method{MethodPredict, MethodEvaluate, MethodInfo}

// Job is the persistent record tracking one client request through the
// pipeline. Response holds a list, string or mapping depending on method and
// outcome; it is meaningful only once the status is terminal.
type Job struct {
	ID                   string
	ModelName            string
	Method               Method
	Status               JobStatus
	Datetime             float64 // epoch seconds at admission
	QueueResponseTimeSec float64 // -1 until the worker picks the job up
	TotalResponseTimeSec float64 // -1 until terminal
	Response             any
	ModelVersion         string

	// predict only
	Feedback    []any
	HasFeedback bool

	// get_feedback only
	InitialDate   string
	EndDate       string
	RequestSource string
}

// JobRepository persists and loads job records.
type JobRepository interface {
	Insert(ctx context.Context, j Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	// UpdateStatus sets the status of a job; found reports whether a record
	// matched the id.
	UpdateStatus(ctx context.Context, jobID string, status JobStatus) (found bool, err error)
	// SetResult records the terminal outcome reported by a worker.
	SetResult(ctx context.Context, jobID string, status JobStatus, queueSec, totalSec float64, response any, modelVersion string) error
	SetFeedback(ctx context.Context, jobID string, feedback []any) error
	CountFeedbackJobs(ctx context.Context, model string, start, end float64) (int64, error)
	CountPredictDone(ctx context.Context, model string) (int64, error)
	// FeedbackJobs returns predict/Done/has_feedback jobs in [start, end)
	// ordered by datetime descending, at most limit records.
	FeedbackJobs(ctx context.Context, model string, start, end float64, limit int64) ([]Job, error)
}

// RegistryRepository persists the queue registry, a single document mapping
// model_name to worker_id.
type RegistryRepository interface {
	// Ensure loads the registry, creating an empty one if absent.
	Ensure(ctx context.Context) (map[string]string, error)
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, reg map[string]string) error
}

// Publisher delivers a serialized job to the queue owned by a worker.
// Implementations return ErrNoWorkers when the worker queue does not exist
// and ErrBrokerUnavailable when the broker cannot be reached.
type Publisher interface {
	Publish(ctx context.Context, workerID string, body []byte) error
}

// Model is the user-supplied runtime a worker executes jobs against.
// Predict must return a list or a string, Evaluate/GetFeedback/Info a mapping
// or a string; a string return signals a model-reported error. The Executor
// enforces these contracts and never trusts model code.
type Model interface {
	Predict(dataset []any) (any, error)
	Evaluate(features, targets []any) (any, error)
	GetFeedback(yPred, yTrue []any) (any, error)
	ModelInfo() (any, error)
	ModelVersion() (string, error)
}

// JobPayload is the wire message published to a worker queue.
type JobPayload struct {
	JobID     string  `json:"job_id"`
	ModelName string  `json:"model_name"`
	Method    Method  `json:"method"`
	Token     string  `json:"token"`
	Datetime  float64 `json:"datetime"`

	Features []any `json:"features,omitempty"`
	Targets  []any `json:"targets,omitempty"`

	// get_feedback only
	InitialDate       string      `json:"initial_date,omitempty"`
	EndDate           string      `json:"end_date,omitempty"`
	DatetimeTempQueue float64     `json:"datetime_temp_queue,omitempty"`
	YPred             []any       `json:"y_pred,omitempty"`
	YTrue             []any       `json:"y_true,omitempty"`
	APIMetrics        *APIMetrics `json:"api_metrics,omitempty"`
}

// APIMetrics summarizes the aggregate-feedback dataset assembled by the
// Gateway; the worker passes it through unchanged next to the model metrics.
type APIMetrics struct {
	FeedbackLabelsTypes       []any  `json:"feedback_labels_types"`
	QtyComputedLabels         int    `json:"qty_computed_labels"`
	TotalJobsPredictDone      int64  `json:"total_jobs_predict_done"`
	TotalJobsHasFeedback      int64  `json:"total_jobs_has_feedback"`
	TotalJobsComputedFeedback int    `json:"total_jobs_computed_feedback"`
	AdditionalInfo            string `json:"additional_info"`
}
