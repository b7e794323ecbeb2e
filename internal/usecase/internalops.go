package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// ResultReport is the body a worker POSTs to /retorno when a job finishes.
type ResultReport struct {
	JobID                string
	Status               string
	QueueResponseTimeSec float64
	Response             any
	ModelVersion         string
}

// InternalService backs the worker-facing endpoints /attstatus and /retorno.
type InternalService struct {
	jobs domain.JobRepository
	log  *slog.Logger
	now  func() time.Time
}

// NewInternalService constructs an InternalService.
func NewInternalService(jobs domain.JobRepository, log *slog.Logger) *InternalService {
	return &InternalService{jobs: jobs, log: log, now: time.Now}
}

// UpdateStatus handles /attstatus: a worker marking a job it picked up.
func (s *InternalService) UpdateStatus(ctx context.Context, jobID, newStatus string) error {
	tracer := otel.Tracer("usecase.internal")
	ctx, span := tracer.Start(ctx, "internal.UpdateStatus")
	defer span.End()

	if err := ValidateStatus(newStatus); err != nil {
		return err
	}
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	found, err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatus(newStatus))
	if err != nil {
		s.log.Error("failed to update job status",
			slog.String("job_id", jobID),
			slog.String("new_status", newStatus),
			slog.Any("error", err))
		return envErr(domain.ErrStoreUnavailable,
			"Não foi possível atualizar o status do job %s. Erro na conexão com o banco de dados", jobID)
	}
	if !found {
		return envErr(domain.ErrNotFound, "Não foi possível encontrar o job %s", jobID)
	}
	if domain.JobStatus(newStatus) == domain.StatusRunning {
		observability.JobsRunning.Inc()
	}
	return nil
}

// Report handles /retorno: the worker delivering a terminal result. The total
// response time is measured here against the admission timestamp, so clock
// skew between worker and Gateway never distorts it.
func (s *InternalService) Report(ctx context.Context, rep ResultReport) error {
	tracer := otel.Tracer("usecase.internal")
	ctx, span := tracer.Start(ctx, "internal.Report")
	defer span.End()

	if err := ValidateStatus(rep.Status); err != nil {
		return err
	}
	if err := ValidateJobID(rep.JobID); err != nil {
		return err
	}

	job, err := s.jobs.GetByID(ctx, rep.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Likely an orphan message from an admission whose insert failed;
			// the worker's result is dropped.
			return envErr(domain.ErrNotFound, "Não foi possível encontrar o job %s", rep.JobID)
		}
		return s.storeFailure(rep.JobID, err)
	}

	totalSec := float64(s.now().UnixNano())/1e9 - job.Datetime
	status := domain.JobStatus(rep.Status)
	err = s.jobs.SetResult(ctx, rep.JobID, status, rep.QueueResponseTimeSec, totalSec, rep.Response, rep.ModelVersion)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return envErr(domain.ErrNotFound, "Não foi possível encontrar o job %s", rep.JobID)
		}
		return s.storeFailure(rep.JobID, err)
	}

	observability.JobsRunning.Dec()
	observability.QueueResponseTime.Observe(rep.QueueResponseTimeSec)
	if status == domain.StatusDone {
		observability.JobsCompletedTotal.WithLabelValues(string(job.Method)).Inc()
	} else {
		observability.JobsFailedTotal.WithLabelValues(string(job.Method)).Inc()
	}
	return nil
}

func (s *InternalService) storeFailure(jobID string, err error) error {
	s.log.Error("store failure while saving job result",
		slog.String("job_id", jobID),
		slog.Any("error", err))
	return envErr(domain.ErrStoreUnavailable,
		"Não foi possível salvar o retorno dos dados e atualizar o status do job %s. Falha na conexão com o banco de dados", jobID)
}
