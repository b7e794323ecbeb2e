package usecase

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// StatusService answers /status polls.
type StatusService struct {
	jobs domain.JobRepository
	log  *slog.Logger
}

// NewStatusService constructs a StatusService.
func NewStatusService(jobs domain.JobRepository, log *slog.Logger) *StatusService {
	return &StatusService{jobs: jobs, log: log}
}

// Get loads the full job record for a client poll.
func (s *StatusService) Get(ctx context.Context, jobID, clientHost string) (domain.Job, error) {
	tracer := otel.Tracer("usecase.status")
	ctx, span := tracer.Start(ctx, "status.Get")
	defer span.End()

	if err := ValidateJobID(jobID); err != nil {
		return domain.Job{}, err
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Error("job not found",
				slog.String("client_host", clientHost),
				slog.String("job_id", jobID))
			return domain.Job{}, envErr(domain.ErrNotFound, "Não foi possível encontrar o job %s", jobID)
		}
		s.log.Error("failed to load job",
			slog.String("client_host", clientHost),
			slog.String("job_id", jobID),
			slog.Any("error", err))
		return domain.Job{}, envErr(domain.ErrStoreUnavailable,
			"Não foi possível obter o status do job %s. Erro na conexão com o banco de dados", jobID)
	}
	return job, nil
}
