package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// FeedbackAccepted is the success response of /feedback.
const FeedbackAccepted = "Feedback informado com sucesso"

// FeedbackService attaches user labels to completed predict jobs.
type FeedbackService struct {
	jobs domain.JobRepository
	log  *slog.Logger
}

// NewFeedbackService constructs a FeedbackService.
func NewFeedbackService(jobs domain.JobRepository, log *slog.Logger) *FeedbackService {
	return &FeedbackService{jobs: jobs, log: log}
}

// Submit validates and stores the feedback labels of a job. The label list
// must match the job response pairwise in length and element type; only
// predict jobs in Done accept feedback.
func (s *FeedbackService) Submit(ctx context.Context, jobID string, rawFeedback json.RawMessage, clientHost string) error {
	tracer := otel.Tracer("usecase.feedback")
	ctx, span := tracer.Start(ctx, "feedback.Submit")
	defer span.End()

	feedback, err := DecodeListParam("feedback", "feedback", rawFeedback, true)
	if err != nil {
		s.log.Error("feedback request rejected",
			slog.String("client_host", clientHost),
			slog.String("job_id", jobID),
			slog.Any("error", err))
		return err
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Error("job not found",
				slog.String("client_host", clientHost),
				slog.String("job_id", jobID))
			return envErr(domain.ErrNotFound, "Não foi possível encontrar o job %s", jobID)
		}
		return s.storeFailure(jobID, clientHost, err)
	}

	if job.Method != domain.MethodPredict || job.Status != domain.StatusDone {
		msg := envErr(domain.ErrInvalidArgument,
			"Não foi possível informar o feedback. O job não é do método 'predict' e/ou o status não é 'Done'. Dados do job %s -> Método: %s; Status: %s",
			jobID, job.Method, job.Status)
		s.log.Error("feedback refused",
			slog.String("client_host", clientHost),
			slog.String("job_id", jobID),
			slog.String("method", string(job.Method)),
			slog.String("status", string(job.Status)))
		return msg
	}

	response, ok := job.Response.([]any)
	if !ok || len(feedback) != len(response) {
		s.log.Error("feedback label count mismatch",
			slog.String("client_host", clientHost),
			slog.String("job_id", jobID),
			slog.Int("feedback_len", len(feedback)))
		return envErr(domain.ErrInvalidArgument,
			"Não foi possível informar o feedback do job %s. A quantidade de labels informada no feedback não é a mesma da resposta do job",
			jobID)
	}

	for i := range response {
		ftype := domain.JSONType(feedback[i])
		rtype := domain.JSONType(response[i])
		if ftype != rtype {
			s.log.Error("feedback label type mismatch",
				slog.String("client_host", clientHost),
				slog.String("job_id", jobID),
				slog.Int("position", i))
			return envErr(domain.ErrInvalidArgument,
				"O tipo do label '%v' (posição %d da lista de feedbacks) é '%s', porém é diferente do que foi informado na resposta '%v', que é do tipo '%s'. Verifique se todos os tipos dos labels informados no feedback são iguais aos da resposta do job %s",
				feedback[i], i, ftype, response[i], rtype, jobID)
		}
	}

	if err := s.jobs.SetFeedback(ctx, jobID, feedback); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return envErr(domain.ErrNotFound, "Não foi possível encontrar o job %s", jobID)
		}
		return s.storeFailure(jobID, clientHost, err)
	}
	return nil
}

func (s *FeedbackService) storeFailure(jobID, clientHost string, err error) error {
	s.log.Error("store failure while handling feedback",
		slog.String("client_host", clientHost),
		slog.String("job_id", jobID),
		slog.Any("error", err))
	return envErr(domain.ErrStoreUnavailable,
		"Não foi possível informar o feedback para o job %s. Erro na conexão com o banco de dados", jobID)
}
