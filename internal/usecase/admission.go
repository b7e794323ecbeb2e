package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
	"github.com/fairyhunter13/ml-serving-stack/internal/health"
)

// InferenceInput is an /inference request after transport decoding. Features
// and Targets stay raw so validation can distinguish absent, mistyped and
// oversized lists.
type InferenceInput struct {
	ModelName string
	Method    string
	Features  json.RawMessage
	Targets   json.RawMessage

	// ClientHost and ClientKey derive from the remote address; the key only
	// diversifies the job id hash.
	ClientHost string
	ClientKey  string
}

// AdmissionService validates inference requests, enqueues them for the owning
// worker and persists the Queued job record.
type AdmissionService struct {
	jobs        domain.JobRepository
	registry    *RegistryCache
	queue       domain.Publisher
	workerToken string
	log         *slog.Logger
	now         func() time.Time
}

// NewAdmissionService wires the admission dependencies. workerToken is
// embedded in each queued payload so the worker can call back the internal
// endpoints.
func NewAdmissionService(jobs domain.JobRepository, registry *RegistryCache, queue domain.Publisher, workerToken string, log *slog.Logger) *AdmissionService {
	return &AdmissionService{
		jobs:        jobs,
		registry:    registry,
		queue:       queue,
		workerToken: workerToken,
		log:         log,
		now:         time.Now,
	}
}

// Admit runs the full admission pipeline for /inference and returns the
// admitted job. Publish happens before the insert; an insert failure leaves
// an orphan message that the worker will process and discard on /retorno.
func (s *AdmissionService) Admit(ctx context.Context, in InferenceInput) (domain.Job, error) {
	tracer := otel.Tracer("usecase.admission")
	ctx, span := tracer.Start(ctx, "admission.Admit")
	defer span.End()

	workerID, ok := s.registry.Lookup(ctx, in.ModelName)
	if !ok {
		s.log.Error("model not registered",
			slog.String("client_host", in.ClientHost),
			slog.String("model", in.ModelName))
		return domain.Job{}, envErr(domain.ErrNotFound, "O modelo não foi encontrado!")
	}

	method := domain.Method(in.Method)
	features, targets, err := s.validate(in)
	if err != nil {
		s.log.Error("inference request rejected",
			slog.String("client_host", in.ClientHost),
			slog.String("model", in.ModelName),
			slog.Any("error", err))
		return domain.Job{}, err
	}

	jobID := GenerateJobID(in.ClientKey)
	timestamp := float64(s.now().UnixNano()) / 1e9

	payload := domain.JobPayload{
		JobID:     jobID,
		ModelName: in.ModelName,
		Method:    method,
		Token:     "Bearer " + s.workerToken,
		Datetime:  timestamp,
		Features:  features,
		Targets:   targets,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, envErr(domain.ErrInternal, "Não foi possível gerar o job")
	}

	if err := publishToWorker(ctx, s.queue, s.log, workerID, in.ModelName, in.ClientHost, body); err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:                   jobID,
		ModelName:            in.ModelName,
		Method:               method,
		Status:               domain.StatusQueued,
		Datetime:             timestamp,
		QueueResponseTimeSec: -1,
		TotalResponseTimeSec: -1,
		Response:             "",
	}
	if err := s.jobs.Insert(ctx, job); err != nil {
		// The queued message is now an orphan; the worker will run it and the
		// result will be dropped when /retorno finds no record.
		s.log.Error("failed to persist admitted job",
			slog.String("client_host", in.ClientHost),
			slog.String("job_id", jobID),
			slog.Any("error", err))
		return domain.Job{}, envErr(domain.ErrStoreUnavailable,
			"Não foi possível gerar o job. Erro na conexão com o banco de dados")
	}

	observability.JobsEnqueuedTotal.WithLabelValues(string(method)).Inc()
	return job, nil
}

func (s *AdmissionService) validate(in InferenceInput) (features, targets []any, err error) {
	if err := ValidateInferenceMethod(in.Method); err != nil {
		return nil, nil, err
	}
	method := domain.Method(in.Method)
	needsFeatures := method == domain.MethodPredict || method == domain.MethodEvaluate

	features, err = DecodeListParam("features", in.Method, in.Features, needsFeatures)
	if err != nil {
		return nil, nil, err
	}
	targets, err = DecodeListParam("targets", in.Method, in.Targets, method == domain.MethodEvaluate)
	if err != nil {
		return nil, nil, err
	}
	if method == domain.MethodEvaluate && len(features) != len(targets) {
		return nil, nil, envErr(domain.ErrInvalidArgument,
			"Os parâmetros 'features' e 'targets' do método '%s' devem ter a mesma quantidade de elementos", in.Method)
	}
	return features, targets, nil
}

// publishToWorker delivers the payload to the worker queue, translating
// broker failures into client-facing messages.
func publishToWorker(ctx context.Context, queue domain.Publisher, log *slog.Logger, workerID, modelName, clientHost string, body []byte) error {
	err := queue.Publish(ctx, workerID, body)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNoWorkers) {
		log.Error("no workers listening on queue",
			slog.String("client_host", clientHost),
			slog.String("queue", workerID),
			slog.String("model", modelName))
		return envErr(domain.ErrNoWorkers,
			"Não foi possível enviar o job para a fila porque não há workers para processá-lo. Verifique se o modelo '%s' está em produção.",
			modelName)
	}
	observability.BrokerPublishFailures.Inc()
	// A connection-level broker failure flags the whole container unhealthy.
	health.WriteSentinel()
	log.Error("broker publish failed",
		slog.String("client_host", clientHost),
		slog.String("queue", workerID),
		slog.String("model", modelName),
		slog.Any("error", err))
	return envErr(domain.ErrBrokerUnavailable,
		"Não foi possível enviar o job para a fila. Falha ao tentar conectar no servidor de filas")
}
