package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

const (
	dateLayout = "02/01/2006"

	// modelFeedbackInterval and globalFeedbackInterval throttle aggregate
	// feedback requests so one client cannot monopolize the store.
	modelFeedbackInterval  = 1800 * time.Second
	globalFeedbackInterval = 120 * time.Second

	maxFeedbackWindowDays = 90
	maxFeedbackJobs       = 30000
	maxFeedbackLabels     = 30000
)

// FeedbackAggregator builds get_feedback jobs: it gathers the labels of every
// predict job with feedback in a date window and ships them to the model's
// worker together with store-level statistics.
//
// The throttle state is per Gateway instance; with several instances behind a
// balancer the effective interval shortens proportionally, which is accepted.
type FeedbackAggregator struct {
	jobs        domain.JobRepository
	registry    *RegistryCache
	queue       domain.Publisher
	workerToken string
	log         *slog.Logger
	now         func() time.Time

	mu         sync.Mutex
	nextGlobal float64
	nextModel  map[string]float64
}

// NewFeedbackAggregator wires the aggregate-feedback dependencies.
func NewFeedbackAggregator(jobs domain.JobRepository, registry *RegistryCache, queue domain.Publisher, workerToken string, log *slog.Logger) *FeedbackAggregator {
	return &FeedbackAggregator{
		jobs:        jobs,
		registry:    registry,
		queue:       queue,
		workerToken: workerToken,
		log:         log,
		now:         time.Now,
		nextGlobal:  -1,
		nextModel:   map[string]float64{},
	}
}

// Request admits a get_feedback job for the model over [initialDate, endDate]
// (inclusive, dd/mm/yyyy).
func (a *FeedbackAggregator) Request(ctx context.Context, model, initialDate, endDate, clientHost, clientKey string) (domain.Job, error) {
	tracer := otel.Tracer("usecase.getfeedback")
	ctx, span := tracer.Start(ctx, "getfeedback.Request")
	defer span.End()

	workerID, ok := a.registry.Lookup(ctx, model)
	if !ok {
		a.log.Error("model not registered",
			slog.String("client_host", clientHost),
			slog.String("model", model))
		return domain.Job{}, envErr(domain.ErrNotFound, "O modelo não foi encontrado!")
	}

	if err := a.checkThrottle(model, clientHost); err != nil {
		return domain.Job{}, err
	}

	// Taken before the store queries so the recorded admission time covers
	// the aggregation work as well.
	timestamp := a.epochNow()

	start, endPlusDay, err := a.parseWindow(initialDate, endDate)
	if err != nil {
		return domain.Job{}, err
	}

	totalHasFeedback, err := a.jobs.CountFeedbackJobs(ctx, model, start, endPlusDay)
	if err != nil {
		return domain.Job{}, a.storeFailure(model, clientHost, err)
	}

	if totalHasFeedback == 0 {
		a.armThrottle(model)
		return domain.Job{}, envErr(domain.ErrNotFound,
			"Não foram encontrados jobs com feedback entre as datas %s e %s. Escolha outro intervalo de datas e consulte novamente após 30 minutos",
			initialDate, endDate)
	}
	// The job count assumes one label per job; single-day windows are exempt
	// because they cannot be narrowed further. The label cap below is the
	// actual limit either way.
	if totalHasFeedback > maxFeedbackJobs && initialDate != endDate {
		a.armThrottle(model)
		return domain.Job{}, envErr(domain.ErrInvalidArgument,
			"Foram encontrados %d jobs com feedback entre as datas %s e %s. Esta quantidade de jobs ultrapassou a quantidade máxima (%d) permitida para a consulta de feedback. Escolha um intervalo menor entre datas e consulte novamente após 30 minutos",
			totalHasFeedback, initialDate, endDate, maxFeedbackJobs)
	}

	totalPredictDone, err := a.jobs.CountPredictDone(ctx, model)
	if err != nil {
		return domain.Job{}, a.storeFailure(model, clientHost, err)
	}
	docs, err := a.jobs.FeedbackJobs(ctx, model, start, endPlusDay, maxFeedbackJobs)
	if err != nil {
		return domain.Job{}, a.storeFailure(model, clientHost, err)
	}
	a.armThrottle(model)

	yPred, yTrue, computedJobs := concatLabels(docs)
	observability.FeedbackLabelsComputed.Observe(float64(len(yPred)))

	metrics := buildAPIMetrics(yPred, yTrue, computedJobs, totalPredictDone, totalHasFeedback)

	jobID := GenerateJobID(clientKey)
	payload := domain.JobPayload{
		JobID:             jobID,
		ModelName:         model,
		Method:            domain.MethodGetFeedback,
		Token:             "Bearer " + a.workerToken,
		Datetime:          timestamp,
		InitialDate:       initialDate,
		EndDate:           endDate,
		DatetimeTempQueue: a.epochNow(),
		YPred:             yPred,
		YTrue:             yTrue,
		APIMetrics:        &metrics,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, envErr(domain.ErrInternal, "Não foi possível gerar o job")
	}
	if err := publishToWorker(ctx, a.queue, a.log, workerID, model, clientHost, body); err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:                   jobID,
		ModelName:            model,
		Method:               domain.MethodGetFeedback,
		Status:               domain.StatusQueued,
		Datetime:             timestamp,
		QueueResponseTimeSec: -1,
		TotalResponseTimeSec: -1,
		Response:             "",
		InitialDate:          initialDate,
		EndDate:              endDate,
		RequestSource:        clientHost,
	}
	if err := a.jobs.Insert(ctx, job); err != nil {
		a.log.Error("failed to persist get_feedback job",
			slog.String("client_host", clientHost),
			slog.String("job_id", jobID),
			slog.Any("error", err))
		return domain.Job{}, envErr(domain.ErrStoreUnavailable,
			"Não foi possível gerar o job. Erro na conexão com o banco de dados")
	}

	observability.JobsEnqueuedTotal.WithLabelValues(string(domain.MethodGetFeedback)).Inc()
	a.log.Info("aggregate feedback admitted",
		slog.String("model", model),
		slog.String("client_host", clientHost),
		slog.String("job_id", jobID))
	return job, nil
}

func (a *FeedbackAggregator) epochNow() float64 {
	return float64(a.now().UnixNano()) / 1e9
}

// checkThrottle rejects requests inside the per-model or global interval. The
// reported retry timestamp is one second past the boundary.
func (a *FeedbackAggregator) checkThrottle(model, clientHost string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	nowEpoch := a.epochNow()

	if next, ok := a.nextModel[model]; ok && next > nowEpoch {
		a.log.Error("model feedback interval not respected",
			slog.String("client_host", clientHost),
			slog.String("model", model))
		return rateLimitErr(next+1,
			"O intervalo entre feedbacks deste modelo não foi respeitado. O próximo feedback poderá ser solicitado %s",
			retryHint(next))
	}
	if a.nextGlobal > nowEpoch {
		a.log.Error("global feedback interval not respected",
			slog.String("client_host", clientHost),
			slog.String("model", model))
		return rateLimitErr(a.nextGlobal+1,
			"O intervalo global de 2 minutos entre feedbacks não foi respeitado. O próximo feedback poderá ser solicitado %s",
			retryHint(a.nextGlobal))
	}
	return nil
}

// armThrottle starts the intervals after the store has been consulted; date
// validation failures never arm it.
func (a *FeedbackAggregator) armThrottle(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextModel[model] = a.epochNow() + modelFeedbackInterval.Seconds()
	a.nextGlobal = a.epochNow() + globalFeedbackInterval.Seconds()
}

func retryHint(epoch float64) string {
	t := time.Unix(int64(epoch), 0)
	return t.Format("dia 02/01/2006 a partir das 15:04:05 hs")
}

// parseWindow validates the inclusive date window and returns its epoch
// bounds; the end bound is advanced one day so the whole end date is covered.
func (a *FeedbackAggregator) parseWindow(initialDate, endDate string) (start, endPlusDay float64, err error) {
	startT, err := time.ParseInLocation(dateLayout, initialDate, time.Local)
	if err != nil {
		return 0, 0, envErr(domain.ErrInvalidArgument, "A data inicial está inconsistente. Erro reportado: %v", err)
	}
	endT, err := time.ParseInLocation(dateLayout, endDate, time.Local)
	if err != nil {
		return 0, 0, envErr(domain.ErrInvalidArgument, "A data final está inconsistente. Erro reportado: %v", err)
	}
	start = float64(startT.Unix())
	end := float64(endT.Unix())
	endPlusDay = end + 86400

	if start > end {
		return 0, 0, envErr(domain.ErrInvalidArgument,
			"A data inicial %s é maior que a data final %s", initialDate, endDate)
	}
	intervalDays := int((endPlusDay - start) / 86400)
	if intervalDays > maxFeedbackWindowDays {
		return 0, 0, envErr(domain.ErrInvalidArgument,
			"O intervalo entre as datas %s e %s é de %d dias, porém o intervalo máximo permitido para consulta do feedback é de %d dias",
			initialDate, endDate, intervalDays-1, maxFeedbackWindowDays)
	}
	return start, endPlusDay, nil
}

func (a *FeedbackAggregator) storeFailure(model, clientHost string, err error) error {
	a.log.Error("store failure while aggregating feedback",
		slog.String("client_host", clientHost),
		slog.String("model", model),
		slog.Any("error", err))
	return envErr(domain.ErrStoreUnavailable,
		"Erro ao tentar obter os jobs para realizar o feedback do modelo %s. Falha na conexão com o banco de dados", model)
}

// concatLabels flattens job responses into y_pred and feedbacks into y_true,
// stopping before the label cap would be crossed. A predict job can carry
// several labels, so the cap may be hit with fewer jobs than the window holds.
func concatLabels(docs []domain.Job) (yPred, yTrue []any, computedJobs int) {
	yPred = []any{}
	yTrue = []any{}
	labels := 0
	for _, doc := range docs {
		resp, ok := doc.Response.([]any)
		if !ok {
			continue
		}
		if labels+len(resp) > maxFeedbackLabels {
			break
		}
		yPred = append(yPred, resp...)
		yTrue = append(yTrue, doc.Feedback...)
		labels += len(resp)
		computedJobs++
	}
	return yPred, yTrue, computedJobs
}

func buildAPIMetrics(yPred, yTrue []any, computedJobs int, totalPredictDone, totalHasFeedback int64) domain.APIMetrics {
	m := domain.APIMetrics{
		FeedbackLabelsTypes:       distinctLabels(yTrue),
		QtyComputedLabels:         len(yPred),
		TotalJobsPredictDone:      totalPredictDone,
		TotalJobsHasFeedback:      totalHasFeedback,
		TotalJobsComputedFeedback: computedJobs,
	}

	addInfo := ""
	if int64(computedJobs) != totalHasFeedback && totalHasFeedback > 0 {
		leftOut := totalHasFeedback - int64(computedJobs)
		pct := float64(leftOut) / float64(totalHasFeedback) * 100
		addInfo += fmt.Sprintf(
			"Nem todos os jobs que possuem feedback foram processados, pois a quantidade máxima de labels (%d) por feedback foi alcançada. Foram deixados %d jobs de fora do feedback, perfazendo %.2f%% dos jobs que tem feedback. ",
			maxFeedbackLabels, leftOut, pct)
	}
	if totalPredictDone > 0 {
		pct := float64(totalHasFeedback) / float64(totalPredictDone) * 100
		addInfo += fmt.Sprintf(
			"Dos %d jobs do método 'predict' que estão com o status 'Done' (concluídos), %d receberam feedback do usuário, perfazendo %.2f%% do total de jobs de 'predict' concluídos",
			totalPredictDone, totalHasFeedback, pct)
	}
	m.AdditionalInfo = addInfo
	return m
}

// distinctLabels returns the unique feedback labels, sorted when the labels
// are mutually comparable (all strings or all numbers), otherwise in
// first-seen order. Labels that cannot be map keys (lists, mappings) are
// skipped.
func distinctLabels(yTrue []any) []any {
	seen := map[any]struct{}{}
	out := []any{}
	for _, v := range yTrue {
		if v != nil && !reflect.TypeOf(v).Comparable() {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	allStr, allNum := true, true
	for _, v := range out {
		switch v.(type) {
		case string:
			allNum = false
		case float64:
			allStr = false
		default:
			allStr, allNum = false, false
		}
	}
	switch {
	case allStr && len(out) > 0:
		sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
	case allNum && len(out) > 0:
		sort.Slice(out, func(i, j int) bool { return out[i].(float64) < out[j].(float64) })
	}
	return out
}
