package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// Executor runs queued jobs against the models this worker owns. It never
// trusts model code: return types are enforced, panics are captured, and the
// result is always reported back so jobs cannot hang in Running.
type Executor struct {
	models map[string]domain.Model
	api    *APIClient
	log    *slog.Logger
	now    func() time.Time
}

// New constructs an Executor over the instantiated models.
func New(models map[string]domain.Model, api *APIClient, log *slog.Logger) *Executor {
	return &Executor{models: models, api: api, log: log, now: time.Now}
}

// Handle processes one queue message end to end. It satisfies the consumer's
// HandlerFunc; the caller acknowledges the delivery after it returns.
func (e *Executor) Handle(ctx context.Context, body []byte) {
	var msg domain.JobPayload
	if err := json.Unmarshal(body, &msg); err != nil {
		e.log.Error("discarding undecodable message", slog.Any("error", err))
		return
	}

	// Queue time excludes the Gateway-side aggregation that precedes the
	// publish of a get_feedback job.
	admitted := msg.Datetime
	if msg.Method == domain.MethodGetFeedback {
		admitted = msg.DatetimeTempQueue
	}
	queueSec := float64(e.now().UnixNano())/1e9 - admitted
	observability.QueueResponseTime.Observe(queueSec)

	jobID := msg.JobID
	if jobID == "" {
		jobID = "n/a"
	}

	res := Result{JobID: jobID, QueueResponseTimeSec: queueSec}
	if missing := missingKey(msg); missing != "" {
		res.Status = domain.StatusError
		res.Response = fmt.Sprintf("Faltou informar esta chave na requisição: '%s'", missing)
		e.log.Error("message missing required key",
			slog.String("job_id", jobID),
			slog.String("key", missing))
		e.api.ReportResult(ctx, msg.Token, res)
		return
	}

	if ok := e.markRunning(ctx, &msg, &res); ok {
		e.runModel(ctx, &msg, &res)
	}
	e.api.ReportResult(ctx, msg.Token, res)
}

// markRunning flips the job to Running before the model call; a refusal from
// the Gateway aborts the job with the Gateway's own message.
func (e *Executor) markRunning(ctx context.Context, msg *domain.JobPayload, res *Result) bool {
	resp, err := e.api.UpdateStatus(ctx, msg.Token, msg.JobID, domain.StatusRunning)
	if err != nil {
		// The transport error stays in the log; the client only learns the
		// status update failed.
		e.log.Error("could not update job status",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err))
		res.Status = domain.StatusError
		res.Response = "Não foi possível atualizar o status do job."
		return false
	}
	if resp.Status != string(domain.StatusDone) {
		e.log.Error("status update refused",
			slog.String("job_id", msg.JobID),
			slog.Any("response", resp.Response))
		res.Status = domain.StatusError
		res.Response = resp.Response
		return false
	}
	return true
}

// runModel dispatches the job to its model and fills res with the outcome.
func (e *Executor) runModel(ctx context.Context, msg *domain.JobPayload, res *Result) {
	model, ok := e.models[msg.ModelName]
	if !ok {
		res.Status = domain.StatusError
		res.Response = fmt.Sprintf("O modelo '%s' não foi encontrado!", msg.ModelName)
		e.log.Error("model not loaded on this worker",
			slog.String("job_id", msg.JobID),
			slog.String("model", msg.ModelName))
		return
	}

	observability.JobsRunning.Inc()
	defer observability.JobsRunning.Dec()

	out, err := e.dispatch(model, msg)
	if err != nil {
		// Model faults are surfaced to the client to ease diagnosis.
		res.Status = domain.StatusError
		res.Response = fmt.Sprintf(
			"O modelo '%s' reportou o seguinte erro ao tentar processar o job: %v", msg.ModelName, err)
		e.log.Error("model fault",
			slog.String("job_id", msg.JobID),
			slog.String("model", msg.ModelName),
			slog.Any("error", err))
		observability.JobsFailedTotal.WithLabelValues(string(msg.Method)).Inc()
		return
	}

	if diag := checkReturnType(msg.Method, out); diag != "" {
		res.Status = domain.StatusError
		res.Response = diag
		observability.JobsFailedTotal.WithLabelValues(string(msg.Method)).Inc()
		return
	}

	// A string return is the model reporting its own error.
	if errText, isStr := out.(string); isStr {
		res.Status = domain.StatusError
		res.Response = errText
		observability.JobsFailedTotal.WithLabelValues(string(msg.Method)).Inc()
		return
	}

	version, err := model.ModelVersion()
	if err != nil {
		res.Status = domain.StatusError
		res.Response = fmt.Sprintf(
			"O modelo '%s' reportou o seguinte erro ao tentar processar o job: %v", msg.ModelName, err)
		observability.JobsFailedTotal.WithLabelValues(string(msg.Method)).Inc()
		return
	}

	if msg.Method == domain.MethodGetFeedback {
		// Keep the store-level statistics next to, but separate from, the
		// metrics computed by the model.
		out = map[string]any{
			"model_metrics": out,
			"api_metrics":   msg.APIMetrics,
		}
	}

	res.Status = domain.StatusDone
	res.Response = out
	res.ModelVersion = version
	observability.JobsCompletedTotal.WithLabelValues(string(msg.Method)).Inc()
}

// dispatch calls the model method for the message, converting panics in user
// code into ordinary errors.
func (e *Executor) dispatch(model domain.Model, msg *domain.JobPayload) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	switch msg.Method {
	case domain.MethodPredict:
		return model.Predict(msg.Features)
	case domain.MethodEvaluate:
		return model.Evaluate(msg.Features, msg.Targets)
	case domain.MethodGetFeedback:
		return model.GetFeedback(msg.YPred, msg.YTrue)
	case domain.MethodInfo:
		return model.ModelInfo()
	default:
		return nil, fmt.Errorf("método desconhecido: %q", msg.Method)
	}
}

// missingKey reports the first required payload key that is absent, following
// the per-method field contract of the queue message.
func missingKey(msg domain.JobPayload) string {
	switch {
	case msg.JobID == "":
		return "job_id"
	case msg.ModelName == "":
		return "model_name"
	case msg.Method == "":
		return "method"
	case msg.Token == "":
		return "token"
	}
	switch msg.Method {
	case domain.MethodPredict:
		if msg.Features == nil {
			return "features"
		}
	case domain.MethodEvaluate:
		if msg.Features == nil {
			return "features"
		}
		if msg.Targets == nil {
			return "targets"
		}
	case domain.MethodGetFeedback:
		if msg.YPred == nil {
			return "y_pred"
		}
		if msg.YTrue == nil {
			return "y_true"
		}
	}
	return ""
}

// checkReturnType enforces the per-method return contract; the returned
// diagnostic is empty when the value is acceptable.
func checkReturnType(method domain.Method, out any) string {
	kind := returnKind(out)
	switch method {
	case domain.MethodPredict:
		if kind != "list" && kind != "str" {
			return fmt.Sprintf(
				"O tipo de retorno do método 'predict' está incorreto. Deve ser 'list' ou 'str', mas retornou '%s'", kind)
		}
	case domain.MethodEvaluate:
		if kind != "dict" && kind != "str" {
			return fmt.Sprintf(
				"O tipo de retorno do método 'evaluate' está incorreto. Deve ser 'dict' ou 'str', mas retornou '%s'", kind)
		}
	case domain.MethodGetFeedback:
		if kind != "dict" && kind != "str" {
			return fmt.Sprintf(
				"O tipo de retorno do método 'get_feedback' está incorreto. Deve ser 'dict' ou 'str', mas retornou '%s'", kind)
		}
	case domain.MethodInfo:
		if kind != "dict" && kind != "str" {
			return fmt.Sprintf(
				"O tipo de retorno do método 'get_model_info' está incorreto. Deve ser 'dict' ou 'str', mas retornou '%s'", kind)
		}
	}
	return ""
}

// returnKind classifies a model return value the way clients see it after
// JSON encoding.
func returnKind(v any) string {
	if v == nil {
		return "NoneType"
	}
	switch v.(type) {
	case string:
		return "str"
	case bool:
		return "bool"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "float"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}
