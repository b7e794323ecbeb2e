package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
	"github.com/fairyhunter13/ml-serving-stack/internal/model/stub"
)

// fakeGateway records the /attstatus and /retorno calls of one job run.
type fakeGateway struct {
	mu            sync.Mutex
	attBodies     []map[string]any
	results       []Result
	refuseAtt     bool
	breakAttJSON  bool
	refuseMessage string
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/attstatus", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.breakAttJSON {
			_, _ = w.Write([]byte("not json"))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.attBodies = append(g.attBodies, body)
		if g.refuseAtt {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "Error", "response": g.refuseMessage})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "Done", "response": ""})
	})
	mux.HandleFunc("/retorno", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		var res Result
		_ = json.NewDecoder(r.Body).Decode(&res)
		g.results = append(g.results, res)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "Done", "response": ""})
	})
	return mux
}

func newExecutorFixture(t *testing.T, gw *fakeGateway, models map[string]domain.Model) *Executor {
	t.Helper()
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)
	if models == nil {
		models = map[string]domain.Model{"sentiment": stub.New("sentiment")}
	}
	return New(models, NewAPIClient(srv.URL, slog.Default()), slog.Default())
}

func payloadBytes(t *testing.T, p domain.JobPayload) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func predictPayload() domain.JobPayload {
	return domain.JobPayload{
		JobID:     "job-1",
		ModelName: "sentiment",
		Method:    domain.MethodPredict,
		Token:     "Bearer worker-token",
		Datetime:  float64(time.Now().UnixNano())/1e9 - 1,
		Features:  []any{"some text", "other text"},
	}
}

func TestHandlePredict(t *testing.T) {
	gw := &fakeGateway{}
	exec := newExecutorFixture(t, gw, nil)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.attBodies, 1)
	assert.Equal(t, "job-1", gw.attBodies[0]["job_id"])
	assert.Equal(t, "Running", gw.attBodies[0]["newstatus"])

	require.Len(t, gw.results, 1)
	res := gw.results[0]
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.Equal(t, "1.0.0", res.ModelVersion)
	assert.GreaterOrEqual(t, res.QueueResponseTimeSec, 1.0)
	labels, ok := res.Response.([]any)
	require.True(t, ok)
	assert.Len(t, labels, 2)
}

func TestHandleMissingKey(t *testing.T) {
	gw := &fakeGateway{}
	exec := newExecutorFixture(t, gw, nil)

	p := predictPayload()
	p.Features = nil
	exec.Handle(context.Background(), payloadBytes(t, p))

	// The job never reaches Running.
	assert.Empty(t, gw.attBodies)
	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	assert.Equal(t, "Faltou informar esta chave na requisição: 'features'", gw.results[0].Response)
}

func TestHandleModelNotLoaded(t *testing.T) {
	gw := &fakeGateway{}
	exec := newExecutorFixture(t, gw, nil)

	p := predictPayload()
	p.ModelName = "churn"
	exec.Handle(context.Background(), payloadBytes(t, p))

	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	assert.Equal(t, "O modelo 'churn' não foi encontrado!", gw.results[0].Response)
}

func TestHandleStatusRefused(t *testing.T) {
	gw := &fakeGateway{refuseAtt: true, refuseMessage: "Não foi possível encontrar o job job-1"}
	exec := newExecutorFixture(t, gw, nil)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	// The Gateway's own refusal message reaches the client.
	assert.Equal(t, "Não foi possível encontrar o job job-1", gw.results[0].Response)
}

func TestHandleStatusUpdateFailure(t *testing.T) {
	gw := &fakeGateway{breakAttJSON: true}
	exec := newExecutorFixture(t, gw, nil)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	// Transport detail stays out of the client-facing message.
	assert.Equal(t, "Não foi possível atualizar o status do job.", gw.results[0].Response)
}

func TestHandleUndecodableMessage(t *testing.T) {
	gw := &fakeGateway{}
	exec := newExecutorFixture(t, gw, nil)

	exec.Handle(context.Background(), []byte("not json"))

	assert.Empty(t, gw.attBodies)
	assert.Empty(t, gw.results)
}

// faultyModel lets each test pick the model behavior per method.
type faultyModel struct {
	predict func() (any, error)
}

func (f *faultyModel) Predict([]any) (any, error) { return f.predict() }

func (f *faultyModel) Evaluate([]any, []any) (any, error) { return nil, errors.New("unused") }

func (f *faultyModel) GetFeedback([]any, []any) (any, error) { return nil, errors.New("unused") }

func (f *faultyModel) ModelInfo() (any, error) { return nil, errors.New("unused") }

func (f *faultyModel) ModelVersion() (string, error) { return "0.0.1", nil }

func TestHandleModelFault(t *testing.T) {
	gw := &fakeGateway{}
	models := map[string]domain.Model{"sentiment": &faultyModel{
		predict: func() (any, error) { return nil, errors.New("corrupted weights") },
	}}
	exec := newExecutorFixture(t, gw, models)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	assert.Equal(t,
		"O modelo 'sentiment' reportou o seguinte erro ao tentar processar o job: corrupted weights",
		gw.results[0].Response)
}

func TestHandleModelPanic(t *testing.T) {
	gw := &fakeGateway{}
	models := map[string]domain.Model{"sentiment": &faultyModel{
		predict: func() (any, error) { panic("boom") },
	}}
	exec := newExecutorFixture(t, gw, models)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	assert.Contains(t, gw.results[0].Response, "panic: boom")
}

func TestHandleBadReturnType(t *testing.T) {
	gw := &fakeGateway{}
	models := map[string]domain.Model{"sentiment": &faultyModel{
		predict: func() (any, error) { return map[string]any{"oops": true}, nil },
	}}
	exec := newExecutorFixture(t, gw, models)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.results, 1)
	assert.Equal(t, domain.StatusError, gw.results[0].Status)
	assert.Equal(t,
		"O tipo de retorno do método 'predict' está incorreto. Deve ser 'list' ou 'str', mas retornou 'dict'",
		gw.results[0].Response)
}

func TestHandleModelReportedError(t *testing.T) {
	gw := &fakeGateway{}
	models := map[string]domain.Model{"sentiment": &faultyModel{
		predict: func() (any, error) { return "o dataset está corrompido", nil },
	}}
	exec := newExecutorFixture(t, gw, models)

	exec.Handle(context.Background(), payloadBytes(t, predictPayload()))

	require.Len(t, gw.results, 1)
	res := gw.results[0]
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, "o dataset está corrompido", res.Response)
	// Model-reported errors never carry a version.
	assert.Empty(t, res.ModelVersion)
}

func TestHandleGetFeedbackWrapsMetrics(t *testing.T) {
	gw := &fakeGateway{}
	exec := newExecutorFixture(t, gw, nil)

	p := domain.JobPayload{
		JobID:             "job-gf",
		ModelName:         "sentiment",
		Method:            domain.MethodGetFeedback,
		Token:             "Bearer worker-token",
		Datetime:          float64(time.Now().UnixNano())/1e9 - 10,
		DatetimeTempQueue: float64(time.Now().UnixNano())/1e9 - 1,
		YPred:             []any{"positive", "negative"},
		YTrue:             []any{"positive", "positive"},
		APIMetrics: &domain.APIMetrics{
			FeedbackLabelsTypes:  []any{"negative", "positive"},
			QtyComputedLabels:    2,
			TotalJobsHasFeedback: 2,
		},
	}
	exec.Handle(context.Background(), payloadBytes(t, p))

	require.Len(t, gw.results, 1)
	res := gw.results[0]
	assert.Equal(t, domain.StatusDone, res.Status)
	// Queue time is measured from the publish, not the admission.
	assert.Less(t, res.QueueResponseTimeSec, 5.0)

	out, ok := res.Response.(map[string]any)
	require.True(t, ok)
	modelMetrics, ok := out["model_metrics"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.5, modelMetrics["accuracy"], 1e-9)
	apiMetrics, ok := out["api_metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), apiMetrics["qty_computed_labels"])
}

func TestReturnKind(t *testing.T) {
	assert.Equal(t, "NoneType", returnKind(nil))
	assert.Equal(t, "str", returnKind("x"))
	assert.Equal(t, "bool", returnKind(true))
	assert.Equal(t, "int", returnKind(3))
	assert.Equal(t, "float", returnKind(3.5))
	assert.Equal(t, "list", returnKind([]any{1}))
	assert.Equal(t, "dict", returnKind(map[string]any{}))
}

func TestWriteAndReadModelVersions(t *testing.T) {
	models := map[string]domain.Model{
		"sentiment": stub.New("sentiment"),
		"churn":     stub.New("churn"),
	}
	require.NoError(t, WriteModelVersions(models))

	versions, err := ReadModelVersions()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sentiment": "1.0.0", "churn": "1.0.0"}, versions)
}
