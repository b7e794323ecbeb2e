package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

func newAdmissionFixture(t *testing.T) (*AdmissionService, *fakeJobRepo, *fakePublisher) {
	t.Helper()
	jobs := newFakeJobRepo()
	registryRepo := newFakeRegistryRepo(map[string]string{"sentiment": "worker-1"})
	registry := NewRegistryCache(registryRepo, 300*time.Second, testLogger())
	require.NoError(t, registry.Bootstrap(context.Background()))
	pub := &fakePublisher{}
	svc := NewAdmissionService(jobs, registry, pub, "worker-token", testLogger())
	return svc, jobs, pub
}

func predictInput() InferenceInput {
	return InferenceInput{
		ModelName:  "sentiment",
		Method:     "predict",
		Features:   json.RawMessage(`["some text"]`),
		ClientHost: "10.0.0.1",
		ClientKey:  "IP_10.0.0.1:4242",
	}
}

func TestAdmitPredict(t *testing.T) {
	svc, jobs, pub := newAdmissionFixture(t)

	job, err := svc.Admit(context.Background(), predictInput())
	require.NoError(t, err)

	assert.Len(t, job.ID, 64)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, float64(-1), job.QueueResponseTimeSec)
	assert.Equal(t, float64(-1), job.TotalResponseTimeSec)

	// The payload carries the worker bearer token and the admission time.
	assert.Equal(t, "worker-1", pub.workerID)
	require.Len(t, pub.bodies, 1)
	var payload domain.JobPayload
	require.NoError(t, json.Unmarshal(pub.bodies[0], &payload))
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, "Bearer worker-token", payload.Token)
	assert.Equal(t, domain.MethodPredict, payload.Method)
	assert.Equal(t, []any{"some text"}, payload.Features)
	assert.InDelta(t, float64(time.Now().Unix()), payload.Datetime, 5)

	stored, err := jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, stored.Status)
}

func TestAdmitUnknownModel(t *testing.T) {
	svc, _, pub := newAdmissionFixture(t)
	in := predictInput()
	in.ModelName = "nope"

	_, err := svc.Admit(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "O modelo não foi encontrado!", err.Error())
	assert.Empty(t, pub.bodies)
}

func TestAdmitValidation(t *testing.T) {
	svc, _, _ := newAdmissionFixture(t)

	tests := []struct {
		name    string
		mutate  func(*InferenceInput)
		wantMsg string
	}{
		{
			name:    "bad method",
			mutate:  func(in *InferenceInput) { in.Method = "train" },
			wantMsg: "O parâmetro 'method' está incorreto",
		},
		{
			name:    "missing features",
			mutate:  func(in *InferenceInput) { in.Features = nil },
			wantMsg: "Faltou informar o parâmetro 'features'",
		},
		{
			name: "evaluate length mismatch",
			mutate: func(in *InferenceInput) {
				in.Method = "evaluate"
				in.Features = json.RawMessage(`["a","b"]`)
				in.Targets = json.RawMessage(`["x"]`)
			},
			wantMsg: "devem ter a mesma quantidade de elementos",
		},
		{
			name: "info needs no features",
			mutate: func(in *InferenceInput) {
				in.Method = "info"
				in.Features = nil
			},
			wantMsg: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := predictInput()
			tc.mutate(&in)
			_, err := svc.Admit(context.Background(), in)
			if tc.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestAdmitNoWorkers(t *testing.T) {
	svc, jobs, pub := newAdmissionFixture(t)
	pub.err = domain.ErrNoWorkers

	_, err := svc.Admit(context.Background(), predictInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoWorkers)
	assert.Contains(t, err.Error(), "não há workers para processá-lo")
	assert.Contains(t, err.Error(), "'sentiment'")
	assert.Empty(t, jobs.jobs)
}

func TestAdmitBrokerDown(t *testing.T) {
	svc, jobs, pub := newAdmissionFixture(t)
	pub.err = domain.ErrBrokerUnavailable

	_, err := svc.Admit(context.Background(), predictInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
	assert.Contains(t, err.Error(), "Falha ao tentar conectar no servidor de filas")
	assert.Empty(t, jobs.jobs)
}

func TestAdmitInsertFailureLeavesOrphan(t *testing.T) {
	svc, jobs, pub := newAdmissionFixture(t)
	jobs.insertErr = domain.ErrStoreUnavailable

	_, err := svc.Admit(context.Background(), predictInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "banco de dados")
	// The message was already published; it becomes an orphan by design.
	assert.Len(t, pub.bodies, 1)
}
