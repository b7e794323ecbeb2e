package usecase

import (
	"context"
	"sync"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// fakeJobRepo is an in-memory domain.JobRepository with per-call error hooks.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.Job

	insertErr error
	getErr    error
	countErr  error
	findErr   error

	feedbackCount int64
	predictDone   int64
	feedbackDocs  []domain.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]domain.Job{}}
}

func (f *fakeJobRepo) Insert(_ context.Context, j domain.Job) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, jobID string) (domain.Job, error) {
	if f.getErr != nil {
		return domain.Job{}, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobRepo) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus) (bool, error) {
	if f.getErr != nil {
		return false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return false, nil
	}
	j.Status = status
	f.jobs[jobID] = j
	return true, nil
}

func (f *fakeJobRepo) SetResult(_ context.Context, jobID string, status domain.JobStatus, queueSec, totalSec float64, response any, modelVersion string) error {
	if f.getErr != nil {
		return f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.QueueResponseTimeSec = queueSec
	j.TotalResponseTimeSec = totalSec
	j.Response = response
	if modelVersion != "" {
		j.ModelVersion = modelVersion
	}
	f.jobs[jobID] = j
	return nil
}

func (f *fakeJobRepo) SetFeedback(_ context.Context, jobID string, feedback []any) error {
	if f.getErr != nil {
		return f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Feedback = feedback
	j.HasFeedback = true
	f.jobs[jobID] = j
	return nil
}

func (f *fakeJobRepo) CountFeedbackJobs(context.Context, string, float64, float64) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.feedbackCount, nil
}

func (f *fakeJobRepo) CountPredictDone(context.Context, string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.predictDone, nil
}

func (f *fakeJobRepo) FeedbackJobs(context.Context, string, float64, float64, int64) ([]domain.Job, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.feedbackDocs, nil
}

// fakeRegistryRepo is an in-memory domain.RegistryRepository.
type fakeRegistryRepo struct {
	mu      sync.Mutex
	reg     map[string]string
	loadErr error
	saveErr error
	loads   int
	saves   int
}

func newFakeRegistryRepo(reg map[string]string) *fakeRegistryRepo {
	if reg == nil {
		reg = map[string]string{}
	}
	return &fakeRegistryRepo{reg: reg}
}

func (f *fakeRegistryRepo) Ensure(ctx context.Context) (map[string]string, error) {
	return f.Load(ctx)
}

func (f *fakeRegistryRepo) Load(context.Context) (map[string]string, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	out := make(map[string]string, len(f.reg))
	for k, v := range f.reg {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRegistryRepo) Save(_ context.Context, reg map[string]string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.reg = make(map[string]string, len(reg))
	for k, v := range reg {
		f.reg[k] = v
	}
	return nil
}

// fakePublisher records publishes and can simulate broker failures.
type fakePublisher struct {
	mu       sync.Mutex
	err      error
	workerID string
	bodies   [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, workerID string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workerID = workerID
	f.bodies = append(f.bodies, body)
	return nil
}
