// Package executor implements the worker process: it drains the worker queue,
// runs each job against the owning model and reports results back to the
// Gateway's internal endpoints.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// Result is the terminal report POSTed to /retorno.
type Result struct {
	JobID                string           `json:"job_id"`
	Status               domain.JobStatus `json:"status"`
	QueueResponseTimeSec float64          `json:"queue_response_time_sec"`
	Response             any              `json:"response"`
	ModelVersion         string           `json:"model_version,omitempty"`
}

type apiResponse struct {
	Status   string `json:"status"`
	Response any    `json:"response"`
}

// APIClient talks to the Gateway's internal endpoints.
type APIClient struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewAPIClient constructs a client for the Gateway at baseURL.
func NewAPIClient(baseURL string, log *slog.Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (c *APIClient) postJSON(ctx context.Context, path, token string, body any) (apiResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("op=api.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return apiResponse{}, fmt.Errorf("op=api.request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("op=api.post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apiResponse{}, fmt.Errorf("op=api.decode %s: %w", path, err)
	}
	return out, nil
}

// UpdateStatus reports a status transition through /attstatus. token is the
// worker bearer token carried inside the job payload.
func (c *APIClient) UpdateStatus(ctx context.Context, token, jobID string, status domain.JobStatus) (apiResponse, error) {
	return c.postJSON(ctx, "/attstatus", token,
		map[string]any{"job_id": jobID, "newstatus": string(status)})
}

// ReportResult delivers the terminal result through /retorno. Failures are
// logged, never retried: the client will observe the stuck job by polling.
func (c *APIClient) ReportResult(ctx context.Context, token string, res Result) {
	resp, err := c.postJSON(ctx, "/retorno", token, res)
	if err != nil {
		c.log.Error("could not deliver job result",
			slog.String("job_id", res.JobID),
			slog.Any("error", err))
		return
	}
	if resp.Status != string(domain.StatusDone) {
		c.log.Error("result rejected by the gateway",
			slog.String("job_id", res.JobID),
			slog.Any("response", resp.Response))
	}
}

// Announce registers the worker id and its models through /advworkid,
// retrying with exponential backoff while the Gateway comes up. A rejected
// registration is fatal for the worker.
func (c *APIClient) Announce(ctx context.Context, cred, workerID string, models []string) error {
	op := func() (apiResponse, error) {
		return c.postJSON(ctx, "/advworkid", "",
			map[string]any{"advworkid_cred": cred, "worker_id": workerID, "models": models})
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	resp, err := backoff.RetryWithData(op, bo)
	if err != nil {
		return fmt.Errorf("op=announce: %w", err)
	}
	if resp.Status != string(domain.StatusDone) {
		return fmt.Errorf("op=announce: %w: %v", domain.ErrUnauthorized, resp.Response)
	}
	c.log.Info("worker registered with the gateway",
		slog.String("worker_id", workerID),
		slog.Any("models", models))
	return nil
}
