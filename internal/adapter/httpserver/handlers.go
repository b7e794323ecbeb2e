package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ml-serving-stack/internal/config"
	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
	"github.com/fairyhunter13/ml-serving-stack/internal/usecase"
)

var validate = newValidator()

// newValidator reports field names by their json tags so validation messages
// match the wire names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Server aggregates the Gateway services behind the HTTP surface.
type Server struct {
	Cfg        config.Config
	Admission  *usecase.AdmissionService
	Status     *usecase.StatusService
	Feedback   *usecase.FeedbackService
	Aggregator *usecase.FeedbackAggregator
	Internal   *usecase.InternalService
	Registry   *usecase.RegistryCache
}

// NewServer constructs the HTTP server facade.
func NewServer(cfg config.Config, admission *usecase.AdmissionService, status *usecase.StatusService,
	feedback *usecase.FeedbackService, aggregator *usecase.FeedbackAggregator,
	internal *usecase.InternalService, registry *usecase.RegistryCache) *Server {
	return &Server{
		Cfg:        cfg,
		Admission:  admission,
		Status:     status,
		Feedback:   feedback,
		Aggregator: aggregator,
		Internal:   internal,
		Registry:   registry,
	}
}

// clientAddr splits the remote address into the host used for logging and the
// full address used to diversify job id hashes.
func clientAddr(r *http.Request) (host, key string) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host, "IP_" + r.RemoteAddr
}

func decodeBody(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(dst)
}

// requiredFieldsError renders the first missing-field validation failure.
func requiredFieldsError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "O parâmetro '" + verrs[0].Field() + "' é obrigatório"
	}
	return "Requisição inválida"
}

// RootHandler answers the root probe.
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK,
			map[string]any{"response": "Hey!, ?oirártnoc oa ocsid o odnivuo átse êcov euq rop"})
	}
}

// VersionHandler reports the deployed stack version.
func (s *Server) VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"Stack Version": s.Cfg.StackVersion})
	}
}

type inferenceRequest struct {
	ModelName string          `json:"model_name" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Features  json.RawMessage `json:"features"`
	Targets   json.RawMessage `json:"targets"`
}

// InferenceHandler admits predict, evaluate and info jobs.
func (s *Server) InferenceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inferenceRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"job_id": "n/a", "status": "Error", "response": "Requisição inválida"})
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"job_id": "n/a", "status": "Error", "response": requiredFieldsError(err)})
			return
		}

		host, key := clientAddr(r)
		job, err := s.Admission.Admit(r.Context(), usecase.InferenceInput{
			ModelName:  req.ModelName,
			Method:     req.Method,
			Features:   req.Features,
			Targets:    req.Targets,
			ClientHost: host,
			ClientKey:  key,
		})
		if err != nil {
			s.writeInferenceError(w, req.ModelName, req.Method, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":     job.ID,
			"model_name": job.ModelName,
			"method":     string(job.Method),
			"status":     string(job.Status),
		})
	}
}

// writeInferenceError keeps the shape the clients expect: lookup and store
// failures identify the model and method, validation and broker failures
// carry only the message.
func (s *Server) writeInferenceError(w http.ResponseWriter, modelName, method string, err error) {
	body := map[string]any{"job_id": "n/a", "status": "Error", "response": err.Error()}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStoreUnavailable) {
		body["model_name"] = modelName
		body["method"] = method
	}
	writeJSON(w, http.StatusOK, body)
}

type statusRequest struct {
	JobID string `json:"job_id" validate:"required"`
}

// StatusHandler returns the full job record for a poll.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, errorBody("Requisição inválida"))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusOK, errorBody(requiredFieldsError(err)))
			return
		}

		host, _ := clientAddr(r)
		job, err := s.Status.Get(r.Context(), req.JobID, host)
		if err != nil {
			writeJSON(w, http.StatusOK, errorBody(err.Error()))
			return
		}

		body := map[string]any{
			"job_id":                  job.ID,
			"model_name":              job.ModelName,
			"method":                  string(job.Method),
			"status":                  string(job.Status),
			"datetime":                job.Datetime,
			"queue_response_time_sec": job.QueueResponseTimeSec,
			"total_response_time_sec": job.TotalResponseTimeSec,
			"response":                job.Response,
		}
		if job.Method == domain.MethodPredict {
			if job.Feedback != nil {
				body["feedback"] = job.Feedback
			} else {
				body["feedback"] = ""
			}
			body["has_feedback"] = job.HasFeedback
		}
		if job.Method == domain.MethodGetFeedback {
			body["initial_date"] = job.InitialDate
			body["end_date"] = job.EndDate
			body["request_source"] = job.RequestSource
		}
		writeJSON(w, http.StatusOK, body)
	}
}

type feedbackRequest struct {
	JobID    string          `json:"job_id" validate:"required"`
	Feedback json.RawMessage `json:"feedback"`
}

// FeedbackHandler attaches user labels to a completed predict job.
func (s *Server) FeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, errorBody("Requisição inválida"))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusOK, errorBody(requiredFieldsError(err)))
			return
		}

		host, _ := clientAddr(r)
		if err := s.Feedback.Submit(r.Context(), req.JobID, req.Feedback, host); err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) && len(req.Feedback) == 0 {
				// List-shape failures answer with the n/a job id, matching
				// the admission validation envelope.
				writeJSON(w, http.StatusOK, map[string]any{
					"job_id": "n/a", "status": "Error", "response": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "Done", "response": usecase.FeedbackAccepted})
	}
}

type getFeedbackRequest struct {
	ModelName   string `json:"model_name" validate:"required"`
	InitialDate string `json:"initial_date" validate:"required"`
	EndDate     string `json:"end_date" validate:"required"`
}

// GetFeedbackHandler admits aggregate-feedback jobs.
func (s *Server) GetFeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getFeedbackRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, errorBody("Requisição inválida"))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusOK, errorBody(requiredFieldsError(err)))
			return
		}

		host, key := clientAddr(r)
		job, err := s.Aggregator.Request(r.Context(), req.ModelName, req.InitialDate, req.EndDate, host, key)
		if err != nil {
			body := map[string]any{
				"job_id":     "n/a",
				"model_name": req.ModelName,
				"method":     string(domain.MethodGetFeedback),
				"status":     "Error",
				"response":   err.Error(),
			}
			var rl *usecase.RateLimitError
			if errors.As(err, &rl) {
				body["next_feedback_timestamp"] = rl.NextFeedbackTimestamp
			}
			if errors.Is(err, domain.ErrNoWorkers) || errors.Is(err, domain.ErrBrokerUnavailable) {
				delete(body, "model_name")
				delete(body, "method")
			}
			writeJSON(w, http.StatusOK, body)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":     job.ID,
			"model_name": job.ModelName,
			"method":     string(job.Method),
			"status":     string(job.Status),
		})
	}
}

type attStatusRequest struct {
	JobID     string `json:"job_id" validate:"required"`
	NewStatus string `json:"newstatus" validate:"required"`
}

// AttStatusHandler lets a worker report a status transition.
func (s *Server) AttStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req attStatusRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, errorBody("Requisição inválida"))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusOK, errorBody(requiredFieldsError(err)))
			return
		}
		if err := s.Internal.UpdateStatus(r.Context(), req.JobID, req.NewStatus); err != nil {
			writeJSON(w, http.StatusOK, errorBody(err.Error()))
			return
		}
		// Detail-free reply so the worker log stays small.
		writeJSON(w, http.StatusOK, map[string]any{"status": "Done", "response": ""})
	}
}

type retornoRequest struct {
	JobID                string  `json:"job_id" validate:"required"`
	Status               string  `json:"status" validate:"required"`
	QueueResponseTimeSec float64 `json:"queue_response_time_sec"`
	Response             any     `json:"response"`
	ModelVersion         string  `json:"model_version"`
}

// RetornoHandler lets a worker deliver the terminal result of a job.
func (s *Server) RetornoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retornoRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, errorBody("Requisição inválida"))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusOK, errorBody(requiredFieldsError(err)))
			return
		}
		err := s.Internal.Report(r.Context(), usecase.ResultReport{
			JobID:                req.JobID,
			Status:               req.Status,
			QueueResponseTimeSec: req.QueueResponseTimeSec,
			Response:             req.Response,
			ModelVersion:         req.ModelVersion,
		})
		if err != nil {
			writeJSON(w, http.StatusOK, errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "Done", "response": ""})
	}
}

type advWorkIDRequest struct {
	AdvworkidCred string   `json:"advworkid_cred"`
	WorkerID      string   `json:"worker_id"`
	Models        []string `json:"models"`
}

// AdvWorkIDHandler registers a worker and the models it serves. The endpoint
// authenticates with its own shared credential carried in the body, not the
// bearer token; failures with a bad credential are deliberately not logged.
func (s *Server) AdvWorkIDHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req advWorkIDRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusOK, errorBody("Requisição inválida"))
			return
		}
		if req.AdvworkidCred != s.Cfg.AdvworkidCredential {
			writeJSON(w, http.StatusOK,
				errorBody("A credencial para informar o 'worker_id' e nomes de modelos está incorreta!"))
			return
		}
		summary, err := s.Registry.Announce(r.Context(), req.WorkerID, req.Models)
		if err != nil {
			LoggerFrom(r).Error("worker announcement failed",
				slog.String("worker_id", req.WorkerID), slog.Any("error", err))
			writeJSON(w, http.StatusOK, errorBody(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "Done", "response": summary})
	}
}
