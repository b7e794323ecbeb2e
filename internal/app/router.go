// Package app wires the Gateway HTTP surface together.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/httpserver"
	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/observability"
	"github.com/fairyhunter13/ml-serving-stack/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Client-facing endpoints behind the client bearer token.
	r.Group(func(cr chi.Router) {
		cr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		cr.Use(httpserver.RequireBearer(cfg.APIToken))
		cr.Post("/inference", srv.InferenceHandler())
		cr.Post("/status", srv.StatusHandler())
		cr.Post("/feedback", srv.FeedbackHandler())
		cr.Post("/get_feedback", srv.GetFeedbackHandler())
	})

	// Worker-facing internal endpoints behind the worker bearer token.
	r.Group(func(wr chi.Router) {
		wr.Use(httpserver.RequireBearer(cfg.APITokenWorkers))
		wr.Post("/attstatus", srv.AttStatusHandler())
		wr.Post("/retorno", srv.RetornoHandler())
	})

	// Worker registration authenticates with its own body credential.
	r.Post("/advworkid", srv.AdvWorkIDHandler())

	r.Get("/", srv.RootHandler())
	r.Get("/version", srv.VersionHandler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
