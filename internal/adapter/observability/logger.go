// Package observability provides logging, metrics, and tracing for the
// Gateway and Executor processes.
package observability

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures a JSON slog logger with service and environment
// fields. Dev environments log at debug level.
func SetupLogger(service, appEnv string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if strings.ToLower(appEnv) == "dev" {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("env", appEnv),
	)
}
