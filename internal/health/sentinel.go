// Package health manages the filesystem sentinel consumed by the container
// health-check probe.
package health

import (
	"log/slog"
	"os"
)

// SentinelPath is fixed; the container probe looks for exactly this file.
const SentinelPath = "/tmp/error_8EDo2OWK9Sd7A4aN0uni.err"

// WriteSentinel marks the process unhealthy for the container probe. Failures
// to write are logged but never escalate; the sentinel is best-effort.
func WriteSentinel() {
	err := os.WriteFile(SentinelPath, []byte("error detected; check the application logs\n"), 0o644)
	if err != nil {
		slog.Error("could not write health sentinel", slog.String("path", SentinelPath), slog.Any("error", err))
	}
}

// ClearSentinel removes a stale sentinel, typically on clean startup.
func ClearSentinel() {
	_ = os.Remove(SentinelPath)
}
