package executor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// VersionsPath is read by the container health-check probe, which compares
// the recorded versions against what the models currently report.
const VersionsPath = "/tmp/runid_models.pkl"

// WriteModelVersions snapshots each model's version to VersionsPath.
func WriteModelVersions(models map[string]domain.Model) error {
	versions := make(map[string]string, len(models))
	for name, m := range models {
		v, err := m.ModelVersion()
		if err != nil {
			return fmt.Errorf("op=versions.query model=%s: %w", name, err)
		}
		versions[name] = v
	}
	raw, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("op=versions.marshal: %w", err)
	}
	if err := os.WriteFile(VersionsPath, raw, 0o644); err != nil {
		return fmt.Errorf("op=versions.write: %w", err)
	}
	return nil
}

// ReadModelVersions loads the snapshot written by WriteModelVersions.
func ReadModelVersions() (map[string]string, error) {
	raw, err := os.ReadFile(VersionsPath)
	if err != nil {
		return nil, fmt.Errorf("op=versions.read: %w", err)
	}
	var versions map[string]string
	if err := json.Unmarshal(raw, &versions); err != nil {
		return nil, fmt.Errorf("op=versions.decode: %w", err)
	}
	return versions, nil
}
