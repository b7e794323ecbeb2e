// Package stub ships a deterministic in-process model. It stands in for a
// real model runtime during local runs and tests: predictions are derived
// from the input alone, so repeated jobs yield identical results.
package stub

import (
	"errors"
	"fmt"
	"hash/fnv"
)

// Labels are the two classes the stub predicts over.
var Labels = []string{"negative", "positive"}

// Model implements domain.Model with content-hash classification.
type Model struct {
	name    string
	version string
}

// New constructs a stub model with the given published name.
func New(name string) *Model {
	return &Model{name: name, version: "1.0.0"}
}

func classify(item any) string {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%v", item)
	return Labels[h.Sum32()%uint32(len(Labels))]
}

// Predict labels each dataset item.
func (m *Model) Predict(dataset []any) (any, error) {
	if len(dataset) == 0 {
		return nil, errors.New("empty dataset")
	}
	out := make([]any, len(dataset))
	for i, item := range dataset {
		out[i] = classify(item)
	}
	return out, nil
}

// Evaluate scores predictions against the given targets.
func (m *Model) Evaluate(features, targets []any) (any, error) {
	if len(features) != len(targets) {
		return nil, errors.New("features and targets length mismatch")
	}
	matches := 0
	for i, f := range features {
		if classify(f) == fmt.Sprintf("%v", targets[i]) {
			matches++
		}
	}
	return map[string]any{
		"evaluated_items": len(features),
		"accuracy":        float64(matches) / float64(len(features)),
	}, nil
}

// GetFeedback computes accuracy of past predictions against user labels.
func (m *Model) GetFeedback(yPred, yTrue []any) (any, error) {
	if len(yPred) == 0 || len(yPred) != len(yTrue) {
		return nil, errors.New("y_pred and y_true must be non-empty and of equal length")
	}
	matches := 0
	for i := range yPred {
		if fmt.Sprintf("%v", yPred[i]) == fmt.Sprintf("%v", yTrue[i]) {
			matches++
		}
	}
	return map[string]any{
		"accuracy":        float64(matches) / float64(len(yPred)),
		"labels_compared": len(yPred),
	}, nil
}

// ModelInfo describes the stub.
func (m *Model) ModelInfo() (any, error) {
	return map[string]any{
		"name":    m.name,
		"version": m.version,
		"kind":    "deterministic content-hash classifier",
		"labels":  Labels,
	}, nil
}

// ModelVersion reports the stub version.
func (m *Model) ModelVersion() (string, error) { return m.version, nil }
