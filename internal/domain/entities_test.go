package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusValid(t *testing.T) {
	for _, s := range []JobStatus{StatusQueued, StatusRunning, StatusDone, StatusError} {
		assert.True(t, s.Valid(), string(s))
	}
	// Status names are case sensitive on the wire.
	assert.False(t, JobStatus("done").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestJSONType(t *testing.T) {
	assert.Equal(t, "null", JSONType(nil))
	assert.Equal(t, "str", JSONType("x"))
	assert.Equal(t, "bool", JSONType(true))
	assert.Equal(t, "list", JSONType([]any{1}))
	assert.Equal(t, "dict", JSONType(map[string]any{}))

	// Every numeric representation is one class, so a label that round-trips
	// through the store as int32/int64/double still matches the float64 the
	// JSON decoder produces.
	assert.Equal(t, "number", JSONType(float64(2.5)))
	assert.Equal(t, "number", JSONType(int32(2)))
	assert.Equal(t, "number", JSONType(int64(2)))
	assert.Equal(t, "number", JSONType(2))
}
