package usecase

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

func TestValidateJobID(t *testing.T) {
	assert.NoError(t, ValidateJobID(strings.Repeat("a", 100)))
	err := ValidateJobID(strings.Repeat("a", 101))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "ultrapassou o limite")
}

func TestValidateStatus(t *testing.T) {
	for _, s := range []string{"Queued", "Running", "Done", "Error"} {
		assert.NoError(t, ValidateStatus(s))
	}
	for _, s := range []string{"done", "QUEUED", "", "Finished"} {
		assert.ErrorIs(t, ValidateStatus(s), domain.ErrInvalidArgument, s)
	}
}

func TestValidateInferenceMethod(t *testing.T) {
	for _, m := range []string{"predict", "evaluate", "info"} {
		assert.NoError(t, ValidateInferenceMethod(m))
	}
	err := ValidateInferenceMethod("get_feedback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'method' está incorreto")

	assert.Error(t, ValidateInferenceMethod("Predict"))
}

func rawList(t *testing.T, n int) json.RawMessage {
	t.Helper()
	items := make([]string, n)
	for i := range items {
		items[i] = "x"
	}
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	return raw
}

func TestDecodeListParam(t *testing.T) {
	t.Run("missing required", func(t *testing.T) {
		_, err := DecodeListParam("features", "predict", nil, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Faltou informar o parâmetro 'features'")
	})
	t.Run("missing optional", func(t *testing.T) {
		list, err := DecodeListParam("targets", "predict", nil, false)
		require.NoError(t, err)
		assert.Nil(t, list)
	})
	t.Run("wrong type", func(t *testing.T) {
		_, err := DecodeListParam("features", "predict", json.RawMessage(`"oops"`), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Foi recebido 'str'")
	})
	t.Run("empty list", func(t *testing.T) {
		_, err := DecodeListParam("features", "predict", json.RawMessage(`[]`), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lista vazia")
	})
	t.Run("at the cap", func(t *testing.T) {
		list, err := DecodeListParam("features", "predict", rawList(t, 100), true)
		require.NoError(t, err)
		assert.Len(t, list, 100)
	})
	t.Run("over the cap", func(t *testing.T) {
		_, err := DecodeListParam("features", "predict", rawList(t, 101), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Foram passados 101")
	})
}

func TestGenerateJobID(t *testing.T) {
	id1 := GenerateJobID("IP_10.0.0.1:4242")
	id2 := GenerateJobID("IP_10.0.0.1:4242")
	assert.Len(t, id1, 64)
	assert.NotEqual(t, id1, id2)
	for _, c := range id1 {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
	// Long client keys must not panic; only the first 30 bytes are used.
	assert.Len(t, GenerateJobID(strings.Repeat("k", 500)), 64)
}
