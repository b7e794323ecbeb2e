package usecase

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// maxListItems caps features, targets and feedback lists so a single request
// cannot monopolize a worker.
const maxListItems = 100

// maxJobIDLen bounds job_id before it reaches the store.
const maxJobIDLen = 100

const (
	inferenceMethodsLabel = "['predict', 'evaluate', 'info']"
	validStatusLabel      = "['Done', 'Error', 'Queued', 'Running']"
)

// ValidateJobID checks the job_id length after coercing it to a string.
func ValidateJobID(jobID string) error {
	if len(jobID) > maxJobIDLen {
		return envErr(domain.ErrInvalidArgument, "O tamanho do 'job_id' %s ultrapassou o limite", jobID)
	}
	return nil
}

// ValidateStatus checks that status names one of the four job states.
func ValidateStatus(status string) error {
	if !domain.JobStatus(status).Valid() {
		return envErr(domain.ErrInvalidArgument,
			"O status informado é inválido. Deve ser (case sensitive): %s", validStatusLabel)
	}
	return nil
}

// ValidateInferenceMethod checks that method is one of the /inference methods.
func ValidateInferenceMethod(method string) error {
	for _, m := range domain.InferenceMethods {
		if domain.Method(method) == m {
			return nil
		}
	}
	return envErr(domain.ErrInvalidArgument,
		"O parâmetro 'method' está incorreto. Foi passado '%s', mas deve ser um desses (case sensitive): %s",
		method, inferenceMethodsLabel)
}

// DecodeListParam validates a raw JSON request parameter that must be a
// non-empty list of at most maxListItems elements. A nil raw value means the
// parameter was absent; required decides whether that is an error. The method
// name only flavors the missing-parameter message.
func DecodeListParam(name, method string, raw json.RawMessage, required bool) ([]any, error) {
	if len(raw) == 0 {
		if required {
			return nil, envErr(domain.ErrInvalidArgument,
				"Faltou informar o parâmetro '%s' na requisição do método '%s'", name, method)
		}
		return nil, nil
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, envErr(domain.ErrInvalidArgument,
			"O tipo do parâmetro '%s' está incorreto. Deve ser 'list'", name)
	}
	list, ok := probe.([]any)
	if !ok {
		return nil, envErr(domain.ErrInvalidArgument,
			"O tipo do parâmetro '%s' está incorreto. Foi recebido '%s', mas deve ser 'list'",
			name, domain.JSONType(probe))
	}
	if len(list) == 0 {
		return nil, envErr(domain.ErrInvalidArgument, "Foi passada uma lista vazia no parâmetro '%s'", name)
	}
	if len(list) > maxListItems {
		return nil, envErr(domain.ErrInvalidArgument,
			"A quantidade máxima de itens foi ultrapassada. Foram passados %d no parâmetro '%s', mas é suportado no máximo %d.",
			len(list), name, maxListItems)
	}
	return list, nil
}

// GenerateJobID derives a fresh job id from the client key, the current time
// and random material. The first 30 bytes of the key diversify the hash
// across clients; collisions are practically impossible.
func GenerateJobID(clientKey string) string {
	if len(clientKey) > 30 {
		clientKey = clientKey[:30]
	}
	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)
	h := sha256.New()
	fmt.Fprintf(h, "%s%.9f%x%s", clientKey,
		float64(time.Now().UnixNano())/1e9, nonce, uuid.NewString())
	return hex.EncodeToString(h.Sum(nil))
}
