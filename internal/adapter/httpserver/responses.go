package httpserver

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v with the JSON content type. The job envelope reports
// domain errors inside the body with HTTP 200; status differs from 200 only
// for authentication failures and transport-level problems.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the minimal error envelope: {"status":"Error","response":msg}.
func errorBody(msg string) map[string]any {
	return map[string]any{"status": "Error", "response": msg}
}

// unauthorized replies 401 with the bearer challenge, mirroring the error
// shape of the framework the clients were written against.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized,
		map[string]any{"detail": "Acesso negado! Verifique as credenciais de acesso."})
}
