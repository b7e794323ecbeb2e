package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerToken extracts the token from an Authorization header of the form
// "Bearer <token>"; a bare token is also accepted.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	fields := strings.Fields(auth)
	return fields[len(fields)-1]
}

// RequireBearer guards an endpoint with a shared bearer token. Comparison is
// constant time.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
