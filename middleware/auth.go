// Package middleware holds the HTTP middleware of the status server.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// DefaultPublicPaths are served without a bearer token. The WebSocket
// endpoint authenticates with its first JSON-RPC request instead.
var DefaultPublicPaths = []string{"/health", "/ws"}

// Auth rejects requests that do not carry "Authorization: Bearer <token>",
// except for the given public paths (DefaultPublicPaths when none are given).
func Auth(token string, public ...string) func(http.Handler) http.Handler {
	if len(public) == 0 {
		public = DefaultPublicPaths
	}
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			bearer, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="stsclient"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) != 1 {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || value == "" {
		return "", false
	}
	return value, true
}
