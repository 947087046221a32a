package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
)

// authMiddleware guards a handler with static Bearer token auth. An empty
// apiKey disables the check entirely; the serve command logs that condition
// once at startup rather than on every request.
//
// Callers of protected routes send:
//
//	Authorization: Bearer <apiKey>
//
// A missing or wrong token yields 401 with a WWW-Authenticate challenge.
// Presented token values never reach the logs, only the fact that one was
// present.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		switch {
		case token == "":
			log.Warn("auth: missing Authorization header",
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
		case token != apiKey:
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa" error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// bearerToken pulls the token out of an "Authorization: Bearer <token>"
// header, or returns "" when the header is absent or of another scheme.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(hdr, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
