package middleware

import (
	"net/http"
	"strings"

	"github.com/heartmarshall/tenantkit/internal/auth"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
)

type tokenValidator interface {
	ValidateAccessToken(token string) (auth.Identity, error)
}

// Auth resolves the bearer token into the request descriptor: the token
// subject becomes the actor and its org claim the tenant. Requests without
// a token are rejected unless anonymous is set.
func Auth(validator tokenValidator, anonymous bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				if anonymous {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			id, err := validator.ValidateAccessToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			ctx := ctxutil.UpdateRequest(r.Context(), func(req *ctxutil.Request) {
				req.TenantID = id.TenantID
				req.ActorID = id.ActorID
				if id.App != "" {
					req.AppName = id.App
				}
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}
