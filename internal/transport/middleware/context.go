package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
)

// Header names read by RequestContext.
const (
	HeaderTimezoneOffset = "X-Timezone-Offset"
	HeaderAPIVersion     = "X-Api-Version"
)

// RequestContext marks requests under apiPrefix as API calls and records
// the client timezone offset and API version. A malformed offset is
// ignored.
func RequestContext(apiPrefix string) Middleware {
	prefix := strings.TrimSuffix(apiPrefix, "/") + "/"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ctxutil.UpdateRequest(r.Context(), func(req *ctxutil.Request) {
				req.APICall = strings.HasPrefix(r.URL.Path, prefix)
				req.APIVersion = r.Header.Get(HeaderAPIVersion)
				if raw := r.Header.Get(HeaderTimezoneOffset); raw != "" {
					if off, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && off >= -840 && off <= 840 {
						req.TZOffset = off
					}
				}
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
