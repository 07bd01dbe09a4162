package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
)

// RequestObserver receives one call per finished request.
type RequestObserver interface {
	ObserveRequest(method string, status int, d time.Duration)
}

// Logger returns middleware that logs each HTTP request with method, path,
// status code, duration and the request identifiers. obs may be nil.
func Logger(logger *slog.Logger, obs RequestObserver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			if obs != nil {
				obs.ObserveRequest(r.Method, sw.status, duration)
			}

			// Auth runs inside this middleware, so the descriptor is read
			// from the context the handler saw.
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", duration),
				slog.String("request_id", ctxutil.RequestIDFromCtx(r.Context())),
			}
			if sw.req.ActorID != "" {
				attrs = append(attrs, slog.String("actor_id", sw.req.ActorID))
			}
			if sw.req.TenantID != "" {
				attrs = append(attrs, slog.String("tenant_id", sw.req.TenantID))
			}

			level := slog.LevelInfo
			if sw.status >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http.request", attrs...)
		})
	}
}

// statusWriter captures the response status code and the request
// descriptor recorded by Capture.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	req         ctxutil.Request
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Capture copies the request descriptor of the innermost context onto the
// logging writer. Install it after Auth.
func Capture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sw, ok := w.(*statusWriter); ok {
			sw.req, _ = ctxutil.RequestFromCtx(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}
