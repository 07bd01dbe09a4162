package ctxutil

import (
	"context"
)

type ctxKey string

const (
	requestKey   ctxKey = "request"
	requestIDKey ctxKey = "request_id"
)

// Request carries the caller identity and request-scoped settings every
// service call needs. It is threaded explicitly through context instead of
// being inferred from the call site.
type Request struct {
	TenantID   string
	ActorID    string
	AppName    string
	APIVersion string
	// APICall is true when the request entered through the public API
	// (it switches list operations to the service default page size).
	APICall bool
	// TZOffset is the client timezone offset in minutes, using the browser
	// getTimezoneOffset convention (UTC minus local time).
	TZOffset int
}

// WithRequest stores the request descriptor in the context.
func WithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey, r)
}

// RequestFromCtx extracts the request descriptor from the context.
func RequestFromCtx(ctx context.Context) (Request, bool) {
	r, ok := ctx.Value(requestKey).(Request)
	return r, ok
}

// UpdateRequest applies fn to a copy of the current request descriptor
// (zero value if absent) and stores the result.
func UpdateRequest(ctx context.Context, fn func(r *Request)) context.Context {
	r, _ := RequestFromCtx(ctx)
	fn(&r)
	return WithRequest(ctx, r)
}

// TenantIDFromCtx extracts the tenant (organization) id.
// Returns false if the value is missing or empty.
func TenantIDFromCtx(ctx context.Context) (string, bool) {
	r, ok := RequestFromCtx(ctx)
	if !ok || r.TenantID == "" {
		return "", false
	}
	return r.TenantID, true
}

// ActorIDFromCtx extracts the acting user id.
// Returns false if the value is missing or empty.
func ActorIDFromCtx(ctx context.Context) (string, bool) {
	r, ok := RequestFromCtx(ctx)
	if !ok || r.ActorID == "" {
		return "", false
	}
	return r.ActorID, true
}

// AppNameFromCtx returns the name of the app serving the request, or "".
func AppNameFromCtx(ctx context.Context) string {
	r, _ := RequestFromCtx(ctx)
	return r.AppName
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx extracts the request ID from the context.
// Returns an empty string if absent.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
