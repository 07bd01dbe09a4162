package auth

// Identity is what a bearer token asserts about its holder.
type Identity struct {
	// ActorID is the acting user id (token subject).
	ActorID string
	// TenantID is the organization the token is scoped to.
	TenantID string
	// App optionally pins the token to one app.
	App string
}
