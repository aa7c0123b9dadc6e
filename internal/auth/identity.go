package auth

import "context"

// Identity is the authentication outcome attached to a request.
// The zero value is an unauthenticated caller.
type Identity struct {
	Authenticated bool
	UserID        string
}

type ctxKeyIdentity struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, id)
}

// IdentityFrom returns the identity attached to ctx, or an unauthenticated one.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKeyIdentity{}).(Identity)
	return id
}
