package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller. MerchantID is empty for staff tokens
// that may read every merchant.
type Identity struct {
	MerchantID string
	Role       Role
	Subject    string
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, merchantID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{MerchantID: merchantID, Role: role, Subject: subject})
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func MerchantScopeFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.MerchantID
}

func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

// CanReadMerchant reports whether the caller may see merchantID's billing data.
func CanReadMerchant(ctx context.Context, merchantID string) bool {
	scope := MerchantScopeFromContext(ctx)
	return scope == "" || scope == merchantID
}
