package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware authenticates bearer tokens and enforces the policy's roles.
type Middleware struct {
	secret []byte
	policy Policy
}

// NewMiddleware constructs the middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{secret: secret, policy: policy}
}

// Wrap guards next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := m.policy.RequiredRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}
		ctx, status := m.authorize(r, required)
		if status != http.StatusOK {
			denied(w, status)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authorize(r *http.Request, required Role) (context.Context, int) {
	claims, err := ParseJWT(bearerToken(r.Header.Get("Authorization")), m.secret)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	role, _ := NormalizeRole(claims.Role)
	if !RoleAtLeast(role, required) {
		return nil, http.StatusForbidden
	}
	// merchant-scoped tokens are read-only
	if claims.MerchantID != "" && required != RoleViewer {
		return nil, http.StatusForbidden
	}
	return WithIdentity(r.Context(), claims.MerchantID, role, claims.Subject), http.StatusOK
}

func denied(w http.ResponseWriter, status int) {
	code := "unauthorized"
	if status == http.StatusForbidden {
		code = "forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	token = strings.TrimSpace(token)
	if strings.ContainsAny(token, " \t") {
		return ""
	}
	return token
}
