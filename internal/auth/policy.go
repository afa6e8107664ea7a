package auth

import (
	"net/http"
	"strings"
)

// Rule maps a path pattern to the role it requires. Path matches exactly
// unless Prefix is set; Contains further narrows a prefix match.
type Rule struct {
	Path     string
	Prefix   bool
	Contains string
	Role     Role
}

func (r Rule) matches(path string) bool {
	if !r.Prefix {
		return path == r.Path
	}
	return strings.HasPrefix(path, r.Path) && strings.Contains(path, r.Contains)
}

// billingRules is checked top to bottom; the first match wins.
var billingRules = []Rule{
	{Path: "/api/v1/billing/rollover", Role: RoleAdmin},
	{Path: "/api/v1/billing/cycles/", Prefix: true, Contains: "/statement.", Role: RoleAdmin},
	{Path: "/api/v1/billing/orders/process", Role: RoleOperator},
	{Path: "/api/v1/orders/status-changes", Role: RoleOperator},
	{Path: "/api/v1/billing/plans", Role: RoleViewer},
	{Path: "/api/v1/billing/merchants/", Prefix: true, Role: RoleViewer},
}

// Policy decides which requests need a token and which role they need.
type Policy struct {
	exempt   map[string]struct{}
	prefixes []string
	rules    []Rule
}

// NewDefaultPolicy builds the billing API policy. Requests matching
// exemptPaths or exemptPrefixes skip authentication.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		exempt[path] = struct{}{}
	}
	return Policy{exempt: exempt, prefixes: exemptPrefixes, rules: billingRules}
}

// IsExempt reports whether r bypasses authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.exempt[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role r needs. ok is false for paths outside /api/.
func (p Policy) RequiredRole(r *http.Request) (role Role, ok bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.rules {
		if rule.matches(r.URL.Path) {
			return rule.Role, true
		}
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
