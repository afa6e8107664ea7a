package auth

import "strings"

// Role is the access level named by a token's role claim.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// viewers read usage and plans, operators feed orders in, admins close cycles
// and export statements.
var roleLevels = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole lowercases value and reports whether it names a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleLevels[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role carries at least the access of required.
func RoleAtLeast(role, required Role) bool {
	have, ok := roleLevels[role]
	return ok && have >= roleLevels[required]
}
