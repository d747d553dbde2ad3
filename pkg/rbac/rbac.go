// Package rbac answers two questions for every byte that leaves the
// core: may this principal perform the action, and which fields of a
// record are they allowed to see. Role checks follow a total hierarchy;
// field visibility follows an independent 1..6 data-access lattice.
package rbac

import "strings"

// Role is a position in the total role hierarchy. Higher levels strictly
// dominate lower ones for role-gated access.
type Role string

const (
	RoleCreativeDirector Role = "creative_director"
	RoleSalesperson      Role = "salesperson"
	RoleDirector         Role = "director"
	RoleLeadership       Role = "leadership"
)

var roleLevels = map[Role]int{
	RoleCreativeDirector: 1,
	RoleSalesperson:      2,
	RoleDirector:         3,
	RoleLeadership:       4,
}

// Level returns the role's position in the hierarchy, 0 for unknown roles.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r dominates or equals min.
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// ParseRole normalizes a wire-format role string. Unknown strings parse
// to the empty role, which has level 0 and passes no role gate.
func ParseRole(s string) Role {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	r := Role(normalized)
	if !r.Valid() {
		return ""
	}
	return r
}

// Data-access lattice bounds.
const (
	MinDataAccessLevel = 1
	MaxDataAccessLevel = 6
)

// Principal is the authenticated user making requests.
type Principal struct {
	ID              string `json:"id"`
	Role            Role   `json:"role"`
	DataAccessLevel int    `json:"data_access_level"`
	Department      string `json:"department,omitempty"`
}

// CanRead reports whether the principal's data-access level admits a
// field annotated at the given sensitivity level.
func (p Principal) CanRead(sensitivity int) bool {
	return p.DataAccessLevel >= sensitivity
}
