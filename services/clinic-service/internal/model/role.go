package model

// Role is the closed set of caller roles. Access checks compare ranks
// instead of string-matching role names at every call site.
type Role string

const (
	RoleCustomer   Role = "CUSTOMER"
	RoleStaff      Role = "STAFF"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

var roleRank = map[Role]int{
	RoleCustomer:   1,
	RoleStaff:      2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleRank[r]
	return r, ok
}

// AtLeast reports whether r carries at least the capabilities of required.
func (r Role) AtLeast(required Role) bool {
	return roleRank[r] >= roleRank[required] && roleRank[r] > 0
}

// IsStaff reports whether r belongs to the staff tier (STAFF, ADMIN,
// SUPER_ADMIN).
func (r Role) IsStaff() bool {
	return r.AtLeast(RoleStaff)
}
