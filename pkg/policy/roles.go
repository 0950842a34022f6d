package policy

// Role names, ordered member < admin < owner
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// roleLevels maps role names to numeric privilege levels. Unknown roles map
// to 0 — no access.
var roleLevels = map[string]int{
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Permission names
const (
	PermProbesExecute = "probes.execute"
	PermAgentsView    = "agents.view"
	PermAgentsEnroll  = "agents.enroll"
	PermTokensManage  = "tokens.manage"
	PermKeysManage    = "keys.manage"
	PermAuditView     = "audit.view"
	PermUsersManage   = "users.manage"
	PermGroupsManage  = "groups.manage"
)

// rolePermissions lists each role's own additions. A role's effective set
// is the union of all lower roles' permissions plus these.
var rolePermissions = map[string][]string{
	RoleMember: {
		PermProbesExecute,
		PermAgentsView,
	},
	RoleAdmin: {
		PermAgentsEnroll,
		PermTokensManage,
		PermKeysManage,
		PermAuditView,
	},
	RoleOwner: {
		PermUsersManage,
		PermGroupsManage,
	},
}

// roleOrder lists roles from lowest to highest for inheritance expansion
var roleOrder = []string{RoleMember, RoleAdmin, RoleOwner}

// effectivePermissions holds the expanded, inherited permission set per role
var effectivePermissions = buildEffectivePermissions()

func buildEffectivePermissions() map[string]map[string]bool {
	expanded := make(map[string]map[string]bool, len(roleOrder))
	inherited := make(map[string]bool)
	for _, role := range roleOrder {
		for _, perm := range rolePermissions[role] {
			inherited[perm] = true
		}
		set := make(map[string]bool, len(inherited))
		for perm := range inherited {
			set[perm] = true
		}
		expanded[role] = set
	}
	return expanded
}

// RoleLevel returns the numeric privilege level of a role. Unknown role
// strings return 0 (fail closed).
func RoleLevel(role string) int {
	return roleLevels[role]
}

// HasMinimumRole reports whether role meets or exceeds min in the role
// order. Unknown roles on either side compare at level 0, so an unknown
// caller role never passes and an unknown minimum is met by any known role.
func HasMinimumRole(role, min string) bool {
	return RoleLevel(role) >= RoleLevel(min) && RoleLevel(role) > 0
}

// HasPermission reports whether a role's effective (inherited) permission
// set contains perm. Unknown roles have no permissions.
func HasPermission(role, perm string) bool {
	set, ok := effectivePermissions[role]
	if !ok {
		return false
	}
	return set[perm]
}

// Permissions returns the effective permission set of a role, nil for
// unknown roles
func Permissions(role string) []string {
	set, ok := effectivePermissions[role]
	if !ok {
		return nil
	}
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	return perms
}
