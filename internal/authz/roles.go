package authz

// Role priorities form a strict total order; no two role types share a
// value. Emergency overrides sit above every role at OverridePriority.
var rolePriorities = map[RoleType]int{
	RoleSystemAdmin:       200,
	RoleFamilyCoordinator: 100,
	RoleCaregiver:         90,
	RoleCareRecipient:     70,
	RoleHelper:            60,
	RoleEmergencyContact:  50,
	RoleChild:             40,
	RoleViewer:            30,
	RoleBotAgent:          10,
}

// OverridePriority ranks an active emergency override above every role
// based allow source. Explicit denies still win regardless.
const OverridePriority = 1000

// RolePriority returns the fixed priority for a role type, or 0 for an
// unknown type so malformed rows never outrank real grants.
func RolePriority(t RoleType) int {
	return rolePriorities[t]
}

// KnownRoleType reports whether t is one of the fixed role variants.
func KnownRoleType(t RoleType) bool {
	_, ok := rolePriorities[t]
	return ok
}

// ComparePriorities returns >0 when a outranks b, <0 when b outranks a,
// and 0 only when both types are identical or both unknown.
func ComparePriorities(a, b RoleType) int {
	return rolePriorities[a] - rolePriorities[b]
}

// RoleTypes lists the fixed role variants, highest priority first.
func RoleTypes() []RoleType {
	return []RoleType{
		RoleSystemAdmin,
		RoleFamilyCoordinator,
		RoleCaregiver,
		RoleCareRecipient,
		RoleHelper,
		RoleEmergencyContact,
		RoleChild,
		RoleViewer,
		RoleBotAgent,
	}
}
