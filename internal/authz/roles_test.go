package authz

import "testing"

func TestRolePrioritiesAreTotalOrder(t *testing.T) {
	seen := map[int]RoleType{}
	for _, rt := range RoleTypes() {
		p := RolePriority(rt)
		if p <= 0 {
			t.Fatalf("RolePriority(%s) = %d, want positive", rt, p)
		}
		if other, ok := seen[p]; ok {
			t.Fatalf("priority %d shared by %s and %s", p, other, rt)
		}
		seen[p] = rt
	}
	if len(seen) != 9 {
		t.Fatalf("expected 9 role types, got %d", len(seen))
	}
}

func TestRoleTypesOrderedByPriority(t *testing.T) {
	types := RoleTypes()
	for i := 1; i < len(types); i++ {
		if ComparePriorities(types[i-1], types[i]) <= 0 {
			t.Fatalf("RoleTypes not descending at %s vs %s", types[i-1], types[i])
		}
	}
}

func TestComparePriorities(t *testing.T) {
	if ComparePriorities(RoleCaregiver, RoleHelper) <= 0 {
		t.Fatal("caregiver should outrank helper")
	}
	if ComparePriorities(RoleViewer, RoleFamilyCoordinator) >= 0 {
		t.Fatal("viewer should not outrank family_coordinator")
	}
	if ComparePriorities(RoleChild, RoleChild) != 0 {
		t.Fatal("identical types should compare equal")
	}
}

func TestUnknownRoleTypeNeverOutranks(t *testing.T) {
	if RolePriority("made_up") != 0 {
		t.Fatal("unknown role type should have zero priority")
	}
	if KnownRoleType("made_up") {
		t.Fatal("made_up should not be a known role type")
	}
	if ComparePriorities("made_up", RoleBotAgent) >= 0 {
		t.Fatal("unknown type should rank below bot_agent")
	}
}

func TestOverridePriorityAboveAllRoles(t *testing.T) {
	for _, rt := range RoleTypes() {
		if RolePriority(rt) >= OverridePriority {
			t.Fatalf("%s priority %d should be below OverridePriority", rt, RolePriority(rt))
		}
	}
}
