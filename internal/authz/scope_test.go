package authz

import (
	"context"
	"testing"
)

// fixtureResolver answers relationship lookups from static maps.
type fixtureResolver struct {
	owners   map[string]string
	families map[string]string
	member   map[string][]string
	err      error
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func (f *fixtureResolver) OwnerOf(ctx context.Context, resourceType, resourceID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.owners[resourceKey(resourceType, resourceID)], nil
}

func (f *fixtureResolver) FamilyOf(ctx context.Context, resourceType, resourceID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.families[resourceKey(resourceType, resourceID)], nil
}

func (f *fixtureResolver) UserFamilies(ctx context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.member[userID], nil
}

func TestMatchScopeAll(t *testing.T) {
	ok, err := matchScope(context.Background(), &fixtureResolver{}, ScopeAll, nil, "u1", "schedule", "s1")
	if err != nil || !ok {
		t.Fatalf("all scope: ok=%v err=%v", ok, err)
	}
}

func TestMatchScopeOwn(t *testing.T) {
	r := &fixtureResolver{owners: map[string]string{"schedule/s1": "u1"}}

	ok, err := matchScope(context.Background(), r, ScopeOwn, nil, "u1", "schedule", "s1")
	if err != nil || !ok {
		t.Fatalf("owner: ok=%v err=%v", ok, err)
	}
	ok, err = matchScope(context.Background(), r, ScopeOwn, nil, "u2", "schedule", "s1")
	if err != nil || ok {
		t.Fatalf("non-owner: ok=%v err=%v", ok, err)
	}

	// A user resource matching the requesting user is their own.
	ok, err = matchScope(context.Background(), r, ScopeOwn, nil, "u3", "user", "u3")
	if err != nil || !ok {
		t.Fatalf("self user resource: ok=%v err=%v", ok, err)
	}
}

func TestMatchScopeAssigned(t *testing.T) {
	entries := []ScopeEntry{{EntityType: "resource", EntityID: "s1", ScopeType: ScopeAssigned}}

	ok, err := matchScope(context.Background(), &fixtureResolver{}, ScopeAssigned, entries, "u1", "schedule", "s1")
	if err != nil || !ok {
		t.Fatalf("assigned hit: ok=%v err=%v", ok, err)
	}
	ok, err = matchScope(context.Background(), &fixtureResolver{}, ScopeAssigned, entries, "u1", "schedule", "s2")
	if err != nil || ok {
		t.Fatalf("assigned miss: ok=%v err=%v", ok, err)
	}
}

func TestMatchScopeFamily(t *testing.T) {
	r := &fixtureResolver{
		families: map[string]string{"schedule/s1": "fam1"},
		member:   map[string][]string{"u1": {"fam1"}},
	}

	// Membership via the user's own families.
	ok, err := matchScope(context.Background(), r, ScopeFamily, nil, "u1", "schedule", "s1")
	if err != nil || !ok {
		t.Fatalf("member: ok=%v err=%v", ok, err)
	}

	// Membership via an explicit family scope entry.
	entries := []ScopeEntry{{EntityType: "family", EntityID: "fam1", ScopeType: ScopeFamily}}
	ok, err = matchScope(context.Background(), r, ScopeFamily, entries, "u2", "schedule", "s1")
	if err != nil || !ok {
		t.Fatalf("scoped entry: ok=%v err=%v", ok, err)
	}

	// Outsider with no path in.
	ok, err = matchScope(context.Background(), r, ScopeFamily, nil, "u3", "schedule", "s1")
	if err != nil || ok {
		t.Fatalf("outsider: ok=%v err=%v", ok, err)
	}

	// Resource with no family never matches.
	ok, err = matchScope(context.Background(), r, ScopeFamily, nil, "u1", "schedule", "orphan")
	if err != nil || ok {
		t.Fatalf("orphan resource: ok=%v err=%v", ok, err)
	}
}

func TestRuleMatches(t *testing.T) {
	cases := []struct {
		rule   Permission
		action string
		want   bool
	}{
		{Permission{Resource: "schedule", Action: "read"}, "schedule.read", true},
		{Permission{Resource: "schedule", Action: "read"}, "schedule.write", false},
		{Permission{Resource: "schedule", Action: "*"}, "schedule.write", true},
		{Permission{Resource: "schedule", Action: "*"}, "medical.read", false},
		{Permission{Resource: "*", Action: "*"}, "anything.at_all", true},
		{Permission{Resource: "schedule", Action: "read"}, "schedule", false},
	}
	for _, c := range cases {
		if got := ruleMatches(c.rule, c.action); got != c.want {
			t.Errorf("ruleMatches(%s.%s, %q) = %v, want %v", c.rule.Resource, c.rule.Action, c.action, got, c.want)
		}
	}
}

func TestOverrideMatches(t *testing.T) {
	granted := []string{"medical.read", "emergency.access", "location.*"}

	if !overrideMatches(granted, "medical.read") {
		t.Fatal("exact permission should match")
	}
	if !overrideMatches(granted, "location.track") {
		t.Fatal("prefix wildcard should match")
	}
	if overrideMatches(granted, "medical.write") {
		t.Fatal("ungranted action should not match")
	}
	if !overrideMatches([]string{"*"}, "schedule.write") {
		t.Fatal("star should match everything")
	}
}
