package grants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/shared"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubRepo struct {
	grants       map[string]authz.UserRole
	roles        map[authz.RoleType]authz.Role
	highest      map[string]authz.RoleType
	cascaded     []string
	expiredUsers []string

	stateChanges map[string]authz.GrantState
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		grants: map[string]authz.UserRole{},
		roles: map[authz.RoleType]authz.Role{
			authz.RoleCaregiver:   {ID: "role-caregiver", Type: authz.RoleCaregiver, State: "active"},
			authz.RoleSystemAdmin: {ID: "role-admin", Type: authz.RoleSystemAdmin, State: "active"},
		},
		highest:      map[string]authz.RoleType{},
		stateChanges: map[string]authz.GrantState{},
	}
}

func (r *stubRepo) CreateGrant(ctx context.Context, grant authz.UserRole) error {
	r.grants[grant.ID] = grant
	return nil
}

func (r *stubRepo) Grant(ctx context.Context, id string) (authz.UserRole, error) {
	g, ok := r.grants[id]
	if !ok {
		return authz.UserRole{}, shared.ErrNotFound
	}
	return g, nil
}

func (r *stubRepo) UpdateGrantState(ctx context.Context, id string, state authz.GrantState) error {
	g, ok := r.grants[id]
	if !ok {
		return shared.ErrNotFound
	}
	g.State = state
	r.grants[id] = g
	r.stateChanges[id] = state
	return nil
}

func (r *stubRepo) RevokeDelegationsFromGrant(ctx context.Context, grantID string) ([]string, error) {
	return r.cascaded, nil
}

func (r *stubRepo) RoleByType(ctx context.Context, t authz.RoleType) (authz.Role, error) {
	role, ok := r.roles[t]
	if !ok {
		return authz.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (r *stubRepo) HighestActiveRole(ctx context.Context, userID string, now time.Time) (authz.RoleType, bool, error) {
	t, ok := r.highest[userID]
	return t, ok, nil
}

func (r *stubRepo) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	return r.expiredUsers, nil
}

type recordingInvalidator struct {
	events []authz.Event
}

func (i *recordingInvalidator) InvalidateFromTrigger(ctx context.Context, ev authz.Event) error {
	i.events = append(i.events, ev)
	return nil
}

type nopSink struct{ entries []authz.AuditEntry }

func (s *nopSink) Record(entry authz.AuditEntry) { s.entries = append(s.entries, entry) }

func newTestService(repo *stubRepo) (*Service, *recordingInvalidator, *nopSink) {
	inv := &recordingInvalidator{}
	sink := &nopSink{}
	svc := NewService(repo, inv, sink, nil).WithClock(func() time.Time { return testNow })
	return svc, inv, sink
}

func TestAssignRole(t *testing.T) {
	repo := newStubRepo()
	svc, inv, sink := newTestService(repo)

	grant, err := svc.AssignRole(context.Background(), AssignInput{
		UserID:    "u1",
		RoleType:  authz.RoleCaregiver,
		GrantedBy: "admin",
		Reason:    "primary caregiver",
		Scopes:    []authz.ScopeEntry{{EntityType: "family", EntityID: "fam1", ScopeType: authz.ScopeFamily}},
	})
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if grant.ID == "" || grant.State != authz.GrantActive {
		t.Fatalf("grant = %+v", grant)
	}
	if grant.ValidFrom != testNow {
		t.Fatalf("validFrom defaulted to %s, want %s", grant.ValidFrom, testNow)
	}
	if len(inv.events) != 1 || inv.events[0].Type != authz.EventRoleAssigned || inv.events[0].UserID != "u1" {
		t.Fatalf("invalidations = %+v", inv.events)
	}
	if len(sink.entries) != 1 || sink.entries[0].Action != "role.assign" {
		t.Fatalf("audit = %+v", sink.entries)
	}
}

func TestAssignRoleRequiresApproval(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo)

	grant, err := svc.AssignRole(context.Background(), AssignInput{
		UserID: "u1", RoleType: authz.RoleCaregiver, GrantedBy: "admin", RequireApproval: true,
	})
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if grant.State != authz.GrantPendingApproval {
		t.Fatalf("state = %s, want pending_approval", grant.State)
	}
}

func TestAssignRoleValidation(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo)

	if _, err := svc.AssignRole(context.Background(), AssignInput{RoleType: authz.RoleCaregiver, GrantedBy: "admin"}); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("missing user: err = %v", err)
	}
	if _, err := svc.AssignRole(context.Background(), AssignInput{UserID: "u1", RoleType: "landlord", GrantedBy: "admin"}); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("unknown role: err = %v", err)
	}
	_, err := svc.AssignRole(context.Background(), AssignInput{
		UserID: "u1", RoleType: authz.RoleCaregiver, GrantedBy: "admin",
		Scopes: []authz.ScopeEntry{{EntityType: "spaceship", EntityID: "x"}},
	})
	if !errors.Is(err, shared.ErrInvalidScope) {
		t.Fatalf("bad scope entity: err = %v", err)
	}
}

func TestApproveGrant(t *testing.T) {
	repo := newStubRepo()
	repo.grants["g1"] = authz.UserRole{ID: "g1", UserID: "u1", State: authz.GrantPendingApproval}
	svc, inv, _ := newTestService(repo)

	if err := svc.ApproveGrant(context.Background(), "g1", "admin"); err != nil {
		t.Fatalf("ApproveGrant: %v", err)
	}
	if repo.stateChanges["g1"] != authz.GrantActive {
		t.Fatalf("state = %s, want active", repo.stateChanges["g1"])
	}
	if len(inv.events) != 1 {
		t.Fatalf("invalidations = %+v", inv.events)
	}

	// Approving twice fails; the grant is no longer pending.
	if err := svc.ApproveGrant(context.Background(), "g1", "admin"); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("second approve: err = %v", err)
	}
}

func TestSuspendAndResume(t *testing.T) {
	repo := newStubRepo()
	repo.grants["g1"] = authz.UserRole{ID: "g1", UserID: "u1", State: authz.GrantActive}
	svc, _, _ := newTestService(repo)

	if err := svc.SuspendGrant(context.Background(), "g1", "admin", "vacation"); err != nil {
		t.Fatalf("SuspendGrant: %v", err)
	}
	if repo.stateChanges["g1"] != authz.GrantSuspended {
		t.Fatal("grant not suspended")
	}
	if err := svc.SuspendGrant(context.Background(), "g1", "admin", ""); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("double suspend: err = %v", err)
	}
	if err := svc.ResumeGrant(context.Background(), "g1", "admin", "back"); err != nil {
		t.Fatalf("ResumeGrant: %v", err)
	}
	if repo.stateChanges["g1"] != authz.GrantActive {
		t.Fatal("grant not resumed")
	}
}

func TestRevokeRoleCascades(t *testing.T) {
	repo := newStubRepo()
	repo.grants["g1"] = authz.UserRole{ID: "g1", UserID: "u1", RoleType: authz.RoleCaregiver, State: authz.GrantActive}
	repo.cascaded = []string{"u2", "u3"}
	svc, inv, _ := newTestService(repo)

	if err := svc.RevokeRole(context.Background(), "g1", "admin", "left family"); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if repo.stateChanges["g1"] != authz.GrantRevoked {
		t.Fatal("grant not revoked")
	}
	// One invalidation for the grant holder plus one per delegation recipient.
	if len(inv.events) != 3 {
		t.Fatalf("invalidations = %+v", inv.events)
	}
}

func TestRevokeSystemAdminProtected(t *testing.T) {
	repo := newStubRepo()
	repo.grants["g1"] = authz.UserRole{ID: "g1", UserID: "root", RoleType: authz.RoleSystemAdmin, State: authz.GrantActive}
	svc, _, _ := newTestService(repo)

	if err := svc.RevokeRole(context.Background(), "g1", "coordinator", ""); !errors.Is(err, shared.ErrProtectedRole) {
		t.Fatalf("non-admin actor: err = %v", err)
	}

	repo.highest["other-admin"] = authz.RoleSystemAdmin
	if err := svc.RevokeRole(context.Background(), "g1", "other-admin", "rotation"); err != nil {
		t.Fatalf("admin actor: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	repo := newStubRepo()
	repo.expiredUsers = []string{"u1", "u2"}
	svc, inv, _ := newTestService(repo)

	n, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept = %d, want 2", n)
	}
	if len(inv.events) != 2 {
		t.Fatalf("invalidations = %+v", inv.events)
	}
}
