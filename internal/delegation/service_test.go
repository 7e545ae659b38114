package delegation

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
	delegations  map[string]authz.Delegation
	grants       map[string][]authz.UserRole
	expiredUsers []string

	stateChanges map[string]authz.DelegationState
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		delegations:  map[string]authz.Delegation{},
		grants:       map[string][]authz.UserRole{},
		stateChanges: map[string]authz.DelegationState{},
	}
}

func (r *stubRepo) CreateDelegation(ctx context.Context, d authz.Delegation) error {
	r.delegations[d.ID] = d
	return nil
}

func (r *stubRepo) Delegation(ctx context.Context, id string) (authz.Delegation, error) {
	d, ok := r.delegations[id]
	if !ok {
		return authz.Delegation{}, shared.ErrNotFound
	}
	return d, nil
}

func (r *stubRepo) UpdateDelegationState(ctx context.Context, id string, state authz.DelegationState) error {
	d, ok := r.delegations[id]
	if !ok {
		return shared.ErrNotFound
	}
	d.State = state
	r.delegations[id] = d
	r.stateChanges[id] = state
	return nil
}

func (r *stubRepo) ActiveGrantsFor(ctx context.Context, userID string, now time.Time) ([]authz.UserRole, error) {
	return r.grants[userID], nil
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

func validInput() CreateInput {
	return CreateInput{
		FromUserID: "u1",
		ToUserID:   "u2",
		RoleID:     "role-caregiver",
		ValidFrom:  testNow,
		ValidUntil: testNow.Add(48 * time.Hour),
		Reason:     "travel coverage",
	}
}

func TestCreateDelegation(t *testing.T) {
	repo := newStubRepo()
	svc, inv, sink := newTestService(repo)

	d, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.State != authz.DelegationPending {
		t.Fatalf("state = %s, want pending", d.State)
	}
	if len(inv.events) != 1 || inv.events[0].UserID != "u2" {
		t.Fatalf("invalidations = %+v", inv.events)
	}
	if len(sink.entries) != 1 || sink.entries[0].Action != "delegation.create" {
		t.Fatalf("audit = %+v", sink.entries)
	}
}

func TestCreateDelegationValidation(t *testing.T) {
	repo := newStubRepo()
	svc, _, _ := newTestService(repo)

	in := validInput()
	in.ToUserID = in.FromUserID
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, shared.ErrSelfDelegation) {
		t.Fatalf("self delegation: err = %v", err)
	}

	in = validInput()
	in.ValidUntil = in.ValidFrom
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("empty window: err = %v", err)
	}

	in = validInput()
	in.RoleID = ""
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("missing role: err = %v", err)
	}
}

func TestApproveRequiresCoordinator(t *testing.T) {
	repo := newStubRepo()
	repo.delegations["d1"] = authz.Delegation{ID: "d1", ToUserID: "u2", State: authz.DelegationPending}
	repo.grants["helper"] = []authz.UserRole{{RoleType: authz.RoleHelper}}
	repo.grants["coord"] = []authz.UserRole{{RoleType: authz.RoleFamilyCoordinator}}
	svc, inv, _ := newTestService(repo)

	if err := svc.Approve(context.Background(), "d1", "helper"); !errors.Is(err, shared.ErrInsufficientAuthority) {
		t.Fatalf("helper approver: err = %v", err)
	}
	if err := svc.Approve(context.Background(), "d1", "nobody"); !errors.Is(err, shared.ErrInsufficientAuthority) {
		t.Fatalf("roleless approver: err = %v", err)
	}

	if err := svc.Approve(context.Background(), "d1", "coord"); err != nil {
		t.Fatalf("coordinator approver: %v", err)
	}
	if repo.stateChanges["d1"] != authz.DelegationActive {
		t.Fatal("delegation not activated")
	}
	if len(inv.events) != 1 || inv.events[0].UserID != "u2" {
		t.Fatalf("invalidations = %+v", inv.events)
	}
}

func TestApproveScopedAuthority(t *testing.T) {
	repo := newStubRepo()
	repo.delegations["d1"] = authz.Delegation{
		ID: "d1", ToUserID: "u2", State: authz.DelegationPending,
		Scopes: []authz.ScopeEntry{{EntityType: "family", EntityID: "fam1"}},
	}
	// Coordinator scoped to a different family cannot approve.
	repo.grants["coord"] = []authz.UserRole{{
		RoleType: authz.RoleFamilyCoordinator,
		Scopes:   []authz.ScopeEntry{{EntityType: "family", EntityID: "fam2"}},
	}}
	svc, _, _ := newTestService(repo)

	if err := svc.Approve(context.Background(), "d1", "coord"); !errors.Is(err, shared.ErrInsufficientAuthority) {
		t.Fatalf("out-of-scope approver: err = %v", err)
	}

	repo.grants["coord"] = []authz.UserRole{{
		RoleType: authz.RoleFamilyCoordinator,
		Scopes:   []authz.ScopeEntry{{EntityType: "family", EntityID: "fam1"}},
	}}
	if err := svc.Approve(context.Background(), "d1", "coord"); err != nil {
		t.Fatalf("in-scope approver: %v", err)
	}
}

func TestApproveOnlyPending(t *testing.T) {
	repo := newStubRepo()
	repo.delegations["d1"] = authz.Delegation{ID: "d1", State: authz.DelegationActive}
	svc, _, _ := newTestService(repo)

	if err := svc.Approve(context.Background(), "d1", "coord"); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("active delegation approve: err = %v", err)
	}
}

func TestRevokeDelegation(t *testing.T) {
	repo := newStubRepo()
	repo.delegations["d1"] = authz.Delegation{ID: "d1", ToUserID: "u2", State: authz.DelegationActive}
	svc, inv, _ := newTestService(repo)

	if err := svc.Revoke(context.Background(), "d1", "u1", "returned early"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if repo.stateChanges["d1"] != authz.DelegationRevoked {
		t.Fatal("delegation not revoked")
	}
	if len(inv.events) != 1 || inv.events[0].Type != authz.EventDelegationRevoked {
		t.Fatalf("invalidations = %+v", inv.events)
	}

	if err := svc.Revoke(context.Background(), "d1", "u1", ""); !errors.Is(err, shared.ErrInvalidInput) {
		t.Fatalf("double revoke: err = %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	repo := newStubRepo()
	repo.expiredUsers = []string{"u2"}
	svc, inv, _ := newTestService(repo)

	n, err := svc.SweepExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired = %d, %v", n, err)
	}
	if len(inv.events) != 1 || inv.events[0].UserID != "u2" {
		t.Fatalf("invalidations = %+v", inv.events)
	}
}
