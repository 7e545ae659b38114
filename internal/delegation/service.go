// Package delegation manages time-boxed role transfers between users.
package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/shared"
)

// RepositoryPort defines data access methods for delegations.
type RepositoryPort interface {
	CreateDelegation(ctx context.Context, d authz.Delegation) error
	Delegation(ctx context.Context, id string) (authz.Delegation, error)
	UpdateDelegationState(ctx context.Context, id string, state authz.DelegationState) error
	// ActiveGrantsFor returns the approver's active grants with scopes,
	// used for the coordinator-or-higher authority check.
	ActiveGrantsFor(ctx context.Context, userID string, now time.Time) ([]authz.UserRole, error)
	// ExpireDue marks active delegations past validUntil as expired and
	// returns the affected recipient user IDs.
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

// Invalidator consumes cache-invalidation events.
type Invalidator interface {
	InvalidateFromTrigger(ctx context.Context, ev authz.Event) error
}

// Service handles delegation business logic.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	audit       authz.AuditSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, invalidator Invalidator, audit authz.AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, audit: audit, logger: logger, now: time.Now}
}

// WithClock substitutes the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput collects the parameters of a delegation.
type CreateInput struct {
	FromUserID    string
	ToUserID      string
	RoleID        string
	SourceGrantID string
	ValidFrom     time.Time
	ValidUntil    time.Time
	Reason        string
	Scopes        []authz.ScopeEntry
}

// Create records a pending delegation. Activation requires approval.
func (s *Service) Create(ctx context.Context, in CreateInput) (authz.Delegation, error) {
	if in.FromUserID == "" || in.ToUserID == "" || in.RoleID == "" {
		return authz.Delegation{}, shared.ErrInvalidInput
	}
	if in.FromUserID == in.ToUserID {
		return authz.Delegation{}, shared.ErrSelfDelegation
	}
	if !in.ValidUntil.After(in.ValidFrom) {
		return authz.Delegation{}, fmt.Errorf("%w: validUntil must follow validFrom", shared.ErrInvalidInput)
	}

	d := authz.Delegation{
		ID:            uuid.NewString(),
		FromUserID:    in.FromUserID,
		ToUserID:      in.ToUserID,
		RoleID:        in.RoleID,
		SourceGrantID: in.SourceGrantID,
		ValidFrom:     in.ValidFrom,
		ValidUntil:    in.ValidUntil,
		Reason:        in.Reason,
		State:         authz.DelegationPending,
		Scopes:        in.Scopes,
	}
	if err := s.repo.CreateDelegation(ctx, d); err != nil {
		return authz.Delegation{}, err
	}

	s.recordMutation(in.FromUserID, "delegation.create", d.ID, in.Reason)
	s.invalidate(ctx, authz.Event{Type: authz.EventDelegationCreated, UserID: in.ToUserID})
	return d, nil
}

// Approve transitions pending to active. The approver must hold a
// family_coordinator-or-higher role whose scope covers the delegation's.
func (s *Service) Approve(ctx context.Context, delegationID, approvedBy string) error {
	d, err := s.repo.Delegation(ctx, delegationID)
	if err != nil {
		return err
	}
	if d.State != authz.DelegationPending {
		return fmt.Errorf("%w: delegation is %s", shared.ErrInvalidInput, d.State)
	}

	ok, err := s.hasAuthorityOver(ctx, approvedBy, d.Scopes)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrInsufficientAuthority
	}

	if err := s.repo.UpdateDelegationState(ctx, delegationID, authz.DelegationActive); err != nil {
		return err
	}
	s.recordMutation(approvedBy, "delegation.approve", delegationID, "")
	s.invalidate(ctx, authz.Event{Type: authz.EventDelegationCreated, UserID: d.ToUserID})
	return nil
}

// Revoke ends a delegation before its window closes.
func (s *Service) Revoke(ctx context.Context, delegationID, actor, reason string) error {
	d, err := s.repo.Delegation(ctx, delegationID)
	if err != nil {
		return err
	}
	if d.State == authz.DelegationRevoked || d.State == authz.DelegationExpired {
		return fmt.Errorf("%w: delegation is %s", shared.ErrInvalidInput, d.State)
	}
	if err := s.repo.UpdateDelegationState(ctx, delegationID, authz.DelegationRevoked); err != nil {
		return err
	}
	s.recordMutation(actor, "delegation.revoke", delegationID, reason)
	s.invalidate(ctx, authz.Event{Type: authz.EventDelegationRevoked, UserID: d.ToUserID})
	return nil
}

// SweepExpired marks delegations past validUntil as expired. Read-time
// window checks in the evaluator stay authoritative.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	users, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, userID := range users {
		s.invalidate(ctx, authz.Event{Type: authz.EventDelegationRevoked, UserID: userID})
	}
	return len(users), nil
}

// hasAuthorityOver checks for an active coordinator-or-higher grant
// whose scope covers every scope entry of the delegation. An unscoped
// grant covers everything.
func (s *Service) hasAuthorityOver(ctx context.Context, userID string, scopes []authz.ScopeEntry) (bool, error) {
	grants, err := s.repo.ActiveGrantsFor(ctx, userID, s.now())
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if authz.ComparePriorities(g.RoleType, authz.RoleFamilyCoordinator) < 0 {
			continue
		}
		if scopesCover(g.Scopes, scopes) {
			return true, nil
		}
	}
	return false, nil
}

func scopesCover(held, needed []authz.ScopeEntry) bool {
	if len(held) == 0 {
		return true
	}
	for _, n := range needed {
		covered := false
		for _, h := range held {
			if h.EntityType == n.EntityType && h.EntityID == n.EntityID {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func (s *Service) invalidate(ctx context.Context, ev authz.Event) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateFromTrigger(ctx, ev); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.String("event", string(ev.Type)), slog.Any("error", err))
	}
}

func (s *Service) recordMutation(actor, action, delegationID, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(authz.AuditEntry{
		Timestamp:    s.now(),
		UserID:       actor,
		Action:       action,
		ResourceID:   delegationID,
		ResourceType: "delegation",
		Allowed:      true,
		Reason:       reason,
	})
}
