// Package grants manages direct role assignments and their lifecycle.
package grants

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/shared"
)

// RepositoryPort defines data access methods for role grants.
type RepositoryPort interface {
	CreateGrant(ctx context.Context, grant authz.UserRole) error
	Grant(ctx context.Context, id string) (authz.UserRole, error)
	UpdateGrantState(ctx context.Context, id string, state authz.GrantState) error
	// RevokeDelegationsFromGrant revokes delegations sourced from the
	// grant and returns the affected recipient user IDs.
	RevokeDelegationsFromGrant(ctx context.Context, grantID string) ([]string, error)
	RoleByType(ctx context.Context, t authz.RoleType) (authz.Role, error)
	HighestActiveRole(ctx context.Context, userID string, now time.Time) (authz.RoleType, bool, error)
	// ExpireDue marks active grants past validUntil as expired and returns
	// the affected user IDs.
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

// Invalidator consumes cache-invalidation events.
type Invalidator interface {
	InvalidateFromTrigger(ctx context.Context, ev authz.Event) error
}

// Service handles grant business logic.
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

// AssignInput collects the parameters of a role assignment.
type AssignInput struct {
	UserID          string
	RoleType        authz.RoleType
	GrantedBy       string
	Reason          string
	Scopes          []authz.ScopeEntry
	ValidFrom       time.Time
	ValidUntil      *time.Time
	RequireApproval bool
}

var allowedScopeEntities = map[string]struct{}{
	"user":     {},
	"family":   {},
	"resource": {},
}

func validateScopes(scopes []authz.ScopeEntry) error {
	for _, e := range scopes {
		if _, ok := allowedScopeEntities[e.EntityType]; !ok {
			return fmt.Errorf("%w: %q", shared.ErrInvalidScope, e.EntityType)
		}
	}
	return nil
}

// AssignRole grants a role to a user. The grant starts in
// pending_approval when approval is required, active otherwise.
func (s *Service) AssignRole(ctx context.Context, in AssignInput) (authz.UserRole, error) {
	if in.UserID == "" || in.GrantedBy == "" {
		return authz.UserRole{}, shared.ErrInvalidInput
	}
	if !authz.KnownRoleType(in.RoleType) {
		return authz.UserRole{}, fmt.Errorf("%w: unknown role type %q", shared.ErrInvalidInput, in.RoleType)
	}
	if err := validateScopes(in.Scopes); err != nil {
		return authz.UserRole{}, err
	}

	role, err := s.repo.RoleByType(ctx, in.RoleType)
	if err != nil {
		return authz.UserRole{}, err
	}

	now := s.now()
	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	state := authz.GrantActive
	if in.RequireApproval {
		state = authz.GrantPendingApproval
	}
	grant := authz.UserRole{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		RoleID:     role.ID,
		RoleType:   in.RoleType,
		GrantedBy:  in.GrantedBy,
		Reason:     in.Reason,
		ValidFrom:  validFrom,
		ValidUntil: in.ValidUntil,
		State:      state,
		Scopes:     in.Scopes,
	}
	if err := s.repo.CreateGrant(ctx, grant); err != nil {
		return authz.UserRole{}, err
	}

	s.recordMutation(in.GrantedBy, "role.assign", grant.ID, in.Reason)
	s.invalidate(ctx, authz.Event{Type: authz.EventRoleAssigned, UserID: in.UserID})
	return grant, nil
}

// ApproveGrant activates a pending grant.
func (s *Service) ApproveGrant(ctx context.Context, grantID, approvedBy string) error {
	grant, err := s.repo.Grant(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.State != authz.GrantPendingApproval {
		return fmt.Errorf("%w: grant not pending", shared.ErrInvalidInput)
	}
	if err := s.repo.UpdateGrantState(ctx, grantID, authz.GrantActive); err != nil {
		return err
	}
	s.recordMutation(approvedBy, "role.approve", grantID, "")
	s.invalidate(ctx, authz.Event{Type: authz.EventRoleAssigned, UserID: grant.UserID})
	return nil
}

// SuspendGrant administratively suspends an active grant.
func (s *Service) SuspendGrant(ctx context.Context, grantID, actor, reason string) error {
	return s.transition(ctx, grantID, actor, reason, authz.GrantActive, authz.GrantSuspended, "role.suspend")
}

// ResumeGrant reactivates a suspended grant.
func (s *Service) ResumeGrant(ctx context.Context, grantID, actor, reason string) error {
	return s.transition(ctx, grantID, actor, reason, authz.GrantSuspended, authz.GrantActive, "role.resume")
}

func (s *Service) transition(ctx context.Context, grantID, actor, reason string, from, to authz.GrantState, action string) error {
	grant, err := s.repo.Grant(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.State != from {
		return fmt.Errorf("%w: grant is %s", shared.ErrInvalidInput, grant.State)
	}
	if err := s.repo.UpdateGrantState(ctx, grantID, to); err != nil {
		return err
	}
	s.recordMutation(actor, action, grantID, reason)
	s.invalidate(ctx, authz.Event{Type: authz.EventRoleRevoked, UserID: grant.UserID})
	return nil
}

// RevokeRole marks a grant revoked and cascades revocation to
// delegations sourced from it. Revoking a system_admin grant requires
// the actor to hold system_admin themselves.
func (s *Service) RevokeRole(ctx context.Context, grantID, actor, reason string) error {
	grant, err := s.repo.Grant(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.RoleType == authz.RoleSystemAdmin {
		top, ok, err := s.repo.HighestActiveRole(ctx, actor, s.now())
		if err != nil {
			return err
		}
		if !ok || top != authz.RoleSystemAdmin {
			return shared.ErrProtectedRole
		}
	}
	if err := s.repo.UpdateGrantState(ctx, grantID, authz.GrantRevoked); err != nil {
		return err
	}

	recipients, err := s.repo.RevokeDelegationsFromGrant(ctx, grantID)
	if err != nil {
		// The grant itself is revoked; surface the cascade failure.
		return fmt.Errorf("grants: cascade revoke: %w", err)
	}

	s.recordMutation(actor, "role.revoke", grantID, reason)
	s.invalidate(ctx, authz.Event{Type: authz.EventRoleRevoked, UserID: grant.UserID})
	for _, userID := range recipients {
		s.invalidate(ctx, authz.Event{Type: authz.EventDelegationRevoked, UserID: userID})
	}
	return nil
}

// SweepExpired lazily updates stored state for grants past validUntil.
// Read-time validity checks in the evaluator stay authoritative; this
// only keeps rows tidy and emits invalidations.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	users, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, userID := range users {
		s.invalidate(ctx, authz.Event{Type: authz.EventRoleRevoked, UserID: userID})
	}
	return len(users), nil
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

func (s *Service) recordMutation(actor, action, grantID, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(authz.AuditEntry{
		Timestamp:    s.now(),
		UserID:       actor,
		Action:       action,
		ResourceID:   grantID,
		ResourceType: "user_role",
		Allowed:      true,
		Reason:       reason,
	})
}
