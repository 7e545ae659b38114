// Package emergency manages audited, time-boxed access elevations.
package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/shared"
)

// Duration bounds in minutes for an override.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 1440
)

// grantedBundles maps each reason code to its fixed permission bundle.
var grantedBundles = map[authz.OverrideReason][]string{
	authz.ReasonMedicalEmergency:     {"medical.read", "emergency.access"},
	authz.ReasonCaregiverUnavailable: {"schedule.read", "schedule.write", "medical.read"},
	authz.ReasonChildSafety:          {"location.read", "emergency.access"},
	authz.ReasonNaturalDisaster:      {"location.read", "emergency.access", "schedule.read"},
}

// GrantedPermissions returns the fixed bundle for a reason code.
func GrantedPermissions(reason authz.OverrideReason) ([]string, bool) {
	bundle, ok := grantedBundles[reason]
	return bundle, ok
}

// Notification describes one recipient message. Delivery is handled by
// an external dispatcher; failures are logged, never propagated.
type Notification struct {
	Recipient    string
	TriggeredBy  string
	AffectedUser string
	Reason       authz.OverrideReason
	ExpiresAt    time.Time
	Deactivated  bool
}

// Notifier dispatches override notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RepositoryPort defines data access methods for overrides.
type RepositoryPort interface {
	CreateOverride(ctx context.Context, o authz.EmergencyOverride) error
	Override(ctx context.Context, id string) (authz.EmergencyOverride, error)
	// ActiveForPair reports whether an override is live for the
	// (triggeredBy, affectedUser) pair at the given instant.
	ActiveForPair(ctx context.Context, triggeredBy, affectedUser string, now time.Time) (bool, error)
	Deactivate(ctx context.Context, id string, at time.Time) error
	// ActiveGrantsFor returns the user's active grants with role types
	// and scopes, used for the authority-over-affected-user check.
	ActiveGrantsFor(ctx context.Context, userID string, now time.Time) ([]authz.UserRole, error)
	// FamiliesOf lists the families the user belongs to.
	FamiliesOf(ctx context.Context, userID string) ([]string, error)
	// ArchiveExpired ends overrides past expiresAt and returns the
	// affected trigger user IDs.
	ArchiveExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Invalidator consumes cache-invalidation events.
type Invalidator interface {
	InvalidateFromTrigger(ctx context.Context, ev authz.Event) error
}

// Manager orchestrates override activation and deactivation.
type Manager struct {
	repo        RepositoryPort
	notifier    Notifier
	recipients  []string
	invalidator Invalidator
	audit       authz.AuditSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager builds a Manager. recipients lists the user IDs notified on
// every activation and deactivation.
func NewManager(repo RepositoryPort, notifier Notifier, recipients []string, invalidator Invalidator, audit authz.AuditSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:        repo,
		notifier:    notifier,
		recipients:  recipients,
		invalidator: invalidator,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock substitutes the clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// ActivateInput collects the parameters of an override activation.
type ActivateInput struct {
	TriggeredBy     string
	AffectedUser    string
	Reason          authz.OverrideReason
	DurationMinutes int
	Justification   string
}

// Activate starts an override. Only one may be live per
// (triggeredBy, affectedUser) pair at a time.
func (m *Manager) Activate(ctx context.Context, in ActivateInput) (authz.EmergencyOverride, error) {
	if in.TriggeredBy == "" || in.AffectedUser == "" {
		return authz.EmergencyOverride{}, shared.ErrInvalidInput
	}
	if in.DurationMinutes < MinDurationMinutes || in.DurationMinutes > MaxDurationMinutes {
		return authz.EmergencyOverride{}, fmt.Errorf("%w: %d minutes", shared.ErrInvalidDuration, in.DurationMinutes)
	}
	bundle, ok := GrantedPermissions(in.Reason)
	if !ok {
		return authz.EmergencyOverride{}, fmt.Errorf("%w: unknown reason %q", shared.ErrInvalidInput, in.Reason)
	}

	now := m.now()
	ok, err := m.hasAuthorityOver(ctx, in.TriggeredBy, in.AffectedUser, now)
	if err != nil {
		return authz.EmergencyOverride{}, err
	}
	if !ok {
		return authz.EmergencyOverride{}, shared.ErrInsufficientAuthority
	}

	active, err := m.repo.ActiveForPair(ctx, in.TriggeredBy, in.AffectedUser, now)
	if err != nil {
		return authz.EmergencyOverride{}, err
	}
	if active {
		return authz.EmergencyOverride{}, shared.ErrAlreadyActive
	}

	o := authz.EmergencyOverride{
		ID:                 uuid.NewString(),
		TriggeredBy:        in.TriggeredBy,
		AffectedUser:       in.AffectedUser,
		Reason:             in.Reason,
		DurationMinutes:    in.DurationMinutes,
		GrantedPermissions: bundle,
		NotifiedUsers:      m.recipients,
		ActivatedAt:        now,
		ExpiresAt:          now.Add(time.Duration(in.DurationMinutes) * time.Minute),
		Justification:      in.Justification,
	}
	if err := m.repo.CreateOverride(ctx, o); err != nil {
		return authz.EmergencyOverride{}, err
	}

	m.notify(ctx, o, false)
	m.recordMutation(in.TriggeredBy, "override.activate", o.ID, string(in.Reason))
	m.invalidate(ctx, authz.EventEmergencyActivated, o.AffectedUser)
	m.invalidate(ctx, authz.EventEmergencyActivated, o.TriggeredBy)
	return o, nil
}

// Deactivate ends an override before expiry with the same notification,
// audit and invalidation obligations as activation.
func (m *Manager) Deactivate(ctx context.Context, id, deactivatedBy, reason string) error {
	o, err := m.repo.Override(ctx, id)
	if err != nil {
		return err
	}
	now := m.now()
	if !o.Active(now) {
		return fmt.Errorf("%w: override not active", shared.ErrInvalidInput)
	}
	if err := m.repo.Deactivate(ctx, id, now); err != nil {
		return err
	}
	m.notify(ctx, o, true)
	m.recordMutation(deactivatedBy, "override.deactivate", id, reason)
	m.invalidate(ctx, authz.EventEmergencyDeactivated, o.AffectedUser)
	m.invalidate(ctx, authz.EventEmergencyDeactivated, o.TriggeredBy)
	return nil
}

// SweepExpired archives overrides past expiresAt. The evaluator's
// read-time expiry check stays authoritative.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	users, err := m.repo.ArchiveExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	for _, userID := range users {
		m.invalidate(ctx, authz.EventEmergencyDeactivated, userID)
	}
	return len(users), nil
}

// hasAuthorityOver checks for an active emergency_contact-or-higher
// grant of the triggerer that covers the affected user. An unscoped
// grant covers everyone; a scoped grant covers the user directly or
// through one of the user's families.
func (m *Manager) hasAuthorityOver(ctx context.Context, triggeredBy, affectedUser string, now time.Time) (bool, error) {
	grants, err := m.repo.ActiveGrantsFor(ctx, triggeredBy, now)
	if err != nil {
		return false, err
	}
	var families []string
	loaded := false
	for _, g := range grants {
		if authz.ComparePriorities(g.RoleType, authz.RoleEmergencyContact) < 0 {
			continue
		}
		if len(g.Scopes) == 0 {
			return true, nil
		}
		if !loaded {
			families, err = m.repo.FamiliesOf(ctx, affectedUser)
			if err != nil {
				return false, err
			}
			loaded = true
		}
		if scopeCoversUser(g.Scopes, affectedUser, families) {
			return true, nil
		}
	}
	return false, nil
}

func scopeCoversUser(scopes []authz.ScopeEntry, userID string, families []string) bool {
	for _, e := range scopes {
		switch e.EntityType {
		case "user":
			if e.EntityID == userID {
				return true
			}
		case "family":
			for _, f := range families {
				if e.EntityID == f {
					return true
				}
			}
		}
	}
	return false
}

func (m *Manager) notify(ctx context.Context, o authz.EmergencyOverride, deactivated bool) {
	if m.notifier == nil {
		return
	}
	for _, recipient := range o.NotifiedUsers {
		err := m.notifier.Notify(ctx, Notification{
			Recipient:    recipient,
			TriggeredBy:  o.TriggeredBy,
			AffectedUser: o.AffectedUser,
			Reason:       o.Reason,
			ExpiresAt:    o.ExpiresAt,
			Deactivated:  deactivated,
		})
		if err != nil {
			m.logger.Warn("override notification failed",
				slog.String("recipient", recipient), slog.Any("error", err))
		}
	}
}

func (m *Manager) invalidate(ctx context.Context, t authz.EventType, userID string) {
	if m.invalidator == nil {
		return
	}
	if err := m.invalidator.InvalidateFromTrigger(ctx, authz.Event{Type: t, UserID: userID}); err != nil {
		m.logger.Warn("cache invalidation failed",
			slog.String("event", string(t)), slog.Any("error", err))
	}
}

func (m *Manager) recordMutation(actor, action, overrideID, reason string) {
	if m.audit == nil {
		return
	}
	m.audit.Record(authz.AuditEntry{
		Timestamp:    m.now(),
		UserID:       actor,
		Action:       action,
		ResourceID:   overrideID,
		ResourceType: "emergency_override",
		Allowed:      true,
		Reason:       reason,
	})
}
