package authz

import "time"

// RoleType identifies one of the fixed role variants.
type RoleType string

const (
	RoleSystemAdmin       RoleType = "system_admin"
	RoleFamilyCoordinator RoleType = "family_coordinator"
	RoleCaregiver         RoleType = "caregiver"
	RoleCareRecipient     RoleType = "care_recipient"
	RoleHelper            RoleType = "helper"
	RoleEmergencyContact  RoleType = "emergency_contact"
	RoleChild             RoleType = "child"
	RoleViewer            RoleType = "viewer"
	RoleBotAgent          RoleType = "bot_agent"
)

// Effect is the outcome a permission rule contributes.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Scope bounds how far a permission reaches.
type Scope string

const (
	ScopeOwn      Scope = "own"
	ScopeAssigned Scope = "assigned"
	ScopeFamily   Scope = "family"
	ScopeAll      Scope = "all"
)

// Permission is a single (resource, action) rule.
type Permission struct {
	Resource string
	Action   string
	Effect   Effect
	Scope    Scope
}

// PermissionSet is a named bundle of rules, optionally inheriting from a
// parent set. Parent chains form a DAG; cycles are rejected at write time.
type PermissionSet struct {
	ID       string
	ParentID string
	Rules    []Permission
}

// GrantState tracks the lifecycle of a UserRole grant.
type GrantState string

const (
	GrantPendingApproval GrantState = "pending_approval"
	GrantActive          GrantState = "active"
	GrantSuspended       GrantState = "suspended"
	GrantExpired         GrantState = "expired"
	GrantRevoked         GrantState = "revoked"
)

// ScopeEntry pins a grant or delegation to a concrete entity.
type ScopeEntry struct {
	EntityType string
	EntityID   string
	ScopeType  Scope
}

// Role is a stored role definition referencing permission sets.
type Role struct {
	ID             string
	Type           RoleType
	State          string
	PermissionSets []string
}

// UserRole is a direct role grant to a user.
type UserRole struct {
	ID         string
	UserID     string
	RoleID     string
	RoleType   RoleType
	GrantedBy  string
	Reason     string
	ValidFrom  time.Time
	ValidUntil *time.Time
	State      GrantState
	Scopes     []ScopeEntry

	// PermissionSets carries the referenced set IDs of the granted role,
	// resolved by the store so the evaluator never joins tables itself.
	PermissionSets []string
}

// DelegationState tracks the lifecycle of a delegation.
type DelegationState string

const (
	DelegationPending DelegationState = "pending"
	DelegationActive  DelegationState = "active"
	DelegationRevoked DelegationState = "revoked"
	DelegationExpired DelegationState = "expired"
)

// Delegation is a time-boxed transfer of a role's permissions between users.
type Delegation struct {
	ID            string
	FromUserID    string
	ToUserID      string
	RoleID        string
	RoleType      RoleType
	SourceGrantID string
	ValidFrom     time.Time
	ValidUntil    time.Time
	Reason        string
	State         DelegationState
	Scopes        []ScopeEntry

	PermissionSets []string
}

// OverrideReason enumerates the events that justify an emergency override.
type OverrideReason string

const (
	ReasonMedicalEmergency     OverrideReason = "medical_emergency"
	ReasonCaregiverUnavailable OverrideReason = "caregiver_unavailable"
	ReasonChildSafety          OverrideReason = "child_safety"
	ReasonNaturalDisaster      OverrideReason = "natural_disaster"
)

// EmergencyOverride is an audited, time-boxed access elevation.
type EmergencyOverride struct {
	ID                 string
	TriggeredBy        string
	AffectedUser       string
	Reason             OverrideReason
	DurationMinutes    int
	GrantedPermissions []string
	NotifiedUsers      []string
	ActivatedAt        time.Time
	ExpiresAt          time.Time
	DeactivatedAt      *time.Time
	Justification      string
}

// Active reports whether the override is live at the given instant.
func (o EmergencyOverride) Active(now time.Time) bool {
	if o.DeactivatedAt != nil {
		return false
	}
	return !now.Before(o.ActivatedAt) && now.Before(o.ExpiresAt)
}

// Request is the input to a single authorization decision.
type Request struct {
	UserID       string
	Action       string
	ResourceID   string
	ResourceType string
	Context      map[string]string
}

// Decision reasons, stable strings suitable for calling UIs and logs.
const (
	ReasonDirectRoleAllow        = "DIRECT_ROLE_ALLOW"
	ReasonDirectRoleDeny         = "DIRECT_ROLE_DENY"
	ReasonDelegationAllow        = "DELEGATION_ALLOW"
	ReasonDelegationDeny         = "DELEGATION_DENY"
	ReasonEmergencyOverrideAllow = "EMERGENCY_OVERRIDE_ALLOW"
	ReasonNoPermission           = "NO_PERMISSION"
	ReasonRoleExpired            = "ROLE_EXPIRED"
	ReasonRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ReasonInvalidInput           = "INVALID_INPUT"
	ReasonScopeRestriction       = "SCOPE_RESTRICTION"
	ReasonInheritanceTooDeep     = "INHERITANCE_TOO_DEEP"
)

// Result provenance tags.
const (
	SourceDirectRole        = "direct_role"
	SourceDelegation        = "delegation"
	SourceEmergencyOverride = "emergency_override"
	SourceCache             = "cache"
)

// Result is the decision value returned by the evaluator.
type Result struct {
	Allowed    bool              `json:"allowed"`
	Reason     string            `json:"reason"`
	Source     string            `json:"source,omitempty"`
	RoleID     string            `json:"roleId,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// EventType enumerates mutations that make cached decisions stale.
type EventType string

const (
	EventRoleAssigned         EventType = "ROLE_ASSIGNED"
	EventRoleRevoked          EventType = "ROLE_REVOKED"
	EventDelegationCreated    EventType = "DELEGATION_CREATED"
	EventDelegationRevoked    EventType = "DELEGATION_REVOKED"
	EventPermissionSetUpdated EventType = "PERMISSION_SET_UPDATED"
	EventEmergencyActivated   EventType = "EMERGENCY_ACTIVATED"
	EventEmergencyDeactivated EventType = "EMERGENCY_DEACTIVATED"
)

// Event is a cache-invalidation trigger emitted synchronously with the
// mutation that produced it.
type Event struct {
	Type   EventType
	UserID string
}

// AuditEntry is the record shipped to the audit sink for every decision
// and every grant/delegation/override mutation.
type AuditEntry struct {
	Timestamp    time.Time
	UserID       string
	Action       string
	ResourceID   string
	ResourceType string
	Allowed      bool
	Reason       string
	Context      map[string]string
}
