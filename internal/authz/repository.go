package authz

import (
	"context"
	"time"
)

// SourceStore gathers the permission sources consulted on a cache miss.
// Every call reads current persisted state; the evaluator re-checks time
// validity itself and never trusts a stored state column alone.
type SourceStore interface {
	// GrantsForUser returns direct role grants in active state, including
	// those whose validUntil has already passed so the evaluator can
	// annotate would-have-matched rules as expired.
	GrantsForUser(ctx context.Context, userID string) ([]UserRole, error)
	// DelegationsForUser returns active delegations where the user is the
	// recipient.
	DelegationsForUser(ctx context.Context, userID string) ([]Delegation, error)
	// OverridesForUser returns emergency overrides naming the user as the
	// trigger that have not been deactivated.
	OverridesForUser(ctx context.Context, userID string) ([]EmergencyOverride, error)

	PermissionSetStore
}

// RateDecision is the rate limiter's verdict for one call.
type RateDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimiter throttles decision requests per user.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (RateDecision, error)
}

// DecisionCache is the two-tier decision cache consulted before source
// gathering. Implementations must treat backend failures as misses.
type DecisionCache interface {
	Get(ctx context.Context, userID, action, resourceID string) (Result, bool)
	Set(ctx context.Context, userID, action, resourceID string, res Result, ttl time.Duration)
	InvalidateFromTrigger(ctx context.Context, ev Event) error
}

// AuditSink receives decision and mutation records. Record must never
// block or fail the caller.
type AuditSink interface {
	Record(entry AuditEntry)
}
