package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config holds evaluator tunables.
type Config struct {
	CacheTTL            time.Duration
	MaxInheritanceDepth int
	StoreTimeout        time.Duration
	Now                 func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.MaxInheritanceDepth <= 0 {
		c.MaxInheritanceDepth = DefaultMaxInheritanceDepth
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service evaluates authorization decisions. Evaluation is stateless;
// shared mutable state lives in the cache and the persisted stores, so a
// single Service is safe under unbounded parallel invocation.
type Service struct {
	store    SourceStore
	resolver RelationshipResolver
	cache    DecisionCache
	limiter  RateLimiter
	audit    AuditSink
	logger   *slog.Logger
	cfg      Config
	group    singleflight.Group
}

// NewService constructs the authorization service.
func NewService(store SourceStore, resolver RelationshipResolver, cache DecisionCache, limiter RateLimiter, audit AuditSink, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		cache:    cache,
		limiter:  limiter,
		audit:    audit,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

type evaluation struct {
	result    Result
	cacheable bool
}

// Authorize decides whether the user may perform the action on the
// resource. Negative outcomes are ordinary results, never errors.
func (s *Service) Authorize(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Action) == "" || strings.TrimSpace(req.ResourceType) == "" {
		return s.finish(req, Result{Reason: ReasonInvalidInput})
	}

	if s.limiter != nil {
		dec, err := s.limiter.Allow(ctx, req.UserID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", slog.Any("error", err))
			return s.finish(req, s.failSafe("rate_limiter_unavailable"))
		}
		if !dec.Allowed {
			retry := int(dec.RetryAfter / time.Second)
			if retry < 1 {
				retry = 1
			}
			return s.finish(req, Result{Reason: ReasonRateLimitExceeded, RetryAfter: retry})
		}
	}

	if s.cache != nil {
		if res, ok := s.cache.Get(ctx, req.UserID, req.Action, req.ResourceID); ok {
			res.Source = SourceCache
			return s.finish(req, res)
		}
	}

	key := req.UserID + "\x00" + req.Action + "\x00" + req.ResourceID
	v, _, _ := s.group.Do(key, func() (any, error) {
		ev := s.evaluate(ctx, req)
		if ev.cacheable && s.cache != nil {
			s.cache.Set(ctx, req.UserID, req.Action, req.ResourceID, ev.result, s.cfg.CacheTTL)
		}
		return ev, nil
	})
	ev := v.(evaluation)
	return s.finish(req, ev.result)
}

// candidate is a scope-filtered rule still in contention.
type candidate struct {
	source   string
	roleID   string
	priority int
	effect   Effect
}

func (s *Service) evaluate(ctx context.Context, req Request) evaluation {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	now := s.cfg.Now()

	grants, err := s.store.GrantsForUser(ctx, req.UserID)
	if err != nil {
		return s.failSafeEval("grants", err)
	}
	delegations, err := s.store.DelegationsForUser(ctx, req.UserID)
	if err != nil {
		return s.failSafeEval("delegations", err)
	}
	overrides, err := s.store.OverridesForUser(ctx, req.UserID)
	if err != nil {
		return s.failSafeEval("overrides", err)
	}

	var (
		candidates   []candidate
		expiredMatch bool
		scopeBlocked bool
	)
	setCache := map[string][]Permission{}

	collect := func(source, roleID string, roleType RoleType, sets []string, scopes []ScopeEntry, expired bool) *evaluation {
		for _, setID := range sets {
			rules, ok := setCache[setID]
			if !ok {
				var err error
				rules, err = ResolveRules(ctx, s.store, setID, s.cfg.MaxInheritanceDepth)
				if errors.Is(err, ErrInheritanceTooDeep) {
					return &evaluation{result: Result{Reason: ReasonInheritanceTooDeep, Source: source, RoleID: roleID}}
				}
				if err != nil {
					ev := s.failSafeEval("permission_sets", err)
					return &ev
				}
				setCache[setID] = rules
			}
			for _, rule := range rules {
				if !ruleMatches(rule, req.Action) {
					continue
				}
				ok, err := matchScope(ctx, s.resolver, rule.Scope, scopes, req.UserID, req.ResourceType, req.ResourceID)
				if err != nil {
					ev := s.failSafeEval("relationships", err)
					return &ev
				}
				if !ok {
					// Assigned-scope misses behave as absent permissions;
					// own/family misses are relationship restrictions.
					if !expired && (rule.Scope == ScopeOwn || rule.Scope == ScopeFamily) {
						scopeBlocked = true
					}
					continue
				}
				if expired {
					// The rule would have matched while the grant was live.
					expiredMatch = true
					continue
				}
				candidates = append(candidates, candidate{
					source:   source,
					roleID:   roleID,
					priority: RolePriority(roleType),
					effect:   rule.Effect,
				})
			}
		}
		return nil
	}

	for _, g := range grants {
		if g.State != GrantActive || now.Before(g.ValidFrom) {
			continue
		}
		expired := g.ValidUntil != nil && now.After(*g.ValidUntil)
		if stop := collect(SourceDirectRole, g.RoleID, g.RoleType, g.PermissionSets, g.Scopes, expired); stop != nil {
			return *stop
		}
	}

	for _, d := range delegations {
		if d.State != DelegationActive {
			continue
		}
		if now.Before(d.ValidFrom) || now.After(d.ValidUntil) {
			continue
		}
		if stop := collect(SourceDelegation, d.RoleID, d.RoleType, d.PermissionSets, d.Scopes, false); stop != nil {
			return *stop
		}
	}

	for _, o := range overrides {
		if !o.Active(now) || !overrideMatches(o.GrantedPermissions, req.Action) {
			continue
		}
		covered, err := s.overrideCovers(ctx, o, req)
		if err != nil {
			return s.failSafeEval("relationships", err)
		}
		if covered {
			candidates = append(candidates, candidate{
				source:   SourceEmergencyOverride,
				roleID:   o.ID,
				priority: OverridePriority,
				effect:   EffectAllow,
			})
		}
	}

	// Deny always outranks allow, regardless of source priority.
	for _, c := range candidates {
		if c.effect == EffectDeny {
			return evaluation{
				result:    Result{Reason: reasonFor(c.source, EffectDeny), Source: c.source, RoleID: c.roleID},
				cacheable: true,
			}
		}
	}

	var best *candidate
	for i := range candidates {
		if best == nil || candidates[i].priority > best.priority {
			best = &candidates[i]
		}
	}
	if best != nil {
		return evaluation{
			result: Result{
				Allowed: true,
				Reason:  reasonFor(best.source, EffectAllow),
				Source:  best.source,
				RoleID:  best.roleID,
			},
			cacheable: true,
		}
	}

	if scopeBlocked {
		return evaluation{result: Result{Reason: ReasonScopeRestriction}, cacheable: true}
	}
	if expiredMatch {
		return evaluation{result: Result{Reason: ReasonRoleExpired}, cacheable: true}
	}
	return evaluation{result: Result{Reason: ReasonNoPermission}, cacheable: true}
}

// overrideCovers reports whether the request targets a resource of the
// override's affected user.
func (s *Service) overrideCovers(ctx context.Context, o EmergencyOverride, req Request) (bool, error) {
	if req.ResourceID == o.AffectedUser {
		return true, nil
	}
	owner, err := s.resolver.OwnerOf(ctx, req.ResourceType, req.ResourceID)
	if err != nil {
		return false, err
	}
	return owner != "" && owner == o.AffectedUser, nil
}

func reasonFor(source string, effect Effect) string {
	switch source {
	case SourceDelegation:
		if effect == EffectDeny {
			return ReasonDelegationDeny
		}
		return ReasonDelegationAllow
	case SourceEmergencyOverride:
		return ReasonEmergencyOverrideAllow
	default:
		if effect == EffectDeny {
			return ReasonDirectRoleDeny
		}
		return ReasonDirectRoleAllow
	}
}

// failSafe denies without caching when infrastructure misbehaves; a
// transient outage must never widen access or pin a denial.
func (s *Service) failSafe(detail string) Result {
	return Result{Reason: ReasonNoPermission, Details: map[string]string{"failSafe": detail}}
}

func (s *Service) failSafeEval(stage string, err error) evaluation {
	s.logger.Warn("authorization store unavailable, denying",
		slog.String("stage", stage), slog.Any("error", err))
	return evaluation{result: s.failSafe(stage + "_unavailable")}
}

func (s *Service) finish(req Request, res Result) Result {
	if s.audit != nil {
		s.audit.Record(AuditEntry{
			Timestamp:    s.cfg.Now(),
			UserID:       req.UserID,
			Action:       req.Action,
			ResourceID:   req.ResourceID,
			ResourceType: req.ResourceType,
			Allowed:      res.Allowed,
			Reason:       res.Reason,
			Context:      req.Context,
		})
	}
	return res
}
