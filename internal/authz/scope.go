package authz

import (
	"context"
	"strings"
)

// RelationshipResolver answers ownership and family membership questions
// for scope filtering. Backed by the resource store; tests substitute a
// fixture map.
type RelationshipResolver interface {
	OwnerOf(ctx context.Context, resourceType, resourceID string) (string, error)
	FamilyOf(ctx context.Context, resourceType, resourceID string) (string, error)
	UserFamilies(ctx context.Context, userID string) ([]string, error)
}

// matchScope reports whether a rule's scope admits the resource for the
// user. Scope filtering runs before precedence; a rule excluded here
// never reaches conflict resolution.
func matchScope(ctx context.Context, r RelationshipResolver, scope Scope, entries []ScopeEntry, userID, resourceType, resourceID string) (bool, error) {
	switch scope {
	case ScopeAll:
		return true, nil
	case ScopeOwn:
		if resourceType == "user" && resourceID == userID {
			return true, nil
		}
		owner, err := r.OwnerOf(ctx, resourceType, resourceID)
		if err != nil {
			return false, err
		}
		return owner != "" && owner == userID, nil
	case ScopeAssigned:
		for _, e := range entries {
			if e.EntityID == resourceID {
				return true, nil
			}
		}
		return false, nil
	case ScopeFamily:
		family, err := r.FamilyOf(ctx, resourceType, resourceID)
		if err != nil {
			return false, err
		}
		if family == "" {
			return false, nil
		}
		for _, e := range entries {
			if e.EntityType == "family" && e.EntityID == family {
				return true, nil
			}
		}
		families, err := r.UserFamilies(ctx, userID)
		if err != nil {
			return false, err
		}
		for _, f := range families {
			if f == family {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

// ruleMatches reports whether a permission rule covers the requested
// action. Actions are dotted "resource.action" strings; "*" on either
// half acts as a wildcard.
func ruleMatches(rule Permission, action string) bool {
	if rule.Resource == "*" {
		return true
	}
	if rule.Action == "*" {
		return strings.HasPrefix(action, rule.Resource+".")
	}
	return action == rule.Resource+"."+rule.Action
}

// overrideMatches reports whether a granted-permission string from an
// emergency override covers the requested action.
func overrideMatches(granted []string, action string) bool {
	for _, g := range granted {
		if g == action || g == "*" {
			return true
		}
		if res, ok := strings.CutSuffix(g, ".*"); ok && strings.HasPrefix(action, res+".") {
			return true
		}
	}
	return false
}
