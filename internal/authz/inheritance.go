package authz

import (
	"context"
	"errors"

	"github.com/hearthside-app/hearthside/internal/shared"
)

// DefaultMaxInheritanceDepth caps parent-chain resolution at read time.
// Write-time cycle detection is the primary guard; the cap is defense in
// depth against rows edited outside the service.
const DefaultMaxInheritanceDepth = 50

// ErrInheritanceTooDeep indicates a parent chain longer than the cap.
var ErrInheritanceTooDeep = errors.New("permission set inheritance too deep")

// PermissionSetStore loads permission sets by ID.
type PermissionSetStore interface {
	PermissionSet(ctx context.Context, id string) (PermissionSet, error)
}

// ResolveRules flattens a permission set through its parent chain. The
// set's own rules come first so a child always precedes what it inherits.
func ResolveRules(ctx context.Context, store PermissionSetStore, setID string, maxDepth int) ([]Permission, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxInheritanceDepth
	}
	var rules []Permission
	id := setID
	for depth := 0; id != ""; depth++ {
		if depth >= maxDepth {
			return nil, ErrInheritanceTooDeep
		}
		set, err := store.PermissionSet(ctx, id)
		if err != nil {
			return nil, err
		}
		rules = append(rules, set.Rules...)
		id = set.ParentID
	}
	return rules, nil
}

// ValidateParent checks that pointing setID at parentID keeps the
// inheritance graph acyclic. Called by permission-set writers before the
// edit is persisted.
func ValidateParent(ctx context.Context, store PermissionSetStore, setID, parentID string) error {
	seen := map[string]struct{}{setID: {}}
	id := parentID
	for depth := 0; id != ""; depth++ {
		if _, ok := seen[id]; ok {
			return shared.ErrCyclicInheritance
		}
		if depth >= DefaultMaxInheritanceDepth {
			return ErrInheritanceTooDeep
		}
		seen[id] = struct{}{}
		set, err := store.PermissionSet(ctx, id)
		if err != nil {
			return err
		}
		id = set.ParentID
	}
	return nil
}
