package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthside-app/hearthside/internal/shared"
)

// Store provides PostgreSQL backed access to permission sources and
// resource relationships.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GrantsForUser returns active-state direct grants with their role type
// and permission-set references resolved.
func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]UserRole, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ur.id, ur.user_id, ur.role_id, r.role_type, ur.granted_by, ur.reason,
		       ur.valid_from, ur.valid_until, ur.state,
		       COALESCE(array_agg(rps.set_id ORDER BY rps.position)
		                FILTER (WHERE rps.set_id IS NOT NULL), '{}')
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permission_sets rps ON rps.role_id = ur.role_id
		WHERE ur.user_id = $1 AND ur.state = 'active' AND r.state = 'active'
		GROUP BY ur.id, r.role_type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []UserRole
	var ids []string
	for rows.Next() {
		var g UserRole
		if err := rows.Scan(&g.ID, &g.UserID, &g.RoleID, &g.RoleType, &g.GrantedBy, &g.Reason,
			&g.ValidFrom, &g.ValidUntil, &g.State, &g.PermissionSets); err != nil {
			return nil, err
		}
		grants = append(grants, g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}

	scopes, err := s.scopesFor(ctx, "user_role_scopes", "user_role_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range grants {
		grants[i].Scopes = scopes[grants[i].ID]
	}
	return grants, nil
}

// DelegationsForUser returns active delegations received by the user.
func (s *Store) DelegationsForUser(ctx context.Context, userID string) ([]Delegation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.from_user_id, d.to_user_id, d.role_id, r.role_type,
		       COALESCE(d.source_grant_id, ''), d.valid_from, d.valid_until,
		       d.reason, d.state,
		       COALESCE(array_agg(rps.set_id ORDER BY rps.position)
		                FILTER (WHERE rps.set_id IS NOT NULL), '{}')
		FROM delegations d
		JOIN roles r ON r.id = d.role_id
		LEFT JOIN role_permission_sets rps ON rps.role_id = d.role_id
		WHERE d.to_user_id = $1 AND d.state = 'active'
		GROUP BY d.id, r.role_type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var delegations []Delegation
	var ids []string
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(&d.ID, &d.FromUserID, &d.ToUserID, &d.RoleID, &d.RoleType,
			&d.SourceGrantID, &d.ValidFrom, &d.ValidUntil, &d.Reason, &d.State,
			&d.PermissionSets); err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(delegations) == 0 {
		return nil, nil
	}

	scopes, err := s.scopesFor(ctx, "delegation_scopes", "delegation_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range delegations {
		delegations[i].Scopes = scopes[delegations[i].ID]
	}
	return delegations, nil
}

// OverridesForUser returns overrides triggered by the user that have not
// been deactivated. Expiry is re-checked by the evaluator.
func (s *Store) OverridesForUser(ctx context.Context, userID string) ([]EmergencyOverride, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, triggered_by, affected_user, reason, duration_minutes,
		       granted_permissions, notified_users, activated_at, expires_at,
		       deactivated_at, justification
		FROM emergency_overrides
		WHERE triggered_by = $1 AND deactivated_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []EmergencyOverride
	for rows.Next() {
		var o EmergencyOverride
		if err := rows.Scan(&o.ID, &o.TriggeredBy, &o.AffectedUser, &o.Reason, &o.DurationMinutes,
			&o.GrantedPermissions, &o.NotifiedUsers, &o.ActivatedAt, &o.ExpiresAt,
			&o.DeactivatedAt, &o.Justification); err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// PermissionSet fetches one set with its ordered rules.
func (s *Store) PermissionSet(ctx context.Context, id string) (PermissionSet, error) {
	var set PermissionSet
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(parent_id, '') FROM permission_sets WHERE id = $1`, id).
		Scan(&set.ID, &set.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionSet{}, shared.ErrNotFound
		}
		return PermissionSet{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT resource, action, effect, scope
		FROM permission_rules WHERE set_id = $1 ORDER BY position`, id)
	if err != nil {
		return PermissionSet{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Resource, &p.Action, &p.Effect, &p.Scope); err != nil {
			return PermissionSet{}, err
		}
		set.Rules = append(set.Rules, p)
	}
	return set, rows.Err()
}

// OwnerOf resolves the owning user of a resource, empty when unknown.
func (s *Store) OwnerOf(ctx context.Context, resourceType, resourceID string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(owner_id, '') FROM resources WHERE id = $1 AND resource_type = $2`,
		resourceID, resourceType).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

// FamilyOf resolves the family a resource belongs to, empty when unknown.
func (s *Store) FamilyOf(ctx context.Context, resourceType, resourceID string) (string, error) {
	var family string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(family_id, '') FROM resources WHERE id = $1 AND resource_type = $2`,
		resourceID, resourceType).Scan(&family)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return family, err
}

// UserFamilies lists the families the user is a member of.
func (s *Store) UserFamilies(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT family_id FROM family_members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var families []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		families = append(families, f)
	}
	return families, rows.Err()
}

func (s *Store) scopesFor(ctx context.Context, table, column string, ids []string) (map[string][]ScopeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+column+`, entity_type, entity_id, scope_type FROM `+table+` WHERE `+column+` = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scopes := make(map[string][]ScopeEntry)
	for rows.Next() {
		var id string
		var e ScopeEntry
		if err := rows.Scan(&id, &e.EntityType, &e.EntityID, &e.ScopeType); err != nil {
			return nil, err
		}
		scopes[id] = append(scopes[id], e)
	}
	return scopes, rows.Err()
}

var _ SourceStore = (*Store)(nil)
var _ RelationshipResolver = (*Store)(nil)
