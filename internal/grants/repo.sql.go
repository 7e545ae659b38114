package grants

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/platform/db"
	"github.com/hearthside-app/hearthside/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateGrant inserts a grant with its scopes in one transaction.
func (r *Repository) CreateGrant(ctx context.Context, grant authz.UserRole) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_roles (id, user_id, role_id, granted_by, reason, valid_from, valid_until, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			grant.ID, grant.UserID, grant.RoleID, grant.GrantedBy, grant.Reason,
			grant.ValidFrom, grant.ValidUntil, grant.State)
		if err != nil {
			return err
		}
		for _, e := range grant.Scopes {
			_, err = tx.Exec(ctx, `
				INSERT INTO user_role_scopes (user_role_id, entity_type, entity_id, scope_type)
				VALUES ($1, $2, $3, $4)`,
				grant.ID, e.EntityType, e.EntityID, e.ScopeType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Grant fetches a grant by ID.
func (r *Repository) Grant(ctx context.Context, id string) (authz.UserRole, error) {
	var g authz.UserRole
	err := r.pool.QueryRow(ctx, `
		SELECT ur.id, ur.user_id, ur.role_id, ro.role_type, ur.granted_by, ur.reason,
		       ur.valid_from, ur.valid_until, ur.state
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.id = $1`, id).
		Scan(&g.ID, &g.UserID, &g.RoleID, &g.RoleType, &g.GrantedBy, &g.Reason,
			&g.ValidFrom, &g.ValidUntil, &g.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.UserRole{}, shared.ErrNotFound
	}
	return g, err
}

// UpdateGrantState transitions a grant's lifecycle state.
func (r *Repository) UpdateGrantState(ctx context.Context, id string, state authz.GrantState) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_roles SET state = $2, updated_at = NOW() WHERE id = $1`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RevokeDelegationsFromGrant revokes delegations sourced from the grant.
func (r *Repository) RevokeDelegationsFromGrant(ctx context.Context, grantID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE delegations SET state = 'revoked', updated_at = NOW()
		WHERE source_grant_id = $1 AND state IN ('pending', 'active')
		RETURNING to_user_id`, grantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recipients []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		recipients = append(recipients, userID)
	}
	return recipients, rows.Err()
}

// RoleByType fetches the role definition for a fixed role type.
func (r *Repository) RoleByType(ctx context.Context, t authz.RoleType) (authz.Role, error) {
	var role authz.Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, role_type, state FROM roles WHERE role_type = $1 AND state = 'active'`, t).
		Scan(&role.ID, &role.Type, &role.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Role{}, shared.ErrNotFound
	}
	return role, err
}

// HighestActiveRole returns the user's highest-priority active role at
// the given instant.
func (r *Repository) HighestActiveRole(ctx context.Context, userID string, now time.Time) (authz.RoleType, bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.role_type
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.state = 'active'
		  AND ur.valid_from <= $2
		  AND (ur.valid_until IS NULL OR ur.valid_until >= $2)`, userID, now)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()
	var best authz.RoleType
	found := false
	for rows.Next() {
		var t authz.RoleType
		if err := rows.Scan(&t); err != nil {
			return "", false, err
		}
		if !found || authz.ComparePriorities(t, best) > 0 {
			best = t
			found = true
		}
	}
	return best, found, rows.Err()
}

// ExpireDue marks active grants past validUntil as expired.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE user_roles SET state = 'expired', updated_at = NOW()
		WHERE state = 'active' AND valid_until IS NOT NULL AND valid_until < $1
		RETURNING user_id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

var _ RepositoryPort = (*Repository)(nil)
