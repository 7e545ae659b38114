package delegation

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

// Repository provides PostgreSQL backed persistence for delegations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateDelegation inserts a delegation with its scopes in one
// transaction.
func (r *Repository) CreateDelegation(ctx context.Context, d authz.Delegation) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO delegations (id, from_user_id, to_user_id, role_id, source_grant_id,
			                         valid_from, valid_until, reason, state)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
			d.ID, d.FromUserID, d.ToUserID, d.RoleID, d.SourceGrantID,
			d.ValidFrom, d.ValidUntil, d.Reason, d.State)
		if err != nil {
			return err
		}
		for _, e := range d.Scopes {
			_, err = tx.Exec(ctx, `
				INSERT INTO delegation_scopes (delegation_id, entity_type, entity_id, scope_type)
				VALUES ($1, $2, $3, $4)`,
				d.ID, e.EntityType, e.EntityID, e.ScopeType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Delegation fetches a delegation with its scopes.
func (r *Repository) Delegation(ctx context.Context, id string) (authz.Delegation, error) {
	var d authz.Delegation
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.from_user_id, d.to_user_id, d.role_id, ro.role_type,
		       COALESCE(d.source_grant_id, ''), d.valid_from, d.valid_until, d.reason, d.state
		FROM delegations d
		JOIN roles ro ON ro.id = d.role_id
		WHERE d.id = $1`, id).
		Scan(&d.ID, &d.FromUserID, &d.ToUserID, &d.RoleID, &d.RoleType,
			&d.SourceGrantID, &d.ValidFrom, &d.ValidUntil, &d.Reason, &d.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Delegation{}, shared.ErrNotFound
	}
	if err != nil {
		return authz.Delegation{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT entity_type, entity_id, scope_type
		FROM delegation_scopes WHERE delegation_id = $1`, id)
	if err != nil {
		return authz.Delegation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e authz.ScopeEntry
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.ScopeType); err != nil {
			return authz.Delegation{}, err
		}
		d.Scopes = append(d.Scopes, e)
	}
	return d, rows.Err()
}

// UpdateDelegationState transitions a delegation's lifecycle state.
func (r *Repository) UpdateDelegationState(ctx context.Context, id string, state authz.DelegationState) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE delegations SET state = $2, updated_at = NOW() WHERE id = $1`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ActiveGrantsFor returns the user's active grants with role types and
// scopes.
func (r *Repository) ActiveGrantsFor(ctx context.Context, userID string, now time.Time) ([]authz.UserRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ur.id, ro.role_type
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.state = 'active'
		  AND ur.valid_from <= $2
		  AND (ur.valid_until IS NULL OR ur.valid_until >= $2)`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.UserRole
	var ids []string
	for rows.Next() {
		var g authz.UserRole
		if err := rows.Scan(&g.ID, &g.RoleType); err != nil {
			return nil, err
		}
		g.UserID = userID
		grants = append(grants, g)
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}

	scopeRows, err := r.pool.Query(ctx, `
		SELECT user_role_id, entity_type, entity_id, scope_type
		FROM user_role_scopes WHERE user_role_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer scopeRows.Close()
	byGrant := make(map[string][]authz.ScopeEntry)
	for scopeRows.Next() {
		var id string
		var e authz.ScopeEntry
		if err := scopeRows.Scan(&id, &e.EntityType, &e.EntityID, &e.ScopeType); err != nil {
			return nil, err
		}
		byGrant[id] = append(byGrant[id], e)
	}
	if err := scopeRows.Err(); err != nil {
		return nil, err
	}
	for i := range grants {
		grants[i].Scopes = byGrant[grants[i].ID]
	}
	return grants, nil
}

// ExpireDue marks active delegations past validUntil as expired.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE delegations SET state = 'expired', updated_at = NOW()
		WHERE state = 'active' AND valid_until < $1
		RETURNING to_user_id`, now)
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
