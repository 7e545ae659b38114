package emergency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthside-app/hearthside/internal/authz"
	"github.com/hearthside-app/hearthside/internal/shared"
)

// Repository provides PostgreSQL backed persistence for overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateOverride inserts an override. A partial unique index on
// (triggered_by, affected_user) WHERE deactivated_at IS NULL backs the
// one-active-per-pair invariant against races.
func (r *Repository) CreateOverride(ctx context.Context, o authz.EmergencyOverride) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO emergency_overrides
			(id, triggered_by, affected_user, reason, duration_minutes, granted_permissions,
			 notified_users, activated_at, expires_at, justification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.TriggeredBy, o.AffectedUser, o.Reason, o.DurationMinutes,
		o.GrantedPermissions, o.NotifiedUsers, o.ActivatedAt, o.ExpiresAt, o.Justification)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "uq_active_override_pair" {
			return shared.ErrAlreadyActive
		}
		return err
	}
	return nil
}

// Override fetches an override by ID.
func (r *Repository) Override(ctx context.Context, id string) (authz.EmergencyOverride, error) {
	var o authz.EmergencyOverride
	err := r.pool.QueryRow(ctx, `
		SELECT id, triggered_by, affected_user, reason, duration_minutes, granted_permissions,
		       notified_users, activated_at, expires_at, deactivated_at, justification
		FROM emergency_overrides WHERE id = $1`, id).
		Scan(&o.ID, &o.TriggeredBy, &o.AffectedUser, &o.Reason, &o.DurationMinutes,
			&o.GrantedPermissions, &o.NotifiedUsers, &o.ActivatedAt, &o.ExpiresAt,
			&o.DeactivatedAt, &o.Justification)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.EmergencyOverride{}, shared.ErrNotFound
	}
	return o, err
}

// ActiveForPair reports whether an override is live for the pair.
func (r *Repository) ActiveForPair(ctx context.Context, triggeredBy, affectedUser string, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM emergency_overrides
			WHERE triggered_by = $1 AND affected_user = $2
			  AND deactivated_at IS NULL AND expires_at > $3
		)`, triggeredBy, affectedUser, now).Scan(&exists)
	return exists, err
}

// Deactivate records the end of an override.
func (r *Repository) Deactivate(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE emergency_overrides SET deactivated_at = $2
		WHERE id = $1 AND deactivated_at IS NULL`, id, at)
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

// FamiliesOf lists the families the user belongs to.
func (r *Repository) FamiliesOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
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

// ArchiveExpired marks overdue overrides deactivated at their expiry.
func (r *Repository) ArchiveExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE emergency_overrides SET deactivated_at = expires_at
		WHERE deactivated_at IS NULL AND expires_at <= $1
		RETURNING triggered_by`, now)
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
