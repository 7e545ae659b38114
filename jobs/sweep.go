package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sweeper expires records that are past their validity window.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepDeps collects the services a sweep run drives.
type SweepDeps struct {
	Grants      Sweeper
	Delegations Sweeper
	Overrides   Sweeper
	Logger      *slog.Logger
}

// NewSweepExpiredHandler returns the handler for TaskSweepExpired.
func NewSweepExpiredHandler(deps SweepDeps) asynq.HandlerFunc {
	sweepers := map[string]Sweeper{
		"grants":      deps.Grants,
		"delegations": deps.Delegations,
		"overrides":   deps.Overrides,
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepExpiredPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		kinds := payload.Kinds
		if len(kinds) == 0 {
			kinds = []string{"grants", "delegations", "overrides"}
		}
		var firstErr error
		for _, kind := range kinds {
			sweeper := sweepers[kind]
			if sweeper == nil {
				continue
			}
			n, err := sweeper.SweepExpired(ctx)
			if err != nil {
				if deps.Logger != nil {
					deps.Logger.Error("sweep expired", slog.String("kind", kind), slog.Any("error", err))
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if deps.Logger != nil && n > 0 {
				deps.Logger.Info("sweep expired", slog.String("kind", kind), slog.Int("expired", n))
			}
		}
		return firstErr
	}
}

// NewArchiveAuditHandler returns the handler for TaskArchiveAudit.
func NewArchiveAuditHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ArchiveAuditPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if pool == nil {
			return nil
		}
		retention := payload.Retention
		if retention <= 0 {
			retention = 90 * 24 * time.Hour
		}
		tag, err := pool.Exec(ctx,
			`DELETE FROM audit_logs WHERE occurred_at < $1`, time.Now().Add(-retention))
		if err != nil {
			if logger != nil {
				logger.Error("archive audit", slog.Any("error", err))
			}
			return err
		}
		if logger != nil && tag.RowsAffected() > 0 {
			logger.Info("archived audit rows", slog.Int64("deleted", tag.RowsAffected()))
		}
		return nil
	}
}
