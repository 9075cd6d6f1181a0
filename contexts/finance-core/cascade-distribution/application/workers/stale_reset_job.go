package workers

import (
	"context"
	"log/slog"
	"time"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/application/commands"
)

const defaultStaleProcessingAfter = 15 * time.Minute

// StaleResetJob sweeps jobs left in processing by a crashed worker.
type StaleResetJob struct {
	Commands  commands.UseCase
	OlderThan time.Duration
	Logger    *slog.Logger
}

func (j StaleResetJob) RunOnce(ctx context.Context) error {
	olderThan := j.OlderThan
	if olderThan <= 0 {
		olderThan = defaultStaleProcessingAfter
	}
	count, err := j.Commands.ResetStale(ctx, olderThan)
	if err != nil {
		application.ResolveLogger(j.Logger).Error("distribution stale sweep failed",
			"event", "distribution_stale_sweep_failed",
			"module", application.Module,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	application.ResolveLogger(j.Logger).Debug("distribution stale sweep succeeded",
		"event", "distribution_stale_sweep_succeeded",
		"module", application.Module,
		"layer", "worker",
		"reset", count,
	)
	return nil
}
