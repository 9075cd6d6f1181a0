package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
	contractsv1 "splitflow/contracts/gen/events/v1"
)

const defaultBatchSize = 10

// DistributionWorker claims a batch of jobs and drives each one through
// settlement, ledger recording and fan-out, one job at a time.
type DistributionWorker struct {
	Jobs            ports.JobQueue
	Rules           ports.SplitRuleReader
	Settlement      ports.Settlement
	Recorder        LedgerRecorder
	Planner         FanOutPlanner
	Events          application.EventAppender
	Observer        ports.BatchObserver
	Clock           ports.Clock
	BatchSize       int
	MaxAttempts     int
	MinDistribution int64
	Logger          *slog.Logger

	running sync.Mutex
}

// RunOnce adapts RunBatch to the worker tick loop.
func (w *DistributionWorker) RunOnce(ctx context.Context) error {
	_, err := w.RunBatch(ctx)
	return err
}

// TryRunBatch runs a batch unless one is already in flight.
func (w *DistributionWorker) TryRunBatch(ctx context.Context) (entities.BatchSummary, error) {
	if !w.running.TryLock() {
		return entities.BatchSummary{}, domainerrors.ErrBatchInProgress
	}
	defer w.running.Unlock()
	return w.runBatch(ctx)
}

func (w *DistributionWorker) RunBatch(ctx context.Context) (entities.BatchSummary, error) {
	w.running.Lock()
	defer w.running.Unlock()
	return w.runBatch(ctx)
}

func (w *DistributionWorker) runBatch(ctx context.Context) (entities.BatchSummary, error) {
	logger := application.ResolveLogger(w.Logger)
	startedAt := time.Now()
	var summary entities.BatchSummary

	jobs, err := w.Jobs.ClaimBatch(ctx, w.batchSize(), w.now())
	if err != nil {
		logger.Error("distribution batch claim failed",
			"event", "distribution_batch_claim_failed",
			"module", application.Module,
			"layer", "worker",
			"batch_size", w.batchSize(),
			"error", err.Error(),
		)
		return summary, err
	}

	// Claimed jobs must reach a recorded outcome even if the trigger goes away.
	jobCtx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		outcome, enqueued := w.processJob(jobCtx, job)
		summary.Add(outcome, enqueued)
		if w.Observer != nil {
			w.Observer.ObserveJob(outcome, job.Depth)
		}
	}

	if w.Observer != nil {
		w.Observer.ObserveBatch(summary, time.Since(startedAt))
	}
	if summary.Processed > 0 {
		logger.Info("distribution batch completed",
			"event", "distribution_batch_completed",
			"module", application.Module,
			"layer", "worker",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"enqueued", summary.Enqueued,
			"skipped", summary.Skipped,
		)
	}
	return summary, nil
}

func (w *DistributionWorker) processJob(ctx context.Context, job entities.DistributionJob) (entities.JobOutcome, int) {
	logger := application.ResolveLogger(w.Logger)

	pool, poolKnown := w.observePool(ctx, job)
	rule, ruleKnown := w.snapshotRule(ctx, job)
	pending, hasPending := job.PendingSettlement()

	result, err := w.Settlement.Distribute(ctx, ports.DistributeRequest{
		Identifier:      job.Identifier,
		Asset:           job.Asset,
		MinDistribution: w.MinDistribution,
		PendingTxHash:   pending.TxHash,
	})
	if hasPending && result.TxHash == pending.TxHash {
		// The earlier submission drained the pool, so the live read is stale.
		pool, poolKnown = pending.Pool, pending.PoolKnown
	}

	switch result.Outcome {
	case entities.SettlementFinalizedNoop:
		if markErr := w.Jobs.MarkCompleted(ctx, job.ID, result.TxHash, result.Note, w.now()); markErr != nil {
			w.logMarkFailure(job, "completed", markErr)
		}
		logger.Info("distribution job had nothing to distribute",
			"event", "distribution_job_noop",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"identifier", job.Identifier,
			"depth", job.Depth,
			"note", result.Note,
		)
		return entities.JobOutcomeSkipped, 0

	case entities.SettlementFinalizedSuccess:
		now := w.now()
		var snapshot *entities.SplitRule
		if ruleKnown {
			snapshot = &rule
		}
		entries := w.Recorder.Record(ctx, Hop{
			Job:       job,
			Pool:      pool,
			PoolKnown: poolKnown,
			Rule:      rule,
			RuleKnown: ruleKnown,
			TxHash:    result.TxHash,
			At:        now,
		})
		children := w.Planner.Plan(ctx, job, snapshot, now)
		if markErr := w.Jobs.MarkCompleted(ctx, job.ID, result.TxHash, "", now); markErr != nil {
			w.logMarkFailure(job, "completed", markErr)
		}
		w.appendHopCompleted(ctx, job, result.TxHash, pool, entries, children, now)
		logger.Info("distribution job completed",
			"event", "distribution_job_completed",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"identifier", job.Identifier,
			"depth", job.Depth,
			"tx_hash", result.TxHash,
			"child_count", len(children),
		)
		return entities.JobOutcomeSucceeded, len(children)
	}

	if err == nil {
		err = domainerrors.ErrTransactionFailed
	}
	var unconfirmed entities.PendingSettlement
	if result.Outcome == entities.SettlementFinalityTimeout && result.TxHash != "" {
		unconfirmed = entities.PendingSettlement{TxHash: result.TxHash, Pool: pool, PoolKnown: poolKnown}
	}
	return w.retryOrFail(ctx, job, result, unconfirmed, err), 0
}

// retryOrFail returns the job to the queue or fails it. pending carries a
// submission whose finality is unknown so the next attempt can settle it
// instead of submitting again.
func (w *DistributionWorker) retryOrFail(
	ctx context.Context,
	job entities.DistributionJob,
	result entities.SettlementResult,
	pending entities.PendingSettlement,
	cause error,
) entities.JobOutcome {
	logger := application.ResolveLogger(w.Logger)
	attempts := job.Attempts + 1
	message := entities.TruncateError(cause.Error())
	now := w.now()

	if attempts < w.maxAttempts() {
		if err := w.Jobs.MarkRetry(ctx, job.ID, message, pending, now); err != nil {
			w.logMarkFailure(job, "retry", err)
		}
		logger.Warn("distribution job attempt failed, will retry",
			"event", "distribution_job_retry_scheduled",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"identifier", job.Identifier,
			"attempts", attempts,
			"outcome", string(result.Outcome),
			"tx_hash", result.TxHash,
			"error", message,
		)
		return entities.JobOutcomeRetried
	}

	if err := w.Jobs.MarkFailed(ctx, job.ID, message, pending, now); err != nil {
		w.logMarkFailure(job, "failed", err)
	}
	if err := w.Events.Append(ctx, contractsv1.EventJobFailed, "job_id", job.ID, now, map[string]any{
		"job_id":     job.ID,
		"identifier": job.Identifier,
		"asset":      job.Asset,
		"depth":      job.Depth,
		"source_ref": job.SourceRef,
		"attempts":   attempts,
		"reason":     message,
	}); err != nil {
		logger.Error("distribution job failure event append failed",
			"event", "distribution_job_failed_event_append_failed",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"error", err.Error(),
		)
	}
	logger.Error("distribution job failed permanently",
		"event", "distribution_job_failed",
		"module", application.Module,
		"layer", "worker",
		"job_id", job.ID,
		"identifier", job.Identifier,
		"attempts", attempts,
		"outcome", string(result.Outcome),
		"error", message,
	)
	return entities.JobOutcomeFailed
}

func (w *DistributionWorker) observePool(ctx context.Context, job entities.DistributionJob) (int64, bool) {
	pool, err := w.Settlement.PoolBalance(ctx, job.Identifier, job.Asset)
	if err != nil {
		application.ResolveLogger(w.Logger).Warn("distribution pool read failed",
			"event", "distribution_pool_read_failed",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"identifier", job.Identifier,
			"asset", job.Asset,
			"error", err.Error(),
		)
		return 0, false
	}
	return pool, true
}

func (w *DistributionWorker) snapshotRule(ctx context.Context, job entities.DistributionJob) (entities.SplitRule, bool) {
	rule, err := w.Rules.GetSplitRule(ctx, job.Identifier)
	if err != nil {
		application.ResolveLogger(w.Logger).Warn("distribution rule snapshot failed",
			"event", "distribution_rule_snapshot_failed",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"identifier", job.Identifier,
			"error", err.Error(),
		)
		return entities.SplitRule{}, false
	}
	return rule, true
}

func (w *DistributionWorker) appendHopCompleted(
	ctx context.Context,
	job entities.DistributionJob,
	txHash string,
	pool int64,
	entries []entities.LedgerEntry,
	children []entities.DistributionJob,
	at time.Time,
) {
	var distributed int64
	for _, entry := range entries {
		distributed += entry.Amount
	}
	childIDs := make([]string, 0, len(children))
	for _, child := range children {
		childIDs = append(childIDs, child.ID)
	}
	if err := w.Events.Append(ctx, contractsv1.EventHopCompleted, "source_ref", job.SourceRef, at, map[string]any{
		"job_id":        job.ID,
		"identifier":    job.Identifier,
		"asset":         job.Asset,
		"depth":         job.Depth,
		"source_ref":    job.SourceRef,
		"tx_hash":       txHash,
		"pool":          pool,
		"distributed":   distributed,
		"child_job_ids": childIDs,
	}); err != nil {
		application.ResolveLogger(w.Logger).Error("distribution hop event append failed",
			"event", "distribution_hop_event_append_failed",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"error", err.Error(),
		)
	}
}

func (w *DistributionWorker) logMarkFailure(job entities.DistributionJob, target string, err error) {
	level := slog.LevelError
	if errors.Is(err, domainerrors.ErrJobNotProcessing) {
		level = slog.LevelWarn
	}
	application.ResolveLogger(w.Logger).Log(context.Background(), level, "distribution job state update failed",
		"event", "distribution_job_state_update_failed",
		"module", application.Module,
		"layer", "worker",
		"job_id", job.ID,
		"target_status", target,
		"error", err.Error(),
	)
}

func (w *DistributionWorker) batchSize() int {
	if w.BatchSize <= 0 {
		return defaultBatchSize
	}
	return w.BatchSize
}

func (w *DistributionWorker) maxAttempts() int {
	if w.MaxAttempts <= 0 {
		return entities.DefaultMaxAttempts
	}
	return w.MaxAttempts
}

func (w *DistributionWorker) now() time.Time {
	if w.Clock == nil {
		return time.Now().UTC()
	}
	return w.Clock.Now().UTC()
}
