package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
	contractsv1 "splitflow/contracts/gen/events/v1"
)

const defaultIdempotencyTTL = 7 * 24 * time.Hour

// EnqueuePaymentCommand describes a settled payment that starts a cascade.
// Amount is informational and only feeds the root ledger entry.
type EnqueuePaymentCommand struct {
	SourceRef  string
	Identifier string
	Asset      string
	Payer      string
	Amount     int64
}

type UseCase struct {
	Jobs           ports.JobQueue
	Ledger         ports.LedgerRepository
	Idempotency    ports.IdempotencyStore
	Events         application.EventAppender
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// EnqueuePayment is the keyed post-payment hook. A repeated key with the same
// payload replays the original job; a different payload is a conflict.
func (uc UseCase) EnqueuePayment(
	ctx context.Context,
	idempotencyKey string,
	cmd EnqueuePaymentCommand,
) (entities.DistributionJob, bool, error) {
	logger := application.ResolveLogger(uc.Logger)
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return entities.DistributionJob{}, false, domainerrors.ErrIdempotencyKeyMissing
	}
	cmd = normalize(cmd)
	if !isValidPayment(cmd) {
		return entities.DistributionJob{}, false, domainerrors.ErrInvalidPaymentInput
	}

	now := uc.now()
	requestHash := hashPayload(map[string]any{
		"source_ref": cmd.SourceRef,
		"identifier": cmd.Identifier,
		"asset":      cmd.Asset,
		"payer":      cmd.Payer,
		"amount":     cmd.Amount,
	})
	record, found, err := uc.Idempotency.GetRecord(ctx, key, now)
	if err != nil {
		return entities.DistributionJob{}, false, err
	}
	if found {
		if record.RequestHash != requestHash {
			logger.Warn("distribution payment idempotency conflict",
				"event", "distribution_payment_idempotency_conflict",
				"module", application.Module,
				"layer", "application",
				"idempotency_key", key,
				"source_ref", cmd.SourceRef,
			)
			return entities.DistributionJob{}, false, domainerrors.ErrIdempotencyConflict
		}
		var replayed entities.DistributionJob
		if err := json.Unmarshal(record.ResponsePayload, &replayed); err != nil {
			return entities.DistributionJob{}, false, err
		}
		return replayed, true, nil
	}

	job, existed, err := uc.EnqueueRoot(ctx, cmd)
	if err != nil {
		return entities.DistributionJob{}, false, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return entities.DistributionJob{}, false, err
	}
	if err := uc.Idempotency.PutRecord(ctx, ports.IdempotencyRecord{
		Key:             key,
		RequestHash:     requestHash,
		ResponsePayload: payload,
		ExpiresAt:       now.Add(uc.idempotencyTTL()),
	}); err != nil {
		return entities.DistributionJob{}, false, err
	}
	return job, existed, nil
}

// EnqueueRoot creates the depth-0 job for a payment. The root dedupe key makes
// it safe to call repeatedly for the same payment; the existing job is
// returned with existed=true.
func (uc UseCase) EnqueueRoot(ctx context.Context, cmd EnqueuePaymentCommand) (entities.DistributionJob, bool, error) {
	logger := application.ResolveLogger(uc.Logger)
	cmd = normalize(cmd)
	if !isValidPayment(cmd) {
		logger.Warn("distribution payment invalid input",
			"event", "distribution_payment_invalid_input",
			"module", application.Module,
			"layer", "application",
			"source_ref", cmd.SourceRef,
			"identifier", cmd.Identifier,
			"asset", cmd.Asset,
		)
		return entities.DistributionJob{}, false, domainerrors.ErrInvalidPaymentInput
	}

	dedupeKey := entities.RootDedupeKey(cmd.SourceRef, cmd.Identifier, cmd.Asset)
	existing, err := uc.Jobs.GetJobByDedupeKey(ctx, dedupeKey)
	if err == nil {
		logger.Info("distribution payment already enqueued",
			"event", "distribution_payment_already_enqueued",
			"module", application.Module,
			"layer", "application",
			"job_id", existing.ID,
			"source_ref", cmd.SourceRef,
		)
		return existing, true, nil
	}
	if !errors.Is(err, domainerrors.ErrJobNotFound) {
		return entities.DistributionJob{}, false, err
	}

	jobID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		logger.Error("distribution payment id generation failed",
			"event", "distribution_payment_id_generation_failed",
			"module", application.Module,
			"layer", "application",
			"source_ref", cmd.SourceRef,
			"error", err.Error(),
		)
		return entities.DistributionJob{}, false, err
	}
	now := uc.now()
	job := entities.DistributionJob{
		ID:         jobID,
		Identifier: cmd.Identifier,
		Asset:      cmd.Asset,
		Depth:      0,
		SourceRef:  cmd.SourceRef,
		DedupeKey:  dedupeKey,
		Status:     entities.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.Jobs.Enqueue(ctx, job); err != nil {
		if errors.Is(err, domainerrors.ErrJobExists) {
			existing, lookupErr := uc.Jobs.GetJobByDedupeKey(ctx, dedupeKey)
			if lookupErr != nil {
				return entities.DistributionJob{}, false, lookupErr
			}
			return existing, true, nil
		}
		logger.Error("distribution payment enqueue failed",
			"event", "distribution_payment_enqueue_failed",
			"module", application.Module,
			"layer", "application",
			"job_id", job.ID,
			"source_ref", cmd.SourceRef,
			"error", err.Error(),
		)
		return entities.DistributionJob{}, false, err
	}

	uc.recordPayment(ctx, job, cmd, now)
	if err := uc.Events.Append(ctx, contractsv1.EventPaymentEnqueued, "source_ref", job.SourceRef, now, map[string]any{
		"job_id":     job.ID,
		"source_ref": job.SourceRef,
		"identifier": job.Identifier,
		"asset":      job.Asset,
		"amount":     cmd.Amount,
	}); err != nil {
		logger.Error("distribution payment event append failed",
			"event", "distribution_payment_event_append_failed",
			"module", application.Module,
			"layer", "application",
			"job_id", job.ID,
			"error", err.Error(),
		)
	}

	logger.Info("distribution payment enqueued",
		"event", "distribution_payment_enqueued",
		"module", application.Module,
		"layer", "application",
		"job_id", job.ID,
		"source_ref", job.SourceRef,
		"identifier", job.Identifier,
		"asset", job.Asset,
	)
	return job, false, nil
}

// RequeueJob sends a failed job back to pending with a fresh attempt budget.
func (uc UseCase) RequeueJob(ctx context.Context, jobID string) (entities.DistributionJob, error) {
	logger := application.ResolveLogger(uc.Logger)
	jobID = strings.TrimSpace(jobID)
	if err := uc.Jobs.Requeue(ctx, jobID, uc.now()); err != nil {
		logger.Warn("distribution job requeue rejected",
			"event", "distribution_job_requeue_rejected",
			"module", application.Module,
			"layer", "application",
			"job_id", jobID,
			"error", err.Error(),
		)
		return entities.DistributionJob{}, err
	}
	logger.Info("distribution job requeued",
		"event", "distribution_job_requeued",
		"module", application.Module,
		"layer", "application",
		"job_id", jobID,
	)
	return uc.Jobs.GetJob(ctx, jobID)
}

// ResetStale returns processing jobs claimed more than olderThan ago to pending.
func (uc UseCase) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, domainerrors.ErrInvalidJobInput
	}
	now := uc.now()
	count, err := uc.Jobs.ResetStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		application.ResolveLogger(uc.Logger).Error("distribution stale reset failed",
			"event", "distribution_stale_reset_failed",
			"module", application.Module,
			"layer", "application",
			"error", err.Error(),
		)
		return 0, err
	}
	if count > 0 {
		application.ResolveLogger(uc.Logger).Warn("distribution stale jobs reset",
			"event", "distribution_stale_jobs_reset",
			"module", application.Module,
			"layer", "application",
			"count", count,
			"older_than", olderThan.String(),
		)
	}
	return count, nil
}

func (uc UseCase) recordPayment(ctx context.Context, job entities.DistributionJob, cmd EnqueuePaymentCommand, at time.Time) {
	if uc.Ledger == nil || cmd.Amount <= 0 {
		return
	}
	logger := application.ResolveLogger(uc.Logger)
	entryID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		logger.Error("distribution payment ledger id generation failed",
			"event", "distribution_payment_ledger_id_generation_failed",
			"module", application.Module,
			"layer", "application",
			"job_id", job.ID,
			"error", err.Error(),
		)
		return
	}
	if err := uc.Ledger.AppendLedgerEntries(ctx, []entities.LedgerEntry{{
		ID:             entryID,
		EntryType:      entities.LedgerEntryPayment,
		FromIdentifier: cmd.Payer,
		ToIdentifier:   job.Identifier,
		Amount:         cmd.Amount,
		Asset:          job.Asset,
		Status:         entities.LedgerStatusCompleted,
		TxRef:          job.SourceRef,
		SourceRef:      job.SourceRef,
		JobID:          job.ID,
		Depth:          0,
		CreatedAt:      at,
	}}); err != nil {
		logger.Error("distribution payment ledger write failed",
			"event", "distribution_payment_ledger_write_failed",
			"module", application.Module,
			"layer", "application",
			"job_id", job.ID,
			"error", err.Error(),
		)
	}
}

func (uc UseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func (uc UseCase) idempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return defaultIdempotencyTTL
	}
	return uc.IdempotencyTTL
}

func normalize(cmd EnqueuePaymentCommand) EnqueuePaymentCommand {
	cmd.SourceRef = strings.TrimSpace(cmd.SourceRef)
	cmd.Identifier = strings.TrimSpace(cmd.Identifier)
	cmd.Asset = strings.TrimSpace(cmd.Asset)
	cmd.Payer = strings.TrimSpace(cmd.Payer)
	return cmd
}

func isValidPayment(cmd EnqueuePaymentCommand) bool {
	return cmd.SourceRef != "" &&
		cmd.Identifier != "" &&
		cmd.Asset != "" &&
		cmd.Amount >= 0
}

func hashPayload(payload map[string]any) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
