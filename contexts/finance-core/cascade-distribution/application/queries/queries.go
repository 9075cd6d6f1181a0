package queries

import (
	"context"
	"log/slog"
	"strings"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

type UseCase struct {
	Jobs     ports.JobQueue
	Ledger   ports.LedgerRepository
	Balances ports.BalanceReader
	Logger   *slog.Logger
}

func (uc UseCase) GetJob(ctx context.Context, jobID string) (entities.DistributionJob, error) {
	normalizedJobID := strings.TrimSpace(jobID)
	job, err := uc.Jobs.GetJob(ctx, normalizedJobID)
	if err != nil {
		application.ResolveLogger(uc.Logger).Warn("distribution query get job failed",
			"event", "distribution_query_get_job_failed",
			"module", application.Module,
			"layer", "application",
			"job_id", normalizedJobID,
			"error", err.Error(),
		)
		return entities.DistributionJob{}, err
	}
	return job, nil
}

// GetCascade collects every job and ledger entry that descends from one
// payment. TotalDistributed only counts hop entries.
func (uc UseCase) GetCascade(ctx context.Context, sourceRef string) (entities.Cascade, error) {
	logger := application.ResolveLogger(uc.Logger)
	normalizedSourceRef := strings.TrimSpace(sourceRef)
	if normalizedSourceRef == "" {
		return entities.Cascade{}, domainerrors.ErrInvalidPaymentInput
	}
	jobs, err := uc.Jobs.ListJobsBySource(ctx, normalizedSourceRef)
	if err != nil {
		logger.Error("distribution query list jobs failed",
			"event", "distribution_query_list_jobs_failed",
			"module", application.Module,
			"layer", "application",
			"source_ref", normalizedSourceRef,
			"error", err.Error(),
		)
		return entities.Cascade{}, err
	}
	if len(jobs) == 0 {
		return entities.Cascade{}, domainerrors.ErrJobNotFound
	}

	cascade := entities.Cascade{SourceRef: normalizedSourceRef, Jobs: jobs}
	if uc.Ledger == nil {
		return cascade, nil
	}
	entries, err := uc.Ledger.ListLedgerEntries(ctx, normalizedSourceRef)
	if err != nil {
		logger.Error("distribution query list ledger failed",
			"event", "distribution_query_list_ledger_failed",
			"module", application.Module,
			"layer", "application",
			"source_ref", normalizedSourceRef,
			"error", err.Error(),
		)
		return entities.Cascade{}, err
	}
	cascade.Entries = entries
	for _, entry := range entries {
		if entry.EntryType == entities.LedgerEntryDistribution {
			cascade.TotalDistributed += entry.Amount
		}
	}
	return cascade, nil
}

func (uc UseCase) GetBalances(ctx context.Context, identifier string, asset string) (entities.Balances, error) {
	identifier = strings.TrimSpace(identifier)
	asset = strings.TrimSpace(asset)
	if identifier == "" || asset == "" {
		return entities.Balances{}, domainerrors.ErrInvalidPaymentInput
	}
	if uc.Balances == nil {
		return entities.Balances{}, domainerrors.ErrSettlementOffline
	}
	balances, err := uc.Balances.Balances(ctx, identifier, asset)
	if err != nil {
		application.ResolveLogger(uc.Logger).Warn("distribution query balances failed",
			"event", "distribution_query_balances_failed",
			"module", application.Module,
			"layer", "application",
			"identifier", identifier,
			"asset", asset,
			"error", err.Error(),
		)
		return entities.Balances{}, err
	}
	return balances, nil
}
