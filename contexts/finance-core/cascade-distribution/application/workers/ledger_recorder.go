package workers

import (
	"context"
	"log/slog"
	"time"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	"splitflow/contexts/finance-core/cascade-distribution/domain/services"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

// Hop is everything observed around one successful distribution.
type Hop struct {
	Job       entities.DistributionJob
	Pool      int64
	PoolKnown bool
	Rule      entities.SplitRule
	RuleKnown bool
	TxHash    string
	At        time.Time
}

// LedgerRecorder writes one distribution entry per nonzero share of a hop.
// Failures are logged and never surface to the caller.
type LedgerRecorder struct {
	Ledger          ports.LedgerRepository
	Directory       ports.IdentifierDirectory
	IDGen           ports.IDGenerator
	MinDistribution int64
	Logger          *slog.Logger
}

func (r LedgerRecorder) Record(ctx context.Context, hop Hop) []entities.LedgerEntry {
	logger := application.ResolveLogger(r.Logger)
	if r.Ledger == nil {
		return nil
	}
	if !hop.PoolKnown {
		logger.Warn("ledger hop skipped without pool observation",
			"event", "distribution_ledger_pool_unknown",
			"module", application.Module,
			"layer", "worker",
			"job_id", hop.Job.ID,
			"tx_hash", hop.TxHash,
		)
		return nil
	}
	if !hop.RuleKnown {
		logger.Warn("ledger hop skipped without rule snapshot",
			"event", "distribution_ledger_rule_unknown",
			"module", application.Module,
			"layer", "worker",
			"job_id", hop.Job.ID,
			"tx_hash", hop.TxHash,
		)
		return nil
	}

	shares := services.ComputeShares(hop.Pool, hop.Rule.Recipients, r.MinDistribution)
	if len(shares) == 0 {
		return nil
	}
	fromAccount := r.resolve(ctx, hop.Job, hop.Job.Identifier)

	entries := make([]entities.LedgerEntry, 0, len(shares))
	for _, share := range shares {
		toAccount := ""
		if r.Directory != nil {
			toAccount = r.resolve(ctx, hop.Job, share.Recipient)
			if toAccount == "" {
				continue
			}
		}
		entryID, err := r.IDGen.NewID(ctx)
		if err != nil {
			logger.Error("ledger entry id generation failed",
				"event", "distribution_ledger_id_generation_failed",
				"module", application.Module,
				"layer", "worker",
				"job_id", hop.Job.ID,
				"recipient", share.Recipient,
				"error", err.Error(),
			)
			continue
		}
		entries = append(entries, entities.LedgerEntry{
			ID:             entryID,
			EntryType:      entities.LedgerEntryDistribution,
			FromIdentifier: hop.Job.Identifier,
			ToIdentifier:   share.Recipient,
			FromAccount:    fromAccount,
			ToAccount:      toAccount,
			Amount:         share.Amount,
			Asset:          hop.Job.Asset,
			Status:         entities.LedgerStatusCompleted,
			TxRef:          hop.TxHash,
			SourceRef:      hop.Job.SourceRef,
			JobID:          hop.Job.ID,
			Depth:          hop.Job.Depth,
			ShareBps:       share.ShareBps,
			CreatedAt:      hop.At.UTC(),
		})
	}
	if len(entries) == 0 {
		return nil
	}
	if err := r.Ledger.AppendLedgerEntries(ctx, entries); err != nil {
		logger.Error("ledger entries write failed",
			"event", "distribution_ledger_write_failed",
			"module", application.Module,
			"layer", "worker",
			"job_id", hop.Job.ID,
			"entry_count", len(entries),
			"error", err.Error(),
		)
		return nil
	}
	logger.Info("ledger hop recorded",
		"event", "distribution_ledger_hop_recorded",
		"module", application.Module,
		"layer", "worker",
		"job_id", hop.Job.ID,
		"source_ref", hop.Job.SourceRef,
		"entry_count", len(entries),
		"distributed", services.TotalOf(shares),
		"pool", hop.Pool,
	)
	return entries
}

func (r LedgerRecorder) resolve(ctx context.Context, job entities.DistributionJob, identifier string) string {
	if r.Directory == nil {
		return ""
	}
	account, err := r.Directory.ResolveAccount(ctx, identifier)
	if err != nil {
		application.ResolveLogger(r.Logger).Warn("ledger account resolution failed",
			"event", "distribution_ledger_account_unresolved",
			"module", application.Module,
			"layer", "worker",
			"job_id", job.ID,
			"identifier", identifier,
			"error", err.Error(),
		)
		return ""
	}
	return account
}
