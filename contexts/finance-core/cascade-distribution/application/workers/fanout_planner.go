package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

// FanOutPlanner enqueues depth+1 jobs for recipients that own split rules.
// Depth is the only cycle breaker: A->B->A keeps hopping until MaxDepth.
type FanOutPlanner struct {
	Jobs   ports.JobQueue
	Rules  ports.SplitRuleReader
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (p FanOutPlanner) Plan(
	ctx context.Context,
	parent entities.DistributionJob,
	snapshot *entities.SplitRule,
	at time.Time,
) []entities.DistributionJob {
	logger := application.ResolveLogger(p.Logger)
	if parent.Depth >= entities.MaxDepth {
		logger.Info("distribution fan-out stopped at depth cap",
			"event", "distribution_fanout_depth_cap_reached",
			"module", application.Module,
			"layer", "worker",
			"job_id", parent.ID,
			"source_ref", parent.SourceRef,
			"depth", parent.Depth,
		)
		return nil
	}

	var rule entities.SplitRule
	if snapshot != nil {
		rule = *snapshot
	} else {
		loaded, err := p.Rules.GetSplitRule(ctx, parent.Identifier)
		if err != nil {
			logger.Error("distribution fan-out rule load failed",
				"event", "distribution_fanout_rule_load_failed",
				"module", application.Module,
				"layer", "worker",
				"job_id", parent.ID,
				"identifier", parent.Identifier,
				"error", err.Error(),
			)
			return nil
		}
		rule = loaded
	}

	children := make([]entities.DistributionJob, 0, len(rule.Recipients))
	for _, recipient := range rule.Recipients {
		recipientRule, err := p.Rules.GetSplitRule(ctx, recipient.Identifier)
		if err != nil {
			logger.Error("distribution fan-out recipient rule load failed",
				"event", "distribution_fanout_recipient_rule_load_failed",
				"module", application.Module,
				"layer", "worker",
				"job_id", parent.ID,
				"recipient", recipient.Identifier,
				"error", err.Error(),
			)
			continue
		}
		if !recipientRule.HasRecipients() {
			continue
		}

		childID, err := p.IDGen.NewID(ctx)
		if err != nil {
			logger.Error("distribution fan-out id generation failed",
				"event", "distribution_fanout_id_generation_failed",
				"module", application.Module,
				"layer", "worker",
				"job_id", parent.ID,
				"recipient", recipient.Identifier,
				"error", err.Error(),
			)
			continue
		}
		child := entities.DistributionJob{
			ID:          childID,
			Identifier:  recipient.Identifier,
			Asset:       parent.Asset,
			Depth:       parent.Depth + 1,
			SourceRef:   parent.SourceRef,
			ParentJobID: parent.ID,
			DedupeKey:   entities.HopDedupeKey(parent.ID, recipient.Identifier),
			Status:      entities.JobStatusPending,
			CreatedAt:   at.UTC(),
			UpdatedAt:   at.UTC(),
		}
		if err := p.Jobs.Enqueue(ctx, child); err != nil {
			if errors.Is(err, domainerrors.ErrJobExists) {
				logger.Debug("distribution fan-out child already planned",
					"event", "distribution_fanout_child_exists",
					"module", application.Module,
					"layer", "worker",
					"job_id", parent.ID,
					"recipient", recipient.Identifier,
				)
				continue
			}
			logger.Error("distribution fan-out enqueue failed",
				"event", "distribution_fanout_enqueue_failed",
				"module", application.Module,
				"layer", "worker",
				"job_id", parent.ID,
				"recipient", recipient.Identifier,
				"depth", child.Depth,
				"error", err.Error(),
			)
			continue
		}
		children = append(children, child)
	}

	if len(children) > 0 {
		logger.Info("distribution fan-out planned",
			"event", "distribution_fanout_planned",
			"module", application.Module,
			"layer", "worker",
			"job_id", parent.ID,
			"source_ref", parent.SourceRef,
			"child_depth", parent.Depth+1,
			"child_count", len(children),
		)
	}
	return children
}
