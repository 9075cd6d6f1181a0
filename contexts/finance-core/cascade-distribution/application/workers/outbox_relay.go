package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

const defaultOutboxBatchSize = 100

// OutboxRelay publishes pending outbox envelopes, using the event type as the
// topic. A row is only marked published after the bus accepted it.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultOutboxBatchSize
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("distribution outbox list failed",
			"event", "distribution_outbox_list_failed",
			"module", application.Module,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			logger.Error("distribution outbox decode failed",
				"event", "distribution_outbox_decode_failed",
				"module", application.Module,
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Publisher.Publish(ctx, envelope.EventType, envelope); err != nil {
			logger.Error("distribution outbox publish failed",
				"event", "distribution_outbox_publish_failed",
				"module", application.Module,
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_type", envelope.EventType,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		logger.Debug("distribution outbox relayed",
			"event", "distribution_outbox_relayed",
			"module", application.Module,
			"layer", "worker",
			"count", len(pending),
		)
	}
	return nil
}
