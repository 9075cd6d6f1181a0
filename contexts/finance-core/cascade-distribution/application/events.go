package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

const SourceService = "cascade-distribution"

// EventAppender writes versioned envelopes to the outbox. A nil Outbox turns
// it into a no-op.
type EventAppender struct {
	Outbox ports.OutboxWriter
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (a EventAppender) Append(
	ctx context.Context,
	eventType string,
	partitionKeyPath string,
	partitionKey string,
	occurredAt time.Time,
	data any,
) error {
	logger := ResolveLogger(a.Logger)
	if a.Outbox == nil {
		logger.Debug("distribution outbox disabled",
			"event", "distribution_outbox_disabled",
			"module", Module,
			"layer", "application",
			"event_type", eventType,
		)
		return nil
	}
	eventID, err := a.IDGen.NewID(ctx)
	if err != nil {
		logger.Error("distribution outbox event id generation failed",
			"event", "distribution_outbox_event_id_generation_failed",
			"module", Module,
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Error("distribution outbox payload marshal failed",
			"event", "distribution_outbox_payload_marshal_failed",
			"module", Module,
			"layer", "application",
			"event_type", eventType,
			"error", err.Error(),
		)
		return err
	}
	if err := a.Outbox.AppendOutbox(ctx, ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    SourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		Data:             payload,
	}); err != nil {
		logger.Error("distribution outbox append failed",
			"event", "distribution_outbox_append_failed",
			"module", Module,
			"layer", "application",
			"event_id", eventID,
			"event_type", eventType,
			"partition_key", partitionKey,
			"error", err.Error(),
		)
		return err
	}
	return nil
}
