package workers

import (
	"context"
	"encoding/json"
	"log/slog"

	application "splitflow/contexts/finance-core/cascade-distribution/application"
	"splitflow/contexts/finance-core/cascade-distribution/application/commands"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
	contractsv1 "splitflow/contracts/gen/events/v1"
)

const defaultPaymentConsumerGroup = "cascade-distribution-payment-settled-cg"

type paymentSettledPayload struct {
	SourceRef  string `json:"source_ref"`
	Identifier string `json:"identifier"`
	Asset      string `json:"asset"`
	Payer      string `json:"payer"`
	Amount     int64  `json:"amount"`
}

// PaymentSettledConsumer is the post-payment hook over the bus. Replays of the
// same payment converge on the existing root job through its dedupe key.
type PaymentSettledConsumer struct {
	Subscriber    ports.EventSubscriber
	Commands      commands.UseCase
	ConsumerGroup string
	Logger        *slog.Logger
}

func (c PaymentSettledConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := c.ConsumerGroup
	if group == "" {
		group = defaultPaymentConsumerGroup
	}
	if err := c.Subscriber.Subscribe(ctx, contractsv1.EventPaymentSettled, group, c.handle); err != nil {
		logger.Error("distribution payment consumer subscribe failed",
			"event", "distribution_payment_consumer_subscribe_failed",
			"module", application.Module,
			"layer", "worker",
			"topic", contractsv1.EventPaymentSettled,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("distribution payment consumer subscribed",
		"event", "distribution_payment_consumer_subscribed",
		"module", application.Module,
		"layer", "worker",
		"topic", contractsv1.EventPaymentSettled,
		"consumer_group", group,
	)
	return nil
}

func (c PaymentSettledConsumer) handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	var payload paymentSettledPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("distribution payment event decode failed",
			"event", "distribution_payment_event_decode_failed",
			"module", application.Module,
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	job, existed, err := c.Commands.EnqueueRoot(ctx, commands.EnqueuePaymentCommand{
		SourceRef:  payload.SourceRef,
		Identifier: payload.Identifier,
		Asset:      payload.Asset,
		Payer:      payload.Payer,
		Amount:     payload.Amount,
	})
	if err != nil {
		logger.Error("distribution payment ingestion failed",
			"event", "distribution_payment_ingestion_failed",
			"module", application.Module,
			"layer", "worker",
			"event_id", event.EventID,
			"source_ref", payload.SourceRef,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("distribution payment ingested",
		"event", "distribution_payment_ingested",
		"module", application.Module,
		"layer", "worker",
		"event_id", event.EventID,
		"job_id", job.ID,
		"replayed", existed,
	)
	return nil
}
