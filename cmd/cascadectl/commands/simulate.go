package commands

import (
	"context"
	"errors"
	"fmt"

	distributioncommands "splitflow/contexts/finance-core/cascade-distribution/application/commands"
	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	"splitflow/internal/platform/config"

	"github.com/urfave/cli/v3"
)

// SimulateAction replays a fixture against an in-memory store and the
// settlement simulator, running batches until the queue drains.
func SimulateAction(ctx context.Context, cmd *cli.Command) error {
	fixturePath := cmd.String("fixture")
	maxBatches := cmd.Int("max-batches")

	runtime, err := openRuntime(ctx, cmd, func(cfg *config.Config) {
		cfg.DatabaseDriver = config.DatabaseMemory
		cfg.SettlementMode = config.SettlementSimulator
		cfg.SimulatorFixture = fixturePath
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	fixture := runtime.Fixture
	if fixture == nil {
		return errors.New("fixture is required")
	}
	module := runtime.Module

	for _, payment := range fixture.Payments {
		units, err := fixture.PaymentUnits(payment)
		if err != nil {
			return fmt.Errorf("payment %s: %w", payment.SourceRef, err)
		}
		if err := runtime.Simulator.ReceivePayment(ctx, payment.Payer, payment.Identifier, fixture.Asset, units); err != nil {
			return fmt.Errorf("payment %s: %w", payment.SourceRef, err)
		}
		if _, _, err := module.Commands.EnqueueRoot(ctx, distributioncommands.EnqueuePaymentCommand{
			SourceRef:  payment.SourceRef,
			Identifier: payment.Identifier,
			Asset:      fixture.Asset,
			Payer:      payment.Payer,
			Amount:     units,
		}); err != nil {
			return fmt.Errorf("enqueue %s: %w", payment.SourceRef, err)
		}
	}

	var total entities.BatchSummary
	for i := 0; i < maxBatches; i++ {
		summary, err := module.Worker.RunBatch(ctx)
		if err != nil {
			return err
		}
		if summary.Processed == 0 {
			break
		}
		total.Processed += summary.Processed
		total.Succeeded += summary.Succeeded
		total.Failed += summary.Failed
		total.Enqueued += summary.Enqueued
		total.Skipped += summary.Skipped
	}

	out := outWriter(cmd)
	renderSummary(out, total)
	for _, payment := range fixture.Payments {
		cascade, err := module.Queries.GetCascade(ctx, payment.SourceRef)
		if err != nil {
			return err
		}
		renderCascade(out, cascade, fixture.AssetDecimals)
	}
	return nil
}
