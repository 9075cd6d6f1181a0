package commands

import (
	"context"
	"fmt"

	distributioncommands "splitflow/contexts/finance-core/cascade-distribution/application/commands"
	"splitflow/contexts/finance-core/cascade-distribution/domain/services"

	"github.com/urfave/cli/v3"
)

// ProcessAction runs one batch against the configured storage and settlement.
func ProcessAction(ctx context.Context, cmd *cli.Command) error {
	runtime, err := openRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer runtime.Close()

	summary, err := runtime.Module.Worker.TryRunBatch(ctx)
	if err != nil {
		return err
	}
	renderSummary(outWriter(cmd), summary)
	return nil
}

func EnqueueAction(ctx context.Context, cmd *cli.Command) error {
	runtime, err := openRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer runtime.Close()

	amount, err := services.ParseAmount(cmd.String("amount"), runtime.Config.AssetDecimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	payment := distributioncommands.EnqueuePaymentCommand{
		SourceRef:  cmd.String("source-ref"),
		Identifier: cmd.String("identifier"),
		Asset:      cmd.String("asset"),
		Payer:      cmd.String("payer"),
		Amount:     amount,
	}

	out := outWriter(cmd)
	if key := cmd.String("idempotency-key"); key != "" {
		job, replayed, err := runtime.Module.Commands.EnqueuePayment(ctx, key, payment)
		if err != nil {
			return err
		}
		if replayed {
			fmt.Fprintln(out, "replayed existing job")
		}
		renderJob(out, job)
		return nil
	}

	job, existed, err := runtime.Module.Commands.EnqueueRoot(ctx, payment)
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintln(out, "payment already enqueued")
	}
	renderJob(out, job)
	return nil
}

func JobShowAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := requireArg(cmd, "job id")
	if err != nil {
		return err
	}
	runtime, err := openRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer runtime.Close()

	job, err := runtime.Module.Queries.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	renderJob(outWriter(cmd), job)
	return nil
}

func JobRequeueAction(ctx context.Context, cmd *cli.Command) error {
	jobID, err := requireArg(cmd, "job id")
	if err != nil {
		return err
	}
	runtime, err := openRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer runtime.Close()

	job, err := runtime.Module.Commands.RequeueJob(ctx, jobID)
	if err != nil {
		return err
	}
	renderJob(outWriter(cmd), job)
	return nil
}

func JobResetStaleAction(ctx context.Context, cmd *cli.Command) error {
	runtime, err := openRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer runtime.Close()

	olderThan := cmd.Duration("older-than")
	if olderThan <= 0 {
		olderThan = runtime.Config.StaleProcessingAfter
	}
	reset, err := runtime.Module.Commands.ResetStale(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(outWriter(cmd), "reset %d stale job(s) older than %s\n", reset, olderThan)
	return nil
}

func CascadeAction(ctx context.Context, cmd *cli.Command) error {
	sourceRef, err := requireArg(cmd, "source ref")
	if err != nil {
		return err
	}
	runtime, err := openRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer runtime.Close()

	cascade, err := runtime.Module.Queries.GetCascade(ctx, sourceRef)
	if err != nil {
		return err
	}
	renderCascade(outWriter(cmd), cascade, runtime.Config.AssetDecimals)
	return nil
}
