package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	"splitflow/contexts/finance-core/cascade-distribution/domain/services"
	"splitflow/internal/app/bootstrap"
	"splitflow/internal/platform/config"
	"splitflow/internal/platform/logger"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// openRuntime loads configuration, lets the caller override it and wires the
// cascade module. Logs go to stderr so command output stays clean.
func openRuntime(ctx context.Context, cmd *cli.Command, override func(*config.Config)) (*bootstrap.Runtime, error) {
	cfg, err := config.Read(cmd.String("env"))
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(logger.Config{
		Level:  cmd.String("log-level"),
		Format: "text",
		Output: errWriter(cmd),
	})
	return bootstrap.BuildRuntime(ctx, cfg, log)
}

func outWriter(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.ErrWriter != nil {
		return root.ErrWriter
	}
	return os.Stderr
}

func renderJob(w io.Writer, job entities.DistributionJob) {
	fmt.Fprintf(w, "Job:        %s\n", job.ID)
	fmt.Fprintf(w, "Identifier: %s\n", job.Identifier)
	fmt.Fprintf(w, "Asset:      %s\n", job.Asset)
	fmt.Fprintf(w, "Depth:      %d\n", job.Depth)
	fmt.Fprintf(w, "Source:     %s\n", job.SourceRef)
	fmt.Fprintf(w, "Status:     %s\n", job.Status)
	fmt.Fprintf(w, "Attempts:   %d\n", job.Attempts)
	if job.ParentJobID != "" {
		fmt.Fprintf(w, "Parent:     %s\n", job.ParentJobID)
	}
	if job.ExternalRef != "" {
		fmt.Fprintf(w, "Tx:         %s\n", job.ExternalRef)
	}
	if job.Note != "" {
		fmt.Fprintf(w, "Note:       %s\n", job.Note)
	}
	if job.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", job.LastError)
	}
}

func renderSummary(w io.Writer, summary entities.BatchSummary) {
	table := tablewriter.NewWriter(w)
	table.Header("Processed", "Succeeded", "Failed", "Enqueued", "Skipped")
	_ = table.Append(
		fmt.Sprint(summary.Processed),
		fmt.Sprint(summary.Succeeded),
		fmt.Sprint(summary.Failed),
		fmt.Sprint(summary.Enqueued),
		fmt.Sprint(summary.Skipped),
	)
	_ = table.Render()
}

func renderCascade(w io.Writer, cascade entities.Cascade, decimals int32) {
	fmt.Fprintf(w, "\nCascade %s\n", cascade.SourceRef)

	jobs := tablewriter.NewWriter(w)
	jobs.Header("Depth", "Identifier", "Status", "Attempts", "Note")
	for _, job := range cascade.Jobs {
		_ = jobs.Append(
			fmt.Sprint(job.Depth),
			job.Identifier,
			string(job.Status),
			fmt.Sprint(job.Attempts),
			job.Note,
		)
	}
	_ = jobs.Render()

	entries := tablewriter.NewWriter(w)
	entries.Header("Depth", "Type", "From", "To", "Share", "Amount")
	for _, entry := range cascade.Entries {
		share := ""
		if entry.ShareBps > 0 {
			share = fmt.Sprintf("%d bps", entry.ShareBps)
		}
		_ = entries.Append(
			fmt.Sprint(entry.Depth),
			string(entry.EntryType),
			entry.FromIdentifier,
			entry.ToIdentifier,
			share,
			services.FormatAmount(entry.Amount, decimals),
		)
	}
	_ = entries.Render()

	fmt.Fprintf(w, "Total distributed: %s\n", services.FormatAmount(cascade.TotalDistributed, decimals))
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	value := strings.TrimSpace(cmd.Args().First())
	if value == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return value, nil
}
