package commands

import "github.com/urfave/cli/v3"

// App builds the cascadectl command tree. The env and log-level flags are
// inherited by every subcommand.
func App() *cli.Command {
	return &cli.Command{
		Name:  "cascadectl",
		Usage: "operate the cascading distribution queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "dotenv file path",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug/info/warn/error)",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "simulate",
				Usage: "run a fixture through the simulator until the queue drains",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "fixture",
						Usage:    "YAML fixture path",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "max-batches",
						Usage: "stop after this many batches",
						Value: 50,
					},
				},
				Action: SimulateAction,
			},
			{
				Name:   "process",
				Usage:  "run one distribution batch",
				Action: ProcessAction,
			},
			{
				Name:  "enqueue",
				Usage: "enqueue the root job for a settled payment",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-ref", Usage: "payment reference", Required: true},
					&cli.StringFlag{Name: "identifier", Usage: "paid identifier", Required: true},
					&cli.StringFlag{Name: "asset", Usage: "asset code", Required: true},
					&cli.StringFlag{Name: "amount", Usage: "decimal amount in whole units", Value: "0"},
					&cli.StringFlag{Name: "payer", Usage: "payer identifier"},
					&cli.StringFlag{Name: "idempotency-key", Usage: "replay-safe key for the request"},
				},
				Action: EnqueueAction,
			},
			{
				Name:  "jobs",
				Usage: "inspect and repair distribution jobs",
				Commands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "show one job",
						ArgsUsage: "<job-id>",
						Action:    JobShowAction,
					},
					{
						Name:      "requeue",
						Usage:     "move a failed job back to pending",
						ArgsUsage: "<job-id>",
						Action:    JobRequeueAction,
					},
					{
						Name:  "reset-stale",
						Usage: "return abandoned processing jobs to pending",
						Flags: []cli.Flag{
							&cli.DurationFlag{
								Name:  "older-than",
								Usage: "claim age threshold (defaults to STALE_PROCESSING_AFTER)",
							},
						},
						Action: JobResetStaleAction,
					},
				},
			},
			{
				Name:      "cascade",
				Usage:     "show every job and ledger entry for a payment",
				ArgsUsage: "<source-ref>",
				Action:    CascadeAction,
			},
		},
	}
}
