package main

import (
	"fmt"
	"os"
	"time"

	dbcmd "github.com/dtnitsch/sku-date-checker/internal/db"
	"github.com/dtnitsch/sku-date-checker/internal/run"
	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sku-checker",
		Usage: "look up the last order date of zero-stock SKUs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (default: next to the binary)"},
			&cli.StringFlag{Name: "db-driver", Usage: "result store: sqlite or postgres"},
			&cli.StringFlag{Name: "format", Value: "yaml", Usage: "output format: yaml or json"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output"},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Look up every zero-stock SKU in a CSV file",
				ArgsUsage: "[input.csv]",
				Action:    run.RunAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "CSV file with sku and stock_qty columns"},
					&cli.IntFlag{Name: "rpm", Usage: fmt.Sprintf("requests per minute (default %d)", models.DefaultRequestsPerMinute)},
					&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: fmt.Sprintf("concurrent workers (default %d)", models.DefaultWorkerCount)},
					&cli.IntFlag{Name: "max-retries", Usage: fmt.Sprintf("attempts per SKU (default %d)", models.DefaultMaxRetries)},
					&cli.IntFlag{Name: "batch-size", Usage: fmt.Sprintf("results per commit (default %d)", models.DefaultBatchCommitSize)},
					&cli.StringFlag{Name: "endpoint", Usage: "order lookup endpoint"},
					&cli.StringFlag{Name: "control-addr", Usage: "serve the control API on this address, e.g. :8089"},
					&cli.DurationFlag{Name: "progress-interval", Value: 5 * time.Second, Usage: "how often to log progress (0 disables)"},
				},
			},
			{
				Name:      "lookup",
				Usage:     "Look up a single SKU",
				ArgsUsage: "[sku]",
				Action:    run.LookupAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sku", Aliases: []string{"s"}, Usage: "SKU to look up"},
					&cli.IntFlag{Name: "max-retries", Usage: "attempts for this SKU"},
					&cli.StringFlag{Name: "endpoint", Usage: "order lookup endpoint"},
				},
			},
			{
				Name:   "runs",
				Usage:  "List recorded runs",
				Action: dbcmd.RunsAction,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of runs to show"},
				},
			},
			{
				Name:      "results",
				Usage:     "Show the most recent results of a run",
				ArgsUsage: "[run-id]",
				Action:    dbcmd.ResultsAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "run ID (default: latest)"},
					&cli.BoolFlag{Name: "all", Usage: "include every run"},
					&cli.IntFlag{Name: "limit", Value: 5000, Usage: "maximum results"},
					&cli.StringFlag{Name: "fields", Usage: "comma-separated fields to keep, e.g. sku,days_since"},
				},
			},
			{
				Name:      "export",
				Usage:     "Export results to CSV",
				ArgsUsage: "[run-id]",
				Action:    dbcmd.ExportAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "CSV file to write"},
					&cli.StringFlag{Name: "run", Usage: "run ID (default: latest)"},
					&cli.BoolFlag{Name: "all", Usage: "include every run"},
				},
			},
			{
				Name:   "clear",
				Usage:  "Delete all stored runs and results",
				Action: dbcmd.ClearAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
				},
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration",
				Action: run.ConfigAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
