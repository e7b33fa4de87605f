// Package run implements the run, lookup and config commands.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtnitsch/sku-date-checker/internal/common"
	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/dtnitsch/sku-date-checker/pkg/fetcher"
	"github.com/dtnitsch/sku-date-checker/pkg/lookup"
	"github.com/dtnitsch/sku-date-checker/pkg/pipeline"
	"github.com/dtnitsch/sku-date-checker/pkg/ratelimit"
	"github.com/dtnitsch/sku-date-checker/pkg/source"
	"github.com/urfave/cli/v2"
)

func RunAction(c *cli.Context) error {
	logger := common.NewLogger(c)

	cfg, err := common.LoadConfig(c)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return cli.Exit("", 2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return cli.Exit("", 2)
	}

	input := c.String("input")
	if input == "" && c.NArg() > 0 {
		input = c.Args().First()
	}
	if input == "" {
		fmt.Fprintln(os.Stderr, "Error: No input CSV provided")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  sku-checker run --input stock.csv")
		fmt.Fprintln(os.Stderr, "  sku-checker run --input stock.csv --rpm 300 --workers 16 --control-addr :8089")
		return cli.Exit("", 2)
	}

	// Fail fast on a missing file or column before a run is recorded.
	src, err := source.Open(input, cfg.Source, cfg.Pipeline.ChunkSize)
	if err != nil {
		logger.Error("failed to open source", "error", err, "path", input)
		return cli.Exit("", 2)
	}
	_ = src.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database", "error", err, "driver", cfg.Database.Driver)
		return cli.Exit("", 2)
	}
	defer store.Close()

	client, err := newLookupClient(cfg, logger)
	if err != nil {
		logger.Error("failed to build lookup client", "error", err)
		return cli.Exit("", 2)
	}

	ctl, err := pipeline.New(pipeline.Options{
		Config:     cfg.Pipeline,
		OpenSource: func() (pipeline.RowSource, error) {
			r, err := source.Open(input, cfg.Source, cfg.Pipeline.ChunkSize)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		Limiter: ratelimit.New(cfg.Pipeline.RequestsPerMinute),
		Lookup:  client,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return cli.Exit("", 2)
	}

	runID, err := store.CreateRun(ctx, input)
	if err != nil {
		logger.Error("failed to create run", "error", err)
		return cli.Exit("", 2)
	}
	logger.Info("Run", "run_id", runID, "source", input, "database", store.Location(),
		"rpm", cfg.Pipeline.RequestsPerMinute, "workers", cfg.Pipeline.WorkerCount)

	if err := ctl.Start(ctx, store.Sink(runID)); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		return cli.Exit("", 2)
	}

	go watchSignals(ctx, ctl, logger)
	go reportProgress(ctx, ctl, c.Duration("progress-interval"), logger)
	if addr := c.String("control-addr"); addr != "" {
		go serveControl(ctx, addr, ctl, logger)
	}

	summary, runErr := ctl.Wait()
	cancel()
	if runErr != nil {
		logger.Error("pipeline failed", "error", runErr)
	}

	// The run context is gone; bookkeeping gets its own deadline.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()
	if err := store.FinishRun(finishCtx, runID, summary.Outcome, summary.Counters); err != nil {
		logger.Warn("Failed to record run outcome", "error", err, "run_id", runID)
	}

	output := BuildOutput(runID, input, store.Location(), summary)
	data, err := common.Marshal(c.String("format"), output)
	if err != nil {
		logger.Error("failed to marshal final output", "error", err)
		return cli.Exit("", 2)
	}
	fmt.Println(string(data))

	if runErr != nil {
		return cli.Exit("", 2)
	}
	if code := ExitCode(summary); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

// LookupAction checks a single key and prints the result.
func LookupAction(c *cli.Context) error {
	logger := common.NewLogger(c)

	cfg, err := common.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	key := common.SanitizeKey(c.String("sku"))
	if key == "" && c.NArg() > 0 {
		key = common.SanitizeKey(c.Args().First())
	}
	if key == "" {
		return fmt.Errorf("no SKU provided. Use: sku-checker lookup --sku ABC-123")
	}

	client, err := newLookupClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result := client.Check(ctx, key)
	data, err := common.Marshal(c.String("format"), result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))

	if !result.OK() {
		return cli.Exit("", 1)
	}
	return nil
}

// ConfigAction prints the effective configuration with secrets masked.
func ConfigAction(c *cli.Context) error {
	cfg, err := common.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	masked := *cfg
	masked.Auth = maskAuth(cfg.Auth)
	masked.Database.URL = maskSecret(cfg.Database.URL)

	data, err := common.Marshal(c.String("format"), masked)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Println(string(data))

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return cli.Exit("", 1)
	}
	return nil
}

func newLookupClient(cfg *models.Config, logger *slog.Logger) (*lookup.Client, error) {
	f, err := fetcher.NewFetcher(cfg.Lookup, cfg.Auth)
	if err != nil {
		return nil, err
	}
	return lookup.NewClient(f, cfg.Lookup, cfg.Pipeline.MaxRetries, logger), nil
}

func maskAuth(a models.AuthConfig) models.AuthConfig {
	a.Password = maskSecret(a.Password)
	a.Token = maskSecret(a.Token)
	a.APIKey = maskSecret(a.APIKey)
	return a
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
