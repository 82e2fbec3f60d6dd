// Package main is the pulse digest command: one-off runs and the periodic
// scheduler.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/app"
	"github.com/capitalize-ai/compliance-intelligence/internal/config"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/tracing"
)

var (
	cfg      *config.Config
	log      *logger.Logger
	core     *app.App
	teardown []func()

	periodDays  int
	concurrency int
)

var rootCmd = &cobra.Command{
	Use:           "pulse",
	Short:         "Build compliance pulse digests",
	Long:          `Builds the periodic digest of compliance changes for each client portfolio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context(), cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		for i := len(teardown) - 1; i >= 0; i-- {
			teardown[i]()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&periodDays, "period-days", 0, "Digest period in days (default PULSE_PERIOD_DAYS)")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Clients processed at once (default PULSE_CONCURRENCY)")
}

func setup(ctx context.Context, cmd *cobra.Command) error {
	cfg = config.Load()
	if cmd.Flags().Changed("period-days") {
		cfg.PulsePeriodDays = periodDays
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.PulseConcurrency = concurrency
	}
	if cmd.Flags().Changed("interval") {
		cfg.PulseInterval = interval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var err error
	log, err = logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger.SetGlobal(log)
	teardown = append(teardown, func() { _ = log.Sync() })

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "compliance-pulse", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			teardown = append(teardown, func() { _ = tracing.Shutdown(context.Background(), tp) })
		}
	}

	core, err = app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	teardown = append(teardown, core.Close)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
