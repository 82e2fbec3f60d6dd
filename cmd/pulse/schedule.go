package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var interval time.Duration

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Build digests for every client on an interval",
	Long: `Runs every client with an active portfolio immediately and then once
per interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("Pulse scheduler started",
			zap.Duration("interval", cfg.PulseInterval),
			zap.Int("period_days", cfg.PulsePeriodDays),
		)
		err := core.Scheduler.Run(ctx)
		log.Info("Pulse scheduler stopped")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	scheduleCmd.Flags().DurationVar(&interval, "interval", 0, "Time between rounds (default PULSE_INTERVAL)")
	rootCmd.AddCommand(scheduleCmd)
}
