package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/grasshopper/pkg/api"
	"github.com/spf13/cobra"
)

var trackerListen string

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Start the tracking service",
	Long:  `Start the HTTP tracking service that stores test runs and CPU usage samples.`,
	Args:  cobra.NoArgs,
	RunE:  runTracker,
}

func init() {
	rootCmd.AddCommand(trackerCmd)
	trackerCmd.Flags().StringVar(&trackerListen, "listen", "",
		"listen address (overrides tracker.server.listen)")
}

func runTracker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.Tracker.Server.Listen = trackerListen
	}

	if err := cfg.ValidateTracker(); err != nil {
		return fmt.Errorf("validating tracker config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(log, &cfg.Tracker)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting tracking service: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down tracking service")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping tracking service: %w", err)
	}

	return nil
}
