package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/grasshopper/pkg/tracker"
	"github.com/spf13/cobra"
)

var (
	loginUsername string
	loginPassword string
	loginServer   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a bearer token from the tracking service",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "user name")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password")
	loginCmd.Flags().StringVar(&loginServer, "server", "",
		"tracking service base url (overrides runner.server)")

	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("server") {
		cfg.Runner.Server = loginServer
	}

	client, err := tracker.NewClient(log, &tracker.ClientConfig{
		ServerURL:      cfg.Runner.Server,
		RequestTimeout: cfg.Runner.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating tracker client: %w", err)
	}

	token, err := client.Authenticate(context.Background(), loginUsername, loginPassword)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)

	return nil
}
