package main

import (
	"context"
	"fmt"
	"os"

	"duet/cmd/internal/app"

	"github.com/spf13/cobra"
)

var envFile string

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "duet [command]",
		Short: "Two-person questionnaire session coordinator",
		Long: `duet pairs an initiator and a partner through an invite code,
gates disclosure on payment and produces a compatibility analysis
once both answer sets are in.

Examples:
  # Run the HTTP API
  duet serve

  # Apply the PostgreSQL schema
  DUET_DATABASE_URL=postgres://... duet migrate`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file (default .env)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Serve(cmd.Context(), envFiles()...)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Migrate(cmd.Context(), envFiles()...)
		},
	})
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
