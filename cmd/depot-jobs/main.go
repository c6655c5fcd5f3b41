// depot-jobs is the HTTP API server for depot background jobs and natural
// language lookups.
package main

import (
	"log/slog"
	"os"

	"depot/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "depot-jobs",
		Short:         "Depot job service and natural language catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load before reading configuration (default .env)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVerifyLanguagesCmd())
	return root
}
