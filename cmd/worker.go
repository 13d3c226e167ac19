package cmd

import (
	"puborch/internal/config"
	"puborch/internal/platform"
	"puborch/internal/worker"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start the publishing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()

			// Platform adapters are registered here at startup; each build
			// of the worker wires the adapters for the platforms it serves.
			registry := platform.NewRegistry()

			return worker.Run(cfg, registry)
		},
	}

	return command
}
