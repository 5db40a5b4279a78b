package main

import (
	"github.com/spf13/cobra"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/pkg/logger"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "queue-api",
		Short:         "Clinic waiting queue API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newMigrateCommand(&configFlag))

	return rootCmd
}

// loadConfig reads the configuration and installs the configured logger as
// the global one.
func loadConfig(path string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.SetGlobal()
	return cfg, log, nil
}
