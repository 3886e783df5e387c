package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var envFlag string
	var collectionsFlag string

	ctx := newCommandContext(&envFlag, &collectionsFlag)

	rootCmd := &cobra.Command{
		Use:           "abrpipeline",
		Short:         "Adaptive-bitrate packaging pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureSettings()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFlag, "env", ".env", "Environment file loaded before reading settings")
	rootCmd.PersistentFlags().StringVar(&collectionsFlag, "collections", "", "Collections TOML file (overrides COLLECTIONS_FILE)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPlanCommand(ctx))
	rootCmd.AddCommand(newIngestCommand(ctx))

	return rootCmd
}
