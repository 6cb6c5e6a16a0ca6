package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := newApp()

	rootCmd := &cobra.Command{
		Use:           "clawstat",
		Short:         "clawstat: OpenClaw gateway status collector and dashboard relay",
		Long:          "clawstat snapshots an OpenClaw gateway into a status.json document, optionally publishes it to a bucket, and relays dashboard websocket traffic to the gateway.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String(keyConfigFile, "", "Config file (default ~/.config/clawstat/config.toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newVersionCmd(),
		newCollectCmd(app),
		newRelayCmd(app),
		newStatusCmd(app),
		newHistoryCmd(app),
		newRulesCmd(app),
	)

	return rootCmd
}
