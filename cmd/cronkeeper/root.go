package main

import (
	"github.com/spf13/cobra"

	"cronkeeper/internal/config"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "cronkeeper",
		Short:         "Cron job keeper with exactly-once execution",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files with overrides (missing files are skipped)")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(),
		newValidateCmd(opts),
	)
	return root
}

func (o *rootOptions) env() (config.Env, error) {
	return config.LoadEnv(o.envFiles...)
}
