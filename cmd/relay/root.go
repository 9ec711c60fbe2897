package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wehubfusion/Relay/pkg/config"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Run event processor chains over NATS",
		Long:          "Relay receives events from a NATS subject, runs them through a configured\nprocessor chain and publishes every outcome to a result subject.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config (default: $"+config.EnvConfigFile+")")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newValidateCmd(flags))
	root.AddCommand(newDescribeCmd(flags))
	root.AddCommand(newPublishCmd(flags))
	return root
}

func (f *rootFlags) logger() (*zap.Logger, error) {
	if f.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
