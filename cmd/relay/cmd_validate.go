package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Relay/pkg/config"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and compile every pipeline stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			_, closeFn, err := cfg.BuildChain(context.Background(), nil, nil)
			defer closeFn()
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: service %s, %d stage(s)\n", cfg.Service, len(cfg.Pipeline))
			return nil
		},
	}
}

func newDescribeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the pipeline as a tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			c, closeFn, err := cfg.BuildChain(context.Background(), nil, nil)
			defer closeFn()
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.String())
			return nil
		},
	}
}
