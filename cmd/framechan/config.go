package main

import (
	"fmt"

	"github.com/danmuck/framechan/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate link config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		kind   string
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "listen", "config kind: listen|dial")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to <kind>.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLinkConfig(args[0])
			if err != nil {
				return err
			}
			role := "listen"
			if cfg.DialURL != "" {
				role = "dial"
				err = cfg.ValidateDial()
			} else {
				err = cfg.ValidateListen()
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid %s config: %s -> %s\n", role, cfg.Origin, cfg.TargetOrigin)
			return nil
		},
	}
}
