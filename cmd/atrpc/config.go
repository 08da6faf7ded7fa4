package main

import (
	"fmt"

	"github.com/danmuck/atrpc/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate config files",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd())
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
		Short: "Write a default config template",
		Args:  cobra.NoArgs,
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

	cmd.Flags().StringVarP(&kind, "kind", "k", config.KindServer, "config kind: server|client")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func configCheckCmd() *cobra.Command {
	var (
		kind  string
		input string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := input
			if path == "" {
				path = kind + ".toml"
			}
			if err := config.Check(path, kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", kind, path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", config.KindServer, "config kind: server|client")
	cmd.Flags().StringVarP(&input, "input", "i", "", "config path (default <kind>.toml)")

	return cmd
}
