package main

import (
	"fmt"

	"github.com/danmuck/tcpserv/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate config templates",
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
		Short: "Write a commented config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = kind + ".toml"
			}
			if err := config.WriteTemplate(output, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", config.KindServer, "config kind: server|client")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a config file and report the first problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(args[0], kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", kind, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", config.KindServer, "config kind: server|client")
	return cmd
}
