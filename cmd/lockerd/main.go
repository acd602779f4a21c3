// Command lockerd serves the locker assignment board over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config/config.yaml"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "lockerd",
		Short:         "Locker inventory and assignment service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML); defaults to $CONFIG_PATH")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server and the locker sync",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), resolveConfigPath(configPath))
			},
		},
		exportCmd(&configPath),
		seedCmd(&configPath),
	)
	return cmd
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return defaultConfigPath
}

func exportCmd(configPath *string) *cobra.Command {
	var (
		out          string
		showInactive bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current board to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportBoard(cmd.Context(), resolveConfigPath(*configPath), out, showInactive)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "casilleros.xlsx", "Output file")
	cmd.Flags().BoolVar(&showInactive, "inactive", false, "Include inactive lockers")
	return cmd
}

func seedCmd(configPath *string) *cobra.Command {
	var (
		codes string
		group string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create lockers for a code range such as A1-A40",
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedLockers(cmd.Context(), resolveConfigPath(*configPath), codes, group)
		},
	}
	cmd.Flags().StringVarP(&codes, "range", "r", "", "Code or code range")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group of the new lockers")
	_ = cmd.MarkFlagRequired("range")
	return cmd
}
