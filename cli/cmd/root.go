// Package cmd implements the paywatch command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/internal/client"
	"github.com/i3lani/paywatch/common/config"
)

var cfg *config.CLIConfig

var rootCmd = &cobra.Command{
	Use:   "paywatch",
	Short: "paywatch payment verification CLI",
	Long: `paywatch runs and operates the payment verification engine.

Start the service, apply database migrations, issue admin tokens, inspect
payments, force reconciliation passes and work the review queues from your
terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("server", "", "payments service URL (overrides the profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.LoadCLI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultCLI()
	}
}

// apiClient builds a client from --server, the selected profile and its token.
func apiClient(cmd *cobra.Command) *client.Client {
	profile, _ := cmd.Flags().GetString("profile")
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = cfg.GetServerURL(profile)
	}
	return client.New(server, cfg.GetAccessToken(profile))
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}
