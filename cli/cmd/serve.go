package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/common/config"
	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the payments service",
	Long: `Run the HTTP API, the active monitors and the reconciliation scanner
in one process until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcCfg, err := loadServiceConfig(cmd, true)
		if err != nil {
			return err
		}
		if memory, _ := cmd.Flags().GetBool("memory"); memory {
			svcCfg.Database.Type = "memory"
		}

		logger := logging.New(logging.ParseLevel(svcCfg.Logging.Level), svcCfg.Logging.Format).
			With("service", "payments")
		logging.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := engine.Build(ctx, svcCfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		return eng.Run(ctx)
	},
}

// loadServiceConfig reads the engine configuration named by --config.
func loadServiceConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	svcCfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := svcCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return svcCfg, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "service config file (default: ./config.yaml or /etc/paywatch/config.yaml)")
	serveCmd.Flags().Bool("memory", false, "use the in-memory store instead of PostgreSQL")
}

// background is the context for commands that do not wait on signals.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
