package cmd

import (
	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/pkg/output"
	"github.com/i3lani/paywatch/payments/engine"
	"github.com/i3lani/paywatch/payments/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the payments database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := migrationConn(cmd)
		if err != nil {
			return err
		}
		if err := migrations.Up(conn); err != nil {
			return err
		}
		output.Success("Database is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			output.Warn("This drops every payments table. Re-run with --yes to proceed.")
			return nil
		}
		conn, err := migrationConn(cmd)
		if err != nil {
			return err
		}
		if err := migrations.Down(conn); err != nil {
			return err
		}
		output.Success("All migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := migrationConn(cmd)
		if err != nil {
			return err
		}
		version, dirty, err := migrations.Version(conn)
		if err != nil {
			return err
		}

		result := map[string]any{"version": version, "dirty": dirty}
		return output.Render(outputFormat(cmd), result, func() {
			output.Info("Version: %d", version)
			if dirty {
				output.Warn("Schema is dirty: a migration failed half-way and needs manual repair")
			}
		})
	},
}

func migrationConn(cmd *cobra.Command) (string, error) {
	svcCfg, err := loadServiceConfig(cmd, false)
	if err != nil {
		return "", err
	}
	return engine.PostgresOptions(svcCfg.Database.Postgres).ConnString(), nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateCmd.PersistentFlags().StringP("config", "c", "", "service config file")
	migrateDownCmd.Flags().Bool("yes", false, "confirm dropping every table")
}
