package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/internal/client"
	"github.com/i3lani/paywatch/cli/pkg/output"
	"github.com/i3lani/paywatch/common/config"
	natsclient "github.com/i3lani/paywatch/common/messaging/nats"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a reconciliation pass now",
	Long: `Force one reconciliation scanner pass and print its report. By default
the request goes to the admin API; with --nats it goes over the message bus
to whichever engine instance picks it up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		var (
			report *client.TickReport
			err    error
		)
		if natsURL != "" {
			report, err = reconcileOverBus(cmd, natsURL, timeout)
		} else {
			report, err = apiClient(cmd).Reconcile()
		}
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}

		return output.Render(outputFormat(cmd), report, func() {
			output.Success("Pass finished in %s", report.Duration)
			table := output.NewTable([]string{"Fetched", "Candidates", "Confirmed", "Already", "Rejected", "Review", "Fraud", "Untracked", "Expired", "Skipped"})
			table.AddRow([]string{
				fmt.Sprint(report.Fetched),
				fmt.Sprint(report.Candidates),
				fmt.Sprint(report.Confirmed),
				fmt.Sprint(report.AlreadyConfirmed),
				fmt.Sprint(report.Rejected),
				fmt.Sprint(report.ManualReview),
				fmt.Sprint(report.FraudBlocked),
				fmt.Sprint(report.Untracked),
				fmt.Sprint(report.Expired),
				fmt.Sprint(report.Skipped),
			})
			table.Render()
			if report.FetchError != "" {
				output.Warn("Ledger fetch failed: %s", report.FetchError)
			}
			for _, e := range report.Errors {
				output.Error("%s", e)
			}
		})
	},
}

func reconcileOverBus(cmd *cobra.Command, url string, timeout time.Duration) (*client.TickReport, error) {
	bus, err := natsclient.NewClient(natsclient.FromConfig(config.NATSConfig{URL: url}, "cli"))
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	data, err := bus.TriggerReconcile(background(cmd), timeout)
	if err != nil {
		return nil, err
	}
	var report client.TickReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("malformed report: %w", err)
	}
	return &report, nil
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().String("nats", "", "NATS URL; trigger over the bus instead of the API")
	reconcileCmd.Flags().Duration("timeout", 2*time.Minute, "how long to wait for the report over NATS")
}
