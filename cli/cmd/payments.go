package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/internal/client"
	"github.com/i3lani/paywatch/cli/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status <memo>",
	Short: "Show a payment's record and request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient(cmd).GetStatus(args[0])
		if err != nil {
			return fmt.Errorf("failed to get payment: %w", err)
		}

		return output.Render(outputFormat(cmd), status, func() {
			rec := status.Record
			output.Info("Memo:     %s", rec.Memo)
			output.Info("Owner:    %s", rec.OwnerID)
			output.Info("Expected: %s %s", rec.ExpectedAmount, rec.Currency)
			fmt.Fprintf(output.Out, "Status:   %s\n", output.Status(rec.Status))
			output.Info("Expires:  %s", rec.ExpiresAt.Format(time.RFC3339))
			if rec.ConfirmedTxHash != nil {
				output.Info("Tx:       %s", *rec.ConfirmedTxHash)
			}
			if req := status.Request; req != nil {
				output.Info("")
				output.Info("Request:  %s (%s)", req.ID, req.Method)
				fmt.Fprintf(output.Out, "State:    %s\n", output.Status(req.Status))
				output.Info("Retries:  %d/%d", req.RetryCount, req.MaxRetries)
			}
		})
	},
}

var refundCmd = &cobra.Command{
	Use:   "refund <memo>",
	Short: "Mark a confirmed payment refunded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")
		rec, err := apiClient(cmd).Refund(args[0], note)
		if err != nil {
			return fmt.Errorf("failed to refund payment: %w", err)
		}

		return output.Render(outputFormat(cmd), rec, func() {
			output.Success("Payment %s is %s", rec.Memo, rec.Status)
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <memo>",
	Short: "Show a payment's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient(cmd).AuditTrail(args[0])
		if err != nil {
			return fmt.Errorf("failed to get audit trail: %w", err)
		}
		return renderAudit(cmd, entries)
	},
}

var auditSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search audit entries by memo, transaction hash or detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")
		entries, err := apiClient(cmd).SearchAudit(args[0], size)
		if err != nil {
			return fmt.Errorf("failed to search audit log: %w", err)
		}
		return renderAudit(cmd, entries)
	},
}

func renderAudit(cmd *cobra.Command, entries []*client.AuditEntry) error {
	return output.Render(outputFormat(cmd), entries, func() {
		if len(entries) == 0 {
			output.Info("No audit entries")
			return
		}
		table := output.NewTable([]string{"Time", "Memo", "Action", "Watcher", "Tx", "Detail"})
		for _, e := range entries {
			table.AddRow([]string{
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Memo,
				e.Action,
				e.Watcher,
				shorten(e.TxHash, 16),
				e.Detail,
			})
		}
		table.Render()
	})
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refundCmd)
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditSearchCmd)

	refundCmd.Flags().String("note", "", "reason recorded in the audit log")
	auditSearchCmd.Flags().Int("size", 20, "maximum number of hits")
}
