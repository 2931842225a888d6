package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/pkg/output"
)

var untrackedCmd = &cobra.Command{
	Use:   "untracked",
	Short: "Inspect transfers no payment could absorb",
}

var untrackedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List untracked payments",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		result, err := apiClient(cmd).ListUntracked(status, page, limit)
		if err != nil {
			return fmt.Errorf("failed to list untracked payments: %w", err)
		}

		return output.Render(outputFormat(cmd), result, func() {
			if len(result.Items) == 0 {
				output.Info("No untracked payments")
				return
			}
			table := output.NewTable([]string{"ID", "Memo", "Amount", "Sender", "Tx", "Reason", "Status", "Observed"})
			for _, p := range result.Items {
				amount := "-"
				if p.Amount.Valid {
					amount = p.Amount.Decimal.String()
				}
				table.AddRow([]string{
					strconv.FormatInt(p.ID, 10),
					p.Memo,
					amount,
					shorten(p.Sender, 16),
					shorten(p.TxHash, 16),
					p.Reason,
					output.Status(p.ReviewStatus),
					p.ObservedAt.Format("2006-01-02 15:04"),
				})
			}
			table.Render()
			output.Info("\nPage %d, %d of %d items", result.Pagination.Page, len(result.Items), result.Pagination.Total)
		})
	},
}

var untrackedResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Close an untracked payment after handling it off-line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid untracked payment id %q", args[0])
		}
		note, _ := cmd.Flags().GetString("note")

		p, err := apiClient(cmd).ResolveUntracked(id, note)
		if err != nil {
			return fmt.Errorf("failed to resolve untracked payment: %w", err)
		}

		return output.Render(outputFormat(cmd), p, func() {
			output.Success("Untracked payment %d %s", p.ID, p.ReviewStatus)
		})
	},
}

func init() {
	rootCmd.AddCommand(untrackedCmd)
	untrackedCmd.AddCommand(untrackedListCmd)
	untrackedCmd.AddCommand(untrackedResolveCmd)

	addListFlags(untrackedListCmd)
	untrackedResolveCmd.Flags().String("note", "", "how the transfer was handled")
}
