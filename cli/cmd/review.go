package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/pkg/output"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the manual review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		result, err := apiClient(cmd).ListReview(status, page, limit)
		if err != nil {
			return fmt.Errorf("failed to list review items: %w", err)
		}

		return output.Render(outputFormat(cmd), result, func() {
			if len(result.Items) == 0 {
				output.Info("Review queue is empty")
				return
			}
			table := output.NewTable([]string{"ID", "Kind", "Memo", "Owner", "Expected", "Received", "Status", "Created"})
			for _, item := range result.Items {
				received := "-"
				if item.Amount.Valid {
					received = item.Amount.Decimal.String()
				}
				table.AddRow([]string{
					strconv.FormatInt(item.ID, 10),
					item.Kind,
					item.Memo,
					item.OwnerID,
					item.Expected.String(),
					received,
					output.Status(item.Status),
					item.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			table.Render()
			output.Info("\nPage %d, %d of %d items", result.Pagination.Page, len(result.Items), result.Pagination.Total)
		})
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Approve or reject a review item",
	Long: `Approving confirms the payment with the reviewed transfer and notifies
the owner. Rejecting only closes the item; the payment stays as it is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid review id %q", args[0])
		}
		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		note, _ := cmd.Flags().GetString("note")

		var resolution string
		switch {
		case approve && !reject:
			resolution = "approve"
		case reject && !approve:
			resolution = "reject"
		default:
			return fmt.Errorf("pass exactly one of --approve or --reject")
		}

		item, err := apiClient(cmd).ResolveReview(id, resolution, note)
		if err != nil {
			return fmt.Errorf("failed to resolve review item: %w", err)
		}

		return output.Render(outputFormat(cmd), item, func() {
			output.Success("Review item %d %s", item.ID, item.Status)
		})
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewResolveCmd)

	addListFlags(reviewListCmd)
	reviewResolveCmd.Flags().Bool("approve", false, "confirm the payment")
	reviewResolveCmd.Flags().Bool("reject", false, "close the item without confirming")
	reviewResolveCmd.Flags().String("note", "", "note recorded with the decision")
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().String("status", "", "pending_review (default), resolved, approved, rejected or all")
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("limit", 50, "items per page")
}
