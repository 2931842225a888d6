package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/pkg/output"
	"github.com/i3lani/paywatch/payments/engine"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	Long: `Sign a token with the service's auth.jwt_secret. Run it where the
service config is available, then hand the token to 'paywatch login'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		roles, _ := cmd.Flags().GetStringSlice("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		save, _ := cmd.Flags().GetBool("save")

		svcCfg, err := loadServiceConfig(cmd, false)
		if err != nil {
			return err
		}
		token, err := engine.IssueToken(svcCfg.Auth, subject, roles, ttl)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		if save {
			profile, _ := cmd.Flags().GetString("profile")
			if profile == "" {
				profile = "default"
			}
			server, _ := cmd.Flags().GetString("server")
			if server == "" {
				server = fmt.Sprintf("http://localhost:%d", svcCfg.Server.Port)
			}
			if err := cfg.SaveProfile(profile, server, token); err != nil {
				output.Warn("Failed to save token: %v", err)
			} else {
				output.Info("Token saved to profile '%s'", profile)
			}
		}

		if ttl <= 0 {
			ttl = svcCfg.Auth.TokenTTL
		}
		result := map[string]any{"token": token, "subject": subject, "roles": roles, "expires_at": time.Now().Add(ttl)}
		return output.Render(outputFormat(cmd), result, func() {
			output.Success("Token issued for %s", subject)
			output.Info("Roles: %v", roles)
			output.Info("Expires: %s", time.Now().Add(ttl).Format(time.RFC3339))
			fmt.Fprintln(output.Out, token)
		})
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringP("config", "c", "", "service config file")
	tokenCmd.Flags().StringP("subject", "s", "", "operator name recorded on admin actions")
	tokenCmd.Flags().StringSlice("role", []string{engine.RoleAdmin}, "roles to grant")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")
	tokenCmd.Flags().Bool("save", false, "save the token to the selected profile")
	if err := tokenCmd.MarkFlagRequired("subject"); err != nil {
		panic(fmt.Sprintf("failed to mark subject as required: %v", err))
	}
}
