package cmd

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/i3lani/paywatch/cli/pkg/output"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save a service URL and admin token",
	Long: `Store the payments service URL and an admin token under a profile.
Issue the token with 'paywatch token' on a host that holds the service config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		profile, _ := cmd.Flags().GetString("profile")
		if profile == "" {
			profile = "default"
		}
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = cfg.GetServerURL(profile)
		}

		if _, err := parseClaims(token); err != nil {
			return err
		}
		if err := cfg.SaveProfile(profile, server, token); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		output.Success("Logged in to %s", server)
		output.Info("Profile '%s' saved to %s", profile, cfg.Path())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove a stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		if profile == "" {
			profile = cfg.CurrentProfile
		}
		if err := cfg.RemoveProfile(profile); err != nil {
			return err
		}

		output.Success("Logged out from profile '%s'", profile)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity behind the stored token",
	Long:  "Decode the profile's token locally. The signature is checked by the service, not here.",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, _ := cmd.Flags().GetString("profile")
		p, err := cfg.GetProfile(profile)
		if err != nil {
			return fmt.Errorf("not logged in: %w", err)
		}
		claims, err := parseClaims(p.AccessToken)
		if err != nil {
			return err
		}

		return output.Render(outputFormat(cmd), claims, func() {
			output.Info("Server: %s", p.ServerURL)
			output.Info("Subject: %s", claims.Subject)
			output.Info("Roles: %v", claims.Roles)
			if claims.ExpiresAt != nil {
				exp := claims.ExpiresAt.Time
				if time.Now().After(exp) {
					output.Warn("Token expired at %s", exp.Format(time.RFC3339))
				} else {
					output.Info("Expires: %s", exp.Format(time.RFC3339))
				}
			}
		})
	},
}

// tokenClaims mirrors the service's admin token claims.
type tokenClaims struct {
	Roles                []string `json:"roles" yaml:"roles"`
	jwt.RegisteredClaims `yaml:",inline"`
}

func parseClaims(token string) (*tokenClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	return claims, nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().StringP("token", "t", "", "admin token")
	if err := loginCmd.MarkFlagRequired("token"); err != nil {
		panic(fmt.Sprintf("failed to mark token as required: %v", err))
	}
}
