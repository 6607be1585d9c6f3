package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/averdugo/taskmail/internal/oauth"
)

var authHeadless bool

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize the monitored Gmail account",
	Long: `Authorize taskmail to read the configured Gmail account.

Opens a browser for the OAuth consent flow and stores the resulting
token under the data directory. Use --headless on machines without a
browser; you will be given a code to enter on another device.`,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().BoolVar(&authHeadless, "headless", false, "use device code flow instead of opening a browser")
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}
	if cfg.OAuth.Account == "" {
		return fmt.Errorf("no account configured: set oauth.account in config.toml or GMAIL_ACCOUNT")
	}

	oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	if err := oauthMgr.Authorize(cmd.Context(), cfg.OAuth.Account, authHeadless); err != nil {
		return fmt.Errorf("authorize %s: %w", cfg.OAuth.Account, err)
	}

	fmt.Printf("Authorized %s. Token saved to %s\n", cfg.OAuth.Account, oauthMgr.TokenPath(cfg.OAuth.Account))
	return nil
}
