package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/averdugo/taskmail/internal/config"
	"github.com/averdugo/taskmail/internal/mailtext"
	"github.com/averdugo/taskmail/internal/oauth"
	"golang.org/x/oauth2"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "taskmail",
	Short: "Gmail to ClickUp synchronization daemon",
	Long: `taskmail watches a Gmail mailbox and mirrors new messages into ClickUp:
each incoming message is matched to the task tracking its conversation
and posted there as a comment.

Run 'taskmail auth' once to authorize the mailbox, then 'taskmail serve'
to start the daemon.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// renderLocale maps the configured locale string onto a mailtext locale.
func renderLocale() mailtext.Locale {
	if cfg.Render.Locale == string(mailtext.LocaleEN) {
		return mailtext.LocaleEN
	}
	return mailtext.LocaleES
}

// errOAuthNotConfigured returns a helpful error when OAuth client secrets
// are missing.
func errOAuthNotConfigured() error {
	return fmt.Errorf(`OAuth client secrets not configured.

To use taskmail, you need a Google Cloud OAuth credential:
  1. Create a Desktop OAuth client in the Google Cloud console
  2. Download the client_secret.json file
  3. Add to your config.toml:
       [oauth]
       client_secrets = "/path/to/client_secret.json"`)
}

// wrapOAuthError wraps a client-secrets error with setup instructions when
// the root cause is a missing or unreadable secrets file.
func wrapOAuthError(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return errOAuthNotConfigured()
	}
	return err
}

// getTokenSource returns a token source for the monitored account, with a
// hint to run 'taskmail auth' when no token is stored yet.
func getTokenSource(ctx context.Context, oauthMgr *oauth.Manager, email string) (oauth2.TokenSource, error) {
	tokenSource, err := oauthMgr.TokenSource(ctx, email)
	if err == nil {
		return tokenSource, nil
	}
	if !oauthMgr.HasToken(email) {
		return nil, fmt.Errorf("get token source: %w (run 'taskmail auth' first)", err)
	}
	return nil, fmt.Errorf("get token source: %w (token may be expired or revoked, run 'taskmail auth' to re-authorize)", err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.taskmail/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
