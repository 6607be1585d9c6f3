package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/averdugo/taskmail/internal/clickup"
	"github.com/averdugo/taskmail/internal/gmail"
	"github.com/averdugo/taskmail/internal/oauth"
	"github.com/averdugo/taskmail/internal/store"
	"github.com/averdugo/taskmail/internal/sync"
)

var syncInit bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	Long: `Run a single synchronization pass: read mailbox changes since the
stored cursor, post each new message as a comment on its task, then
advance the cursor.

On first run there is no cursor yet, so the pass only records the
mailbox's current position; changes are picked up from the next run.
Use --init to record the position without processing anything.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncInit, "init", false, "record the mailbox position and exit without processing")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}

	ctx := cmd.Context()
	tokenSource, err := getTokenSource(ctx, oauthMgr, cfg.OAuth.Account)
	if err != nil {
		return err
	}

	mailClient := gmail.NewClient(tokenSource,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Sync.RateLimitQPS))),
	)
	defer mailClient.Close()

	taskClient := clickup.NewClient(cfg.ClickUp.AccessToken, clickup.WithLogger(logger))

	cursor := sync.NewCursorStore(s, mailClient, cfg.Sync.CursorSeed).WithLogger(logger)

	if syncInit {
		bootstrapped, err := cursor.Initialize(ctx)
		if err != nil {
			return err
		}
		if bootstrapped {
			fmt.Printf("Mailbox position recorded (cursor %d).\n", cursor.Get())
		} else {
			fmt.Printf("Cursor already present (%d); nothing to do.\n", cursor.Get())
		}
		return nil
	}

	correlator := sync.NewCorrelator(taskClient, sync.CorrelatorConfig{
		SpaceID:       cfg.ClickUp.SpaceID,
		ThreadFieldID: cfg.ClickUp.ThreadFieldID,
		DefaultListID: cfg.ClickUp.DefaultListID,
		TaskStatus:    cfg.ClickUp.TaskStatus,
		AutoCreate:    cfg.Sync.AutoCreateTasks,
		RecencyWindow: cfg.RecencyWindow(),
	}).WithLogger(logger)

	engine := sync.NewEngine(mailClient, taskClient, s, cursor, correlator, sync.EngineConfig{
		Location:             cfg.RenderLocation(),
		Locale:               renderLocale(),
		MaxDeadLetterRetries: cfg.Sync.MaxDeadLetterRetries,
	}).WithLogger(logger)

	summary, err := engine.Tick(ctx)
	if err != nil {
		return err
	}

	if summary.Bootstrapped {
		fmt.Printf("Mailbox position recorded (cursor %d). New messages will be picked up from the next run.\n", summary.Cursor)
		return nil
	}
	if summary.Reset {
		fmt.Printf("History window expired; cursor reset to %d. New messages will be picked up from the next run.\n", summary.Cursor)
		return nil
	}

	fmt.Printf("Sync complete in %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Printf("  New messages:  %d\n", summary.Events)
	fmt.Printf("  Comments:      %d\n", summary.Comments)
	fmt.Printf("  Failures:      %d\n", summary.Failures)
	if summary.Replayed > 0 {
		fmt.Printf("  Replayed:      %d\n", summary.Replayed)
	}
	fmt.Printf("  Cursor:        %d\n", summary.Cursor)
	return nil
}
