package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/averdugo/taskmail/internal/api"
	"github.com/averdugo/taskmail/internal/clickup"
	"github.com/averdugo/taskmail/internal/gmail"
	"github.com/averdugo/taskmail/internal/oauth"
	"github.com/averdugo/taskmail/internal/scheduler"
	"github.com/averdugo/taskmail/internal/store"
	"github.com/averdugo/taskmail/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run taskmail as a daemon with scheduled sync",
	Long: `Run taskmail as a long-running daemon that polls the mailbox on
schedule and posts new messages to their ClickUp tasks.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled incremental mailbox polls (default: every minute)
  - Dead-letter replay for messages that failed on earlier passes

Configure the schedule in config.toml:
  [sync]
  schedule = "*/1 * * * *"   # cron format: minute hour dom month dow

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

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

	sched, err := scheduler.New(cfg.Sync.Schedule, func(ctx context.Context) error {
		_, err := engine.Tick(ctx)
		return err
	})
	if err != nil {
		return err
	}
	sched = sched.WithLogger(logger)

	apiServer := api.NewServer(cfg, s, sched, mailClient, taskClient, logger)

	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}

		schedCtx := sched.Stop()
		select {
		case <-schedCtx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("scheduler shutdown timed out")
		}
		return nil
	})

	fmt.Printf("taskmail daemon started\n")
	fmt.Printf("  Mailbox:     %s\n", cfg.OAuth.Account)
	fmt.Printf("  API server:  http://127.0.0.1:%d\n", cfg.Server.APIPort)
	fmt.Printf("  Schedule:    %s\n", cfg.Sync.Schedule)
	fmt.Printf("  Data dir:    %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	err = g.Wait()
	fmt.Println("Shutdown complete.")
	return err
}
