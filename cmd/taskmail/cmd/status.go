package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/averdugo/taskmail/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and retained failures",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	state, err := s.SyncStatus()
	if err != nil {
		return fmt.Errorf("load sync status: %w", err)
	}
	cursor, err := s.LoadCursor()
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	count, err := s.CountDeadLetters()
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}

	fmt.Printf("Mailbox:       %s\n", cfg.OAuth.Account)
	fmt.Printf("Status:        %s\n", orDash(state.Status))
	fmt.Printf("Cursor:        %s\n", orDash(cursor))
	if !state.UpdatedAt.IsZero() {
		fmt.Printf("Last updated:  %s\n", state.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if state.LastError != "" {
		fmt.Printf("Last error:    %s\n", state.LastError)
	}
	fmt.Printf("Dead letters:  %d\n", count)

	if count == 0 {
		return nil
	}

	letters, err := s.ListDeadLetters(1<<30, 20)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	fmt.Println()
	for _, d := range letters {
		fmt.Printf("  %s (thread %s, %d attempts): %s\n", d.MessageID, d.ThreadID, d.Attempts, d.Reason)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
