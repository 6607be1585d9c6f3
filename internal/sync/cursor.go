// Package sync implements the Gmail to ClickUp synchronization engine.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/averdugo/taskmail/internal/gmail"
	"github.com/averdugo/taskmail/internal/store"
)

// CursorStore holds the engine's synchronization position, the Gmail
// historyId everything up to which has been processed. The value is
// durable so process restarts resume instead of re-bootstrapping.
type CursorStore struct {
	store  *store.Store
	gmail  gmail.AccountReader
	seed   string // optional warm-start historyId from configuration
	logger *slog.Logger

	mu     sync.Mutex
	cursor uint64
	loaded bool
	writes int64
}

// NewCursorStore creates a cursor store. seed may be empty; when set it is
// used the first time the process starts with no persisted cursor.
func NewCursorStore(st *store.Store, reader gmail.AccountReader, seed string) *CursorStore {
	return &CursorStore{
		store:  st,
		gmail:  reader,
		seed:   seed,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (c *CursorStore) WithLogger(logger *slog.Logger) *CursorStore {
	c.logger = logger
	return c
}

// Initialize loads the cursor. Returns true when the cursor had to be
// bootstrapped from the mailbox's current position, in which case the
// caller should skip processing for this tick: changes before the
// bootstrap point are unknowable.
func (c *CursorStore) Initialize(ctx context.Context) (bootstrapped bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return false, nil
	}

	persisted, err := c.store.LoadCursor()
	if err != nil {
		return false, err
	}

	if persisted != "" {
		cursor, err := strconv.ParseUint(persisted, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid persisted cursor %q: %w", persisted, err)
		}
		c.cursor = cursor
		c.loaded = true
		return false, nil
	}

	if c.seed != "" {
		cursor, err := strconv.ParseUint(c.seed, 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid cursor seed %q: %w", c.seed, err)
		}
		if err := c.persist(cursor); err != nil {
			return false, err
		}
		c.loaded = true
		c.logger.Info("cursor seeded from configuration", "cursor", cursor)
		return false, nil
	}

	profile, err := c.gmail.GetProfile(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap cursor: %w", err)
	}
	if err := c.persist(profile.HistoryID); err != nil {
		return false, err
	}
	c.loaded = true
	c.logger.Info("cursor bootstrapped from mailbox", "cursor", profile.HistoryID)
	return true, nil
}

// Get returns the current cursor. Initialize must have succeeded first.
func (c *CursorStore) Get() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Advance moves the cursor forward. Advancing to the current value is a
// no-op and performs no store write.
func (c *CursorStore) Advance(cursor uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cursor == 0 || cursor == c.cursor {
		return nil
	}
	return c.persist(cursor)
}

// Reset re-reads the mailbox's current position after the old cursor was
// invalidated. Changes between the old and new position are skipped; that
// is the cost of an expired cursor, not a bug.
func (c *CursorStore) Reset(ctx context.Context, reason string) error {
	profile, err := c.gmail.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.cursor
	if err := c.persist(profile.HistoryID); err != nil {
		return err
	}
	c.loaded = true
	c.logger.Warn("cursor reset", "reason", reason, "old", old, "new", profile.HistoryID)
	return nil
}

// Writes returns the number of store writes performed. Tests use it to
// verify that no-op advances stay no-ops.
func (c *CursorStore) Writes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// persist saves the cursor. Must be called with the lock held.
func (c *CursorStore) persist(cursor uint64) error {
	if err := c.store.SaveCursor(strconv.FormatUint(cursor, 10)); err != nil {
		return err
	}
	c.cursor = cursor
	c.writes++
	return nil
}
