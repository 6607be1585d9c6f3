package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/averdugo/taskmail/internal/clickup"
	"github.com/averdugo/taskmail/internal/gmail"
	"github.com/averdugo/taskmail/internal/mailtext"
	"github.com/averdugo/taskmail/internal/store"
)

// replayLimit bounds how many dead letters one tick retries.
const replayLimit = 25

// ErrCursorExpired signals that the stored cursor fell out of Gmail's
// history retention window and processing must resume from the current
// mailbox position.
var ErrCursorExpired = errors.New("history cursor expired")

// EngineConfig holds rendering and retry settings for the engine.
type EngineConfig struct {
	Location             *time.Location
	Locale               mailtext.Locale
	MaxDeadLetterRetries int
}

// Engine drives one synchronization pass: read mailbox changes since the
// cursor, correlate each new message to a task, post its rendered content
// as a comment, then advance the cursor.
type Engine struct {
	gmail      gmail.API
	tasks      clickup.API
	store      *store.Store
	cursor     *CursorStore
	correlator *Correlator
	logger     *slog.Logger

	loc                  *time.Location
	locale               mailtext.Locale
	maxDeadLetterRetries int
}

// NewEngine creates an engine.
func NewEngine(g gmail.API, tasks clickup.API, st *store.Store, cursor *CursorStore, correlator *Correlator, cfg EngineConfig) *Engine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	maxRetries := cfg.MaxDeadLetterRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &Engine{
		gmail:                g,
		tasks:                tasks,
		store:                st,
		cursor:               cursor,
		correlator:           correlator,
		logger:               slog.Default(),
		loc:                  loc,
		locale:               cfg.Locale,
		maxDeadLetterRetries: maxRetries,
	}
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// TickSummary reports what one tick did.
type TickSummary struct {
	Bootstrapped bool
	Reset        bool
	Events       int
	Comments     int
	Failures     int
	Replayed     int
	Cursor       uint64
	Duration     time.Duration
}

// Tick performs one synchronization pass. Per-message failures are
// recorded as dead letters and do not abort the pass; transport failures
// abort it with the cursor unchanged, so the next tick retries the same
// range (at-least-once at tick granularity).
func (e *Engine) Tick(ctx context.Context) (*TickSummary, error) {
	start := time.Now()
	summary := &TickSummary{}

	bootstrapped, err := e.cursor.Initialize(ctx)
	if err != nil {
		e.setStatus("error", err.Error())
		return nil, err
	}
	if bootstrapped {
		// Changes before the bootstrap point are unknowable; start
		// processing from the next tick.
		summary.Bootstrapped = true
		summary.Cursor = e.cursor.Get()
		summary.Duration = time.Since(start)
		e.setStatus("idle", "")
		return summary, nil
	}

	// Replay earlier failures first so letters recorded below wait for
	// the next tick instead of being retried immediately.
	summary.Replayed = e.replayDeadLetters(ctx)

	startCursor := e.cursor.Get()
	events, batchCursor, err := e.collectChanges(ctx, startCursor)
	if err != nil {
		if errors.Is(err, ErrCursorExpired) {
			if resetErr := e.cursor.Reset(ctx, "history expired"); resetErr != nil {
				e.setStatus("error", resetErr.Error())
				return nil, resetErr
			}
			summary.Reset = true
			summary.Cursor = e.cursor.Get()
			summary.Duration = time.Since(start)
			e.setStatus("idle", "")
			return summary, nil
		}
		e.setStatus("error", err.Error())
		return nil, fmt.Errorf("list history: %w", err)
	}

	summary.Events = len(events)
	for _, ev := range events {
		if err := e.processMessage(ctx, ev.ID, ev.ThreadID); err != nil {
			summary.Failures++
			e.logger.Warn("message processing failed", "id", ev.ID, "thread", ev.ThreadID, "error", err)
			if dlErr := e.store.RecordFailure(ev.ID, ev.ThreadID, err.Error()); dlErr != nil {
				e.logger.Error("failed to record dead letter", "id", ev.ID, "error", dlErr)
			}
			continue
		}
		summary.Comments++
	}

	// One advance per batch, after every event was attempted
	if err := e.cursor.Advance(batchCursor); err != nil {
		e.setStatus("error", err.Error())
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	summary.Cursor = e.cursor.Get()
	summary.Duration = time.Since(start)

	e.setStatus("idle", "")

	if summary.Events > 0 || summary.Replayed > 0 {
		e.logger.Info("tick complete",
			"events", summary.Events,
			"comments", summary.Comments,
			"failures", summary.Failures,
			"replayed", summary.Replayed,
			"cursor", summary.Cursor,
			"duration", summary.Duration)
	}
	return summary, nil
}

// collectChanges pages through history and returns the new message refs
// in mailbox order, deduplicated, plus the batch's end cursor.
func (e *Engine) collectChanges(ctx context.Context, startCursor uint64) ([]gmail.MessageID, uint64, error) {
	var (
		events    []gmail.MessageID
		seen      = make(map[string]bool)
		endCursor uint64
		pageToken string
	)

	for {
		resp, err := e.gmail.ListHistory(ctx, startCursor, pageToken)
		if err != nil {
			var notFound *gmail.NotFoundError
			if errors.As(err, &notFound) {
				return nil, 0, ErrCursorExpired
			}
			return nil, 0, err
		}
		if resp.HistoryID > endCursor {
			endCursor = resp.HistoryID
		}

		for _, record := range resp.History {
			for _, added := range record.MessagesAdded {
				if seen[added.Message.ID] {
					continue
				}
				seen[added.Message.ID] = true
				events = append(events, added.Message)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return events, endCursor, nil
		}
	}
}

// processMessage fetches, correlates, and posts one message.
func (e *Engine) processMessage(ctx context.Context, messageID, threadID string) error {
	msg, err := e.gmail.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("fetch message: %w", err)
	}
	if msg.ThreadID != "" {
		threadID = msg.ThreadID
	}

	result, err := e.correlator.Resolve(ctx, threadID, msg.Header("Subject"), msg.Snippet)
	if err != nil {
		return fmt.Errorf("correlate: %w", err)
	}
	if result.Outcome == OutcomeNotFound {
		return fmt.Errorf("no task for thread %s", threadID)
	}

	text := mailtext.RenderMessage(msg, e.loc, e.locale)
	if _, err := e.tasks.AddComment(ctx, result.TaskID, text); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}

	e.logger.Info("comment posted", "task", result.TaskID, "thread", threadID, "outcome", result.Outcome.String())
	return nil
}

// replayDeadLetters retries messages that failed on earlier ticks.
// Successes are resolved; failures bump the attempt count until the
// letter is exhausted and left for operator inspection.
func (e *Engine) replayDeadLetters(ctx context.Context) int {
	letters, err := e.store.ListDeadLetters(e.maxDeadLetterRetries, replayLimit)
	if err != nil {
		e.logger.Warn("failed to list dead letters", "error", err)
		return 0
	}

	replayed := 0
	for _, d := range letters {
		if err := e.processMessage(ctx, d.MessageID, d.ThreadID); err != nil {
			e.logger.Debug("dead letter replay failed", "id", d.MessageID, "attempts", d.Attempts, "error", err)
			if rfErr := e.store.RecordFailure(d.MessageID, d.ThreadID, err.Error()); rfErr != nil {
				e.logger.Error("failed to update dead letter", "id", d.MessageID, "error", rfErr)
			}
			continue
		}
		if err := e.store.ResolveDeadLetter(d.MessageID); err != nil {
			e.logger.Warn("failed to resolve dead letter", "id", d.MessageID, "error", err)
		}
		replayed++
	}
	return replayed
}

// setStatus persists the engine state for the status endpoint. Failures
// are logged only; status is advisory.
func (e *Engine) setStatus(status, lastError string) {
	if err := e.store.SetSyncStatus(status, lastError); err != nil {
		e.logger.Warn("failed to persist sync status", "error", err)
	}
}
