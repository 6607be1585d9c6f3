package sync

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/averdugo/taskmail/internal/clickup"
	"github.com/averdugo/taskmail/internal/mailtext"
)

// snippetPreviewRunes bounds the snippet embedded in an auto-created
// task description.
const snippetPreviewRunes = 300

// Outcome describes how a message was correlated to a task.
type Outcome int

const (
	// OutcomeNotFound means no task matched and none was created.
	OutcomeNotFound Outcome = iota
	// OutcomeFoundByField means the thread id custom field matched directly.
	OutcomeFoundByField
	// OutcomeFoundBySubject means the recency heuristic matched a task name.
	OutcomeFoundBySubject
	// OutcomeCreated means a new task was auto-created for the thread.
	OutcomeCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFoundByField:
		return "found-by-field"
	case OutcomeFoundBySubject:
		return "found-by-subject"
	case OutcomeCreated:
		return "created"
	default:
		return "not-found"
	}
}

// Result is the outcome of resolving one message.
type Result struct {
	Outcome Outcome
	TaskID  string
	// LinkedNow is set when the subject heuristic matched and the thread
	// id was successfully written back to the task.
	LinkedNow bool
}

// CorrelatorConfig holds the identifiers the correlation scan needs.
type CorrelatorConfig struct {
	SpaceID       string
	ThreadFieldID string
	DefaultListID string
	TaskStatus    string
	AutoCreate    bool
	RecencyWindow time.Duration
}

// Correlator maps a Gmail thread to a ClickUp task. Stateless: every
// resolution rescans the space, so a caching index can be slotted behind
// the clickup.API interface later without changing call sites.
type Correlator struct {
	tasks  clickup.API
	cfg    CorrelatorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCorrelator creates a correlator.
func NewCorrelator(tasks clickup.API, cfg CorrelatorConfig) *Correlator {
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 120 * time.Minute
	}
	return &Correlator{
		tasks:  tasks,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger sets the logger.
func (c *Correlator) WithLogger(logger *slog.Logger) *Correlator {
	c.logger = logger
	return c
}

// WithClock overrides the time source for recency-window tests.
func (c *Correlator) WithClock(now func() time.Time) *Correlator {
	c.now = now
	return c
}

var subjectPrefixRe = regexp.MustCompile(`^\s*(?i:re|rv|fw|fwd)\s*:\s*`)

// NormalizeSubject strips reply and forward prefixes ("Re:", "Fwd:",
// "Rv:", stacked in any combination) and trims whitespace.
func NormalizeSubject(s string) string {
	for {
		stripped := subjectPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.TrimSpace(s)
}

// Resolve correlates a message to a task. The ladder: direct custom-field
// lookup over every list in the space; then a name match against tasks
// created within the recency window (with thread id write-back); then
// optional auto-creation. A direct field match anywhere always beats a
// subject match, so the scan completes before the heuristic concludes.
func (c *Correlator) Resolve(ctx context.Context, threadID, subject, snippet string) (Result, error) {
	normalized := NormalizeSubject(subject)
	cutoff := c.now().Add(-c.cfg.RecencyWindow)

	lists, err := c.tasks.ListLists(ctx, c.cfg.SpaceID)
	if err != nil {
		return Result{}, fmt.Errorf("list lists: %w", err)
	}

	var subjectMatch string
	for _, list := range lists {
		for page := 0; ; page++ {
			tasks, err := c.tasks.ListTasks(ctx, list.ID, page)
			if err != nil {
				return Result{}, fmt.Errorf("list tasks in %s: %w", list.ID, err)
			}
			if len(tasks) == 0 {
				break
			}

			for i := range tasks {
				t := &tasks[i]
				if t.CustomFieldString(c.cfg.ThreadFieldID) == threadID {
					return Result{Outcome: OutcomeFoundByField, TaskID: t.ID}, nil
				}

				if subjectMatch != "" || normalized == "" {
					continue
				}
				if t.DateCreated <= 0 || time.UnixMilli(t.DateCreated).Before(cutoff) {
					continue
				}
				if NormalizeSubject(t.Name) == normalized {
					subjectMatch = t.ID
				}
			}
		}
	}

	if subjectMatch != "" {
		// Best-effort write-back: promotes future lookups to the direct
		// path. Failure must not block comment posting.
		linked := true
		if err := c.tasks.SetCustomField(ctx, subjectMatch, c.cfg.ThreadFieldID, threadID); err != nil {
			c.logger.Warn("thread field write-back failed", "task", subjectMatch, "thread", threadID, "error", err)
			linked = false
		}
		return Result{Outcome: OutcomeFoundBySubject, TaskID: subjectMatch, LinkedNow: linked}, nil
	}

	if c.cfg.AutoCreate && c.cfg.DefaultListID != "" {
		task, err := c.createTask(ctx, threadID, subject, snippet)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCreated, TaskID: task.ID}, nil
	}

	return Result{Outcome: OutcomeNotFound}, nil
}

// ThreadWebURL returns the Gmail deep link for a thread.
func ThreadWebURL(threadID string) string {
	return "https://mail.google.com/mail/u/0/#inbox/" + threadID
}

// createTask creates a task for an uncorrelated thread. The thread field
// is pre-populated so the next message resolves directly.
func (c *Correlator) createTask(ctx context.Context, threadID, subject, snippet string) (*clickup.Task, error) {
	name := subject
	if name == "" {
		name = "(Sin asunto)"
	}
	if snippet == "" {
		snippet = "(sin contenido)"
	}
	snippet = mailtext.TruncateRunes(snippet, snippetPreviewRunes)

	description := strings.Join([]string{
		"**Origen:** Gmail",
		fmt.Sprintf("**Hilo (threadId):** `%s`", threadID),
		fmt.Sprintf("[Abrir en Gmail](%s)", ThreadWebURL(threadID)),
		"",
		"**Último mensaje (snippet):**",
		snippet,
	}, "\n")

	task, err := c.tasks.CreateTask(ctx, c.cfg.DefaultListID, clickup.CreateTaskRequest{
		Name:        name,
		Description: description,
		Status:      c.cfg.TaskStatus,
		CustomFields: []clickup.CustomFieldValue{
			{ID: c.cfg.ThreadFieldID, Value: threadID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	c.logger.Info("task auto-created", "task", task.ID, "thread", threadID)
	return task, nil
}
