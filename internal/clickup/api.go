// Package clickup provides a ClickUp API v2 client for task correlation
// and comment posting.
package clickup

import "context"

// TaskReader provides read access to spaces, lists, and tasks.
type TaskReader interface {
	// ListLists returns every list in the space, folderless lists and
	// lists inside folders alike.
	ListLists(ctx context.Context, spaceID string) ([]List, error)

	// ListTasks returns one page of tasks in a list. An empty page
	// means the scan is complete.
	ListTasks(ctx context.Context, listID string, page int) ([]Task, error)
}

// TaskWriter provides write access to tasks.
type TaskWriter interface {
	// CreateTask creates a task in the given list.
	CreateTask(ctx context.Context, listID string, req CreateTaskRequest) (*Task, error)

	// SetCustomField sets a custom field value on a task.
	SetCustomField(ctx context.Context, taskID, fieldID string, value any) error

	// AddComment posts a comment on a task.
	AddComment(ctx context.Context, taskID, text string) (*Comment, error)
}

// API defines the interface for ClickUp operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	TaskReader
	TaskWriter
}

// List is a ClickUp list.
type List struct {
	ID   string
	Name string
}

// CustomField is one custom field entry on a task. Value is nil when the
// field has never been set.
type CustomField struct {
	ID    string
	Value any
}

// Task is a ClickUp task with the fields correlation cares about.
type Task struct {
	ID           string
	Name         string
	URL          string
	DateCreated  int64 // Unix milliseconds
	CustomFields []CustomField
}

// CustomFieldString returns the string value of the named custom field,
// or "" when the field is absent, unset, or not a string.
func (t *Task) CustomFieldString(fieldID string) string {
	for _, f := range t.CustomFields {
		if f.ID == fieldID {
			if s, ok := f.Value.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}

// CustomFieldValue is a field assignment for task creation.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// CreateTaskRequest describes a task to create.
type CreateTaskRequest struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Status       string             `json:"status,omitempty"`
	CustomFields []CustomFieldValue `json:"custom_fields,omitempty"`
}

// Comment is a posted task comment.
type Comment struct {
	ID string
}
