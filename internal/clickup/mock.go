package clickup

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is a mock implementation of the ClickUp API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Lists per space
	Lists map[string][]List

	// Tasks per list, served in pages of PageSize (default 100)
	Tasks    map[string][]Task
	PageSize int

	// Error injection
	ListListsError  error
	ListTasksError  error
	CreateTaskError error
	SetFieldError   error
	AddCommentError error

	// Call tracking for assertions
	ListListsCalls  int
	ListTasksCalls  int
	CreatedTasks    []CreateTaskRequest
	CreatedTaskList []string // list IDs, parallel to CreatedTasks
	FieldWrites     []FieldWrite
	Comments        map[string][]string // task ID -> comment texts

	nextTaskID int
}

// FieldWrite records one SetCustomField call.
type FieldWrite struct {
	TaskID  string
	FieldID string
	Value   any
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Lists:    make(map[string][]List),
		Tasks:    make(map[string][]Task),
		Comments: make(map[string][]string),
		PageSize: 100,
	}
}

// AddList registers a list in a space.
func (m *MockAPI) AddList(spaceID, listID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lists[spaceID] = append(m.Lists[spaceID], List{ID: listID, Name: name})
}

// AddTask registers a task in a list.
func (m *MockAPI) AddTask(listID string, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tasks[listID] = append(m.Tasks[listID], task)
}

// ListLists returns the mock lists for a space.
func (m *MockAPI) ListLists(ctx context.Context, spaceID string) ([]List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListListsCalls++

	if m.ListListsError != nil {
		return nil, m.ListListsError
	}
	return m.Lists[spaceID], nil
}

// ListTasks returns one page of mock tasks. Every stored task is served
// regardless of status, matching the real client's include_closed request.
func (m *MockAPI) ListTasks(ctx context.Context, listID string, page int) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListTasksCalls++

	if m.ListTasksError != nil {
		return nil, m.ListTasksError
	}

	tasks := m.Tasks[listID]
	size := m.PageSize
	if size <= 0 {
		size = 100
	}

	start := page * size
	if start >= len(tasks) {
		return nil, nil
	}
	end := start + size
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[start:end], nil
}

// CreateTask records the request and returns a synthetic task.
func (m *MockAPI) CreateTask(ctx context.Context, listID string, req CreateTaskRequest) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateTaskError != nil {
		return nil, m.CreateTaskError
	}

	m.nextTaskID++
	task := Task{
		ID:   fmt.Sprintf("task_%d", m.nextTaskID),
		Name: req.Name,
	}
	for _, f := range req.CustomFields {
		task.CustomFields = append(task.CustomFields, CustomField{ID: f.ID, Value: f.Value})
	}

	m.CreatedTasks = append(m.CreatedTasks, req)
	m.CreatedTaskList = append(m.CreatedTaskList, listID)
	m.Tasks[listID] = append(m.Tasks[listID], task)
	return &task, nil
}

// SetCustomField records the field write and applies it to the stored task.
func (m *MockAPI) SetCustomField(ctx context.Context, taskID, fieldID string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetFieldError != nil {
		return m.SetFieldError
	}

	m.FieldWrites = append(m.FieldWrites, FieldWrite{TaskID: taskID, FieldID: fieldID, Value: value})

	for listID, tasks := range m.Tasks {
		for i := range tasks {
			if tasks[i].ID != taskID {
				continue
			}
			for j := range tasks[i].CustomFields {
				if tasks[i].CustomFields[j].ID == fieldID {
					m.Tasks[listID][i].CustomFields[j].Value = value
					return nil
				}
			}
			m.Tasks[listID][i].CustomFields = append(m.Tasks[listID][i].CustomFields,
				CustomField{ID: fieldID, Value: value})
			return nil
		}
	}
	return &NotFoundError{Path: "/task/" + taskID}
}

// AddComment records the comment.
func (m *MockAPI) AddComment(ctx context.Context, taskID, text string) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddCommentError != nil {
		return nil, m.AddCommentError
	}

	m.Comments[taskID] = append(m.Comments[taskID], text)
	return &Comment{ID: fmt.Sprintf("comment_%d", len(m.Comments[taskID]))}, nil
}

// CommentCount returns the number of comments posted on a task.
func (m *MockAPI) CommentCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Comments[taskID])
}

// Reset clears all state and call tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Lists = make(map[string][]List)
	m.Tasks = make(map[string][]Task)
	m.Comments = make(map[string][]string)
	m.ListListsError = nil
	m.ListTasksError = nil
	m.CreateTaskError = nil
	m.SetFieldError = nil
	m.AddCommentError = nil

	m.ListListsCalls = 0
	m.ListTasksCalls = 0
	m.CreatedTasks = nil
	m.CreatedTaskList = nil
	m.FieldWrites = nil
	m.nextTaskID = 0
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
