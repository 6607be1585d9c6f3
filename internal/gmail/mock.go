package gmail

import (
	"context"
	"sync"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Messages indexed by ID
	Messages map[string]*Message

	// Threads indexed by ID; when a thread is not configured, GetThread
	// assembles one from Messages sharing that ThreadID.
	Threads map[string]*Thread

	// History records
	HistoryRecords []HistoryRecord
	HistoryID      uint64

	// Error injection
	ProfileError    error
	HistoryError    error
	GetMessageError map[string]error // Per-message errors
	GetThreadError  error

	// Call tracking for assertions
	ProfileCalls    int
	HistoryCalls    []uint64
	GetMessageCalls []string
	GetThreadCalls  []string
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*Message),
		Threads:         make(map[string]*Thread),
		GetMessageError: make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Messages)),
			HistoryID:     m.HistoryID,
		}, nil
	}
	return m.Profile, nil
}

// ListHistory returns mock history records.
func (m *MockAPI) ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls = append(m.HistoryCalls, startHistoryID)

	if m.HistoryError != nil {
		return nil, m.HistoryError
	}

	return &HistoryResponse{
		History:   m.HistoryRecords,
		HistoryID: m.HistoryID,
	}, nil
}

// GetMessage returns a mock message.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err, ok := m.GetMessageError[messageID]; ok && err != nil {
		return nil, err
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return msg, nil
}

// GetThread returns a configured thread, or assembles one from Messages.
func (m *MockAPI) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetThreadCalls = append(m.GetThreadCalls, threadID)

	if m.GetThreadError != nil {
		return nil, m.GetThreadError
	}

	if t, ok := m.Threads[threadID]; ok {
		return t, nil
	}

	thread := &Thread{ID: threadID}
	for _, msg := range m.Messages {
		if msg.ThreadID == threadID {
			thread.Messages = append(thread.Messages, msg)
		}
	}
	if len(thread.Messages) == 0 {
		return nil, &NotFoundError{Path: "/threads/" + threadID}
	}
	return thread, nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// SetupMessages adds pre-built messages to the mock store in a thread-safe
// manner. Nil entries in the input slice are silently skipped.
func (m *MockAPI) SetupMessages(msgs ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*Message)
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.Messages[msg.ID] = msg
	}
}

// AddHistory appends a history record announcing the given messages and
// bumps the mock's history high-water mark.
func (m *MockAPI) AddHistory(recordID uint64, msgs ...MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := HistoryRecord{ID: recordID}
	for _, ref := range msgs {
		rec.MessagesAdded = append(rec.MessagesAdded, HistoryMessage{Message: ref})
	}
	m.HistoryRecords = append(m.HistoryRecords, rec)
	if recordID > m.HistoryID {
		m.HistoryID = recordID
	}
}

// Reset clears all state and call tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Messages = make(map[string]*Message)
	m.Threads = make(map[string]*Thread)
	m.HistoryRecords = nil
	m.HistoryID = 0
	m.GetMessageError = make(map[string]error)
	m.ProfileError = nil
	m.HistoryError = nil
	m.GetThreadError = nil

	m.ProfileCalls = 0
	m.HistoryCalls = nil
	m.GetMessageCalls = nil
	m.GetThreadCalls = nil
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
