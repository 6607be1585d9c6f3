// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import "context"

// AccountReader provides read access to account-level Gmail data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile, including the
	// mailbox's current history high-water mark.
	GetProfile(ctx context.Context) (*Profile, error)
}

// MessageReader provides read access to Gmail messages and history.
type MessageReader interface {
	// ListHistory returns messageAdded changes since the given history ID.
	// Use pageToken for pagination. A *NotFoundError means the history ID
	// has fallen out of Gmail's retention window.
	ListHistory(ctx context.Context, startHistoryID uint64, pageToken string) (*HistoryResponse, error)

	// GetMessage fetches a single message with its full payload part tree.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// GetThread fetches all messages in a conversation.
	GetThread(ctx context.Context, threadID string) (*Thread, error)
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	AccountReader
	MessageReader

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// MessageID represents a message reference from history operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// HistoryResponse contains changes since a history ID.
type HistoryResponse struct {
	History       []HistoryRecord
	NextPageToken string
	HistoryID     uint64
}

// HistoryRecord represents a single history change. Only messageAdded
// changes are requested; other change kinds never appear here.
type HistoryRecord struct {
	ID            uint64
	MessagesAdded []HistoryMessage
}

// HistoryMessage represents a message in history.
type HistoryMessage struct {
	Message MessageID
}

// Header is a single message or part header.
type Header struct {
	Name  string
	Value string
}

// Part is one node of a message's MIME payload tree. Leaf parts carry
// transport-encoded body data; container parts carry children.
type Part struct {
	MimeType string
	Filename string
	Headers  []Header
	Body     string // base64url-encoded content, empty for containers
	Parts    []*Part
}

// Message is a fully resolved Gmail message. Immutable once fetched.
type Message struct {
	ID           string
	ThreadID     string
	Snippet      string
	HistoryID    uint64
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Payload      *Part
}

// Header returns the value of the named top-level header,
// matched case-insensitively. Returns "" when absent.
func (m *Message) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if equalFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Thread groups the messages of one conversation.
type Thread struct {
	ID       string
	Messages []*Message
}

// equalFold is a small ASCII-only case-insensitive compare; header names
// are always ASCII.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
