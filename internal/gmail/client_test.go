package gmail

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: []byte(`{"error":{"code":403,"errors":[{"reason":"rateLimitExceeded"}]}}`),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: []byte(`{"error":{"code":403,"details":[{"reason":"RATE_LIMIT_EXCEEDED"}]}}`),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: []byte(`{"error":{"code":403,"message":"Quota exceeded for quota metric 'Queries'"}}`),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: []byte(`{"error":{"code":403,"errors":[{"reason":"userRateLimitExceeded"}]}}`),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: []byte(`{"error":{"code":403,"errors":[{"reason":"forbidden"}]}}`),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapMessage(t *testing.T) {
	resp := messageResponse{
		ID:           "msg1",
		ThreadID:     "thread1",
		Snippet:      "hello there",
		HistoryID:    "12345",
		InternalDate: "1704067200000",
		SizeEstimate: 2048,
		Payload: &partJSON{
			MimeType: "multipart/alternative",
			Headers: []headerJSON{
				{Name: "Subject", Value: "Invoice #42"},
				{Name: "From", Value: "Ana <ana@example.com>"},
			},
			Parts: []partJSON{
				{
					MimeType: "text/plain",
					Body:     partBodyJSON{Data: "aGVsbG8gdGhlcmU", Size: 11},
				},
				{
					MimeType: "text/html",
					Body:     partBodyJSON{Data: "PGI-aGk8L2I-", Size: 12},
				},
			},
		},
	}

	msg := mapMessage(resp)

	want := &Message{
		ID:           "msg1",
		ThreadID:     "thread1",
		Snippet:      "hello there",
		HistoryID:    12345,
		InternalDate: 1704067200000,
		SizeEstimate: 2048,
		Payload: &Part{
			MimeType: "multipart/alternative",
			Headers: []Header{
				{Name: "Subject", Value: "Invoice #42"},
				{Name: "From", Value: "Ana <ana@example.com>"},
			},
			Parts: []*Part{
				{MimeType: "text/plain", Body: "aGVsbG8gdGhlcmU"},
				{MimeType: "text/html", Body: "PGI-aGk8L2I-"},
			},
		},
	}

	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("mapMessage() mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageHeader(t *testing.T) {
	msg := &Message{
		Payload: &Part{
			Headers: []Header{
				{Name: "Subject", Value: "Re: Invoice #42"},
				{Name: "From", Value: "ana@example.com"},
			},
		},
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"ExactCase", "Subject", "Re: Invoice #42"},
		{"LowerCase", "subject", "Re: Invoice #42"},
		{"MixedCase", "fRoM", "ana@example.com"},
		{"Missing", "To", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := msg.Header(tt.header); got != tt.want {
				t.Errorf("Header(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}

	t.Run("NilPayload", func(t *testing.T) {
		empty := &Message{}
		if got := empty.Header("Subject"); got != "" {
			t.Errorf("Header() on nil payload = %q, want empty", got)
		}
	})
}

func TestMapHistoryEntries(t *testing.T) {
	entries := []historyEntry{
		{
			ID: "100",
			MessagesAdded: []historyMessageChange{
				{Message: gmailMessageRef{ID: "m1", ThreadID: "t1"}},
				{Message: gmailMessageRef{ID: "m2", ThreadID: "t1"}},
			},
		},
		{ID: "101"},
	}

	records := mapHistoryEntries(entries)

	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ID != 100 {
		t.Errorf("records[0].ID = %d, want 100", records[0].ID)
	}
	if len(records[0].MessagesAdded) != 2 {
		t.Errorf("len(records[0].MessagesAdded) = %d, want 2", len(records[0].MessagesAdded))
	}
	if records[0].MessagesAdded[1].Message.ID != "m2" {
		t.Errorf("MessagesAdded[1].Message.ID = %q, want m2", records[0].MessagesAdded[1].Message.ID)
	}
	if len(records[1].MessagesAdded) != 0 {
		t.Errorf("records[1] should carry no added messages")
	}
}
