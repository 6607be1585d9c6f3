package clickup

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestListTasksQuery(t *testing.T) {
	var captured *http.Request
	client := NewClient("tok", WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"tasks":[]}`)),
				Header:     make(http.Header),
			}, nil
		}),
	}))

	if _, err := client.ListTasks(context.Background(), "list1", 3); err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if captured == nil {
		t.Fatal("no request sent")
	}

	q := captured.URL.Query()
	if got := q.Get("page"); got != "3" {
		t.Errorf("page = %q, want 3", got)
	}
	// Closed tasks must stay visible to the scan; the endpoint drops them
	// unless asked.
	if got := q.Get("include_closed"); got != "true" {
		t.Errorf("include_closed = %q, want true", got)
	}
	if got := q.Get("archived"); got != "false" {
		t.Errorf("archived = %q, want false", got)
	}
}

func TestMapTask(t *testing.T) {
	in := taskJSON{
		ID:          "abc123",
		Name:        "Invoice #42",
		URL:         "https://app.clickup.com/t/abc123",
		DateCreated: "1704067200000",
		CustomFields: []customFieldJSON{
			{ID: "field-1", Value: "thread-9"},
			{ID: "field-2", Value: nil},
		},
	}

	want := Task{
		ID:          "abc123",
		Name:        "Invoice #42",
		URL:         "https://app.clickup.com/t/abc123",
		DateCreated: 1704067200000,
		CustomFields: []CustomField{
			{ID: "field-1", Value: "thread-9"},
			{ID: "field-2", Value: nil},
		},
	}

	if diff := cmp.Diff(want, mapTask(in)); diff != "" {
		t.Errorf("mapTask() mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomFieldString(t *testing.T) {
	task := &Task{
		CustomFields: []CustomField{
			{ID: "f-text", Value: "thread-9"},
			{ID: "f-unset", Value: nil},
			{ID: "f-num", Value: float64(7)},
		},
	}

	tests := []struct {
		name    string
		fieldID string
		want    string
	}{
		{"StringValue", "f-text", "thread-9"},
		{"UnsetValue", "f-unset", ""},
		{"NonStringValue", "f-num", ""},
		{"AbsentField", "f-missing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := task.CustomFieldString(tt.fieldID); got != tt.want {
				t.Errorf("CustomFieldString(%q) = %q, want %q", tt.fieldID, got, tt.want)
			}
		})
	}
}

func TestMockPagination(t *testing.T) {
	mock := NewMockAPI()
	mock.PageSize = 2
	for _, id := range []string{"t1", "t2", "t3"} {
		mock.AddTask("list1", Task{ID: id})
	}

	ctx := context.Background()

	page0, err := mock.ListTasks(ctx, "list1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page0) != 2 {
		t.Errorf("page 0 size = %d, want 2", len(page0))
	}

	page1, err := mock.ListTasks(ctx, "list1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 1 {
		t.Errorf("page 1 size = %d, want 1", len(page1))
	}

	page2, err := mock.ListTasks(ctx, "list1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 0 {
		t.Errorf("page 2 size = %d, want empty", len(page2))
	}
}

func TestMockSetCustomField(t *testing.T) {
	mock := NewMockAPI()
	mock.AddTask("list1", Task{ID: "t1"})

	ctx := context.Background()
	if err := mock.SetCustomField(ctx, "t1", "f1", "thread-9"); err != nil {
		t.Fatalf("SetCustomField() error = %v", err)
	}

	tasks, _ := mock.ListTasks(ctx, "list1", 0)
	if got := tasks[0].CustomFieldString("f1"); got != "thread-9" {
		t.Errorf("field after write = %q, want thread-9", got)
	}

	if err := mock.SetCustomField(ctx, "missing", "f1", "x"); err == nil {
		t.Error("SetCustomField(missing) = nil error, want *NotFoundError")
	}
}

func TestMockCreateTaskAndComment(t *testing.T) {
	mock := NewMockAPI()
	ctx := context.Background()

	task, err := mock.CreateTask(ctx, "list1", CreateTaskRequest{
		Name:   "Correo: pedido",
		Status: "to do",
		CustomFields: []CustomFieldValue{
			{ID: "f1", Value: "thread-9"},
		},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.CustomFieldString("f1") != "thread-9" {
		t.Error("created task missing custom field value")
	}

	if _, err := mock.AddComment(ctx, task.ID, "first"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if got := mock.CommentCount(task.ID); got != 1 {
		t.Errorf("CommentCount = %d, want 1", got)
	}
}
