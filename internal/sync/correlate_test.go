package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/averdugo/taskmail/internal/clickup"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Plain", "Invoice #42", "Invoice #42"},
		{"Re", "Re: Invoice #42", "Invoice #42"},
		{"UpperRe", "RE: Invoice #42", "Invoice #42"},
		{"Fwd", "Fwd: Invoice #42", "Invoice #42"},
		{"Rv", "Rv: Pedido urgente", "Pedido urgente"},
		{"Stacked", "Re: FWD: re: Invoice #42", "Invoice #42"},
		{"LeadingSpace", "  Re:  Invoice #42  ", "Invoice #42"},
		{"Empty", "", ""},
		{"PrefixWithoutColon", "Reunion mensual", "Reunion mensual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSubject(tt.in); got != tt.want {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// fixedNow anchors recency-window checks.
var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestCorrelator(mock *clickup.MockAPI, autoCreate bool) *Correlator {
	return NewCorrelator(mock, CorrelatorConfig{
		SpaceID:       "space1",
		ThreadFieldID: "f-thread",
		DefaultListID: "list-default",
		TaskStatus:    "to do",
		AutoCreate:    autoCreate,
		RecencyWindow: 120 * time.Minute,
	}).WithClock(func() time.Time { return fixedNow })
}

func TestResolveFoundByField(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")
	mock.AddTask("list1", clickup.Task{
		ID:   "task1",
		Name: "Whatever name",
		CustomFields: []clickup.CustomField{
			{ID: "f-thread", Value: "thread-9"},
		},
	})

	c := newTestCorrelator(mock, false)
	res, err := c.Resolve(context.Background(), "thread-9", "Re: unrelated subject", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if res.Outcome != OutcomeFoundByField || res.TaskID != "task1" {
		t.Errorf("Resolve() = %+v, want found-by-field task1", res)
	}
	// Direct match must not trigger the heuristic's write-back
	if len(mock.FieldWrites) != 0 {
		t.Errorf("FieldWrites = %v, want none", mock.FieldWrites)
	}
}

func TestResolveFoundBySubjectWritesBack(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")
	mock.AddTask("list1", clickup.Task{
		ID:          "task1",
		Name:        "Invoice #42",
		DateCreated: fixedNow.Add(-5 * time.Minute).UnixMilli(),
	})

	c := newTestCorrelator(mock, false)
	res, err := c.Resolve(context.Background(), "thread-9", "Re: Invoice #42", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if res.Outcome != OutcomeFoundBySubject || res.TaskID != "task1" {
		t.Fatalf("Resolve() = %+v, want found-by-subject task1", res)
	}
	if !res.LinkedNow {
		t.Error("LinkedNow = false, want true")
	}
	if len(mock.FieldWrites) != 1 {
		t.Fatalf("FieldWrites = %v, want one write", mock.FieldWrites)
	}
	w := mock.FieldWrites[0]
	if w.TaskID != "task1" || w.FieldID != "f-thread" || w.Value != "thread-9" {
		t.Errorf("FieldWrites[0] = %+v, want thread id on task1", w)
	}
}

func TestResolveSubjectOutsideWindow(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")
	mock.AddTask("list1", clickup.Task{
		ID:          "task1",
		Name:        "Invoice #42",
		DateCreated: fixedNow.Add(-3 * time.Hour).UnixMilli(),
	})

	c := newTestCorrelator(mock, false)
	res, err := c.Resolve(context.Background(), "thread-9", "Re: Invoice #42", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("Resolve() = %+v, want not-found for stale task", res)
	}
}

func TestResolveWriteBackFailureDoesNotBlock(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")
	mock.AddTask("list1", clickup.Task{
		ID:          "task1",
		Name:        "Invoice #42",
		DateCreated: fixedNow.Add(-5 * time.Minute).UnixMilli(),
	})
	mock.SetFieldError = errors.New("field is locked")

	c := newTestCorrelator(mock, false)
	res, err := c.Resolve(context.Background(), "thread-9", "Invoice #42", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v, write-back failure must not propagate", err)
	}
	if res.Outcome != OutcomeFoundBySubject || res.TaskID != "task1" {
		t.Errorf("Resolve() = %+v, want found-by-subject despite write-back failure", res)
	}
	if res.LinkedNow {
		t.Error("LinkedNow = true, want false when the write-back failed")
	}
}

func TestResolveAutoCreateDisabled(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")

	c := newTestCorrelator(mock, false)
	res, err := c.Resolve(context.Background(), "thread-9", "Pedido nuevo", "snippet")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("Resolve() = %+v, want not-found", res)
	}
	if len(mock.CreatedTasks) != 0 {
		t.Errorf("CreatedTasks = %v, want none with auto-create disabled", mock.CreatedTasks)
	}
}

func TestResolveAutoCreate(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")

	c := newTestCorrelator(mock, true)
	res, err := c.Resolve(context.Background(), "thread-9", "Pedido nuevo", "primer mensaje")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != OutcomeCreated || res.TaskID == "" {
		t.Fatalf("Resolve() = %+v, want created", res)
	}

	if len(mock.CreatedTasks) != 1 {
		t.Fatalf("CreatedTasks = %d, want 1", len(mock.CreatedTasks))
	}
	req := mock.CreatedTasks[0]
	if req.Name != "Pedido nuevo" {
		t.Errorf("Name = %q, want raw subject", req.Name)
	}
	if req.Status != "to do" {
		t.Errorf("Status = %q, want configured status", req.Status)
	}
	if mock.CreatedTaskList[0] != "list-default" {
		t.Errorf("created in list %q, want list-default", mock.CreatedTaskList[0])
	}
	for _, part := range []string{"**Origen:** Gmail", "`thread-9`", ThreadWebURL("thread-9"), "primer mensaje"} {
		if !strings.Contains(req.Description, part) {
			t.Errorf("Description missing %q:\n%s", part, req.Description)
		}
	}
	if len(req.CustomFields) != 1 || req.CustomFields[0].ID != "f-thread" || req.CustomFields[0].Value != "thread-9" {
		t.Errorf("CustomFields = %v, want thread field pre-populated", req.CustomFields)
	}
}

func TestResolveAutoCreateEmptySubject(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")

	c := newTestCorrelator(mock, true)
	res, err := c.Resolve(context.Background(), "thread-9", "", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("Resolve() = %+v, want created", res)
	}
	if mock.CreatedTasks[0].Name != "(Sin asunto)" {
		t.Errorf("Name = %q, want placeholder", mock.CreatedTasks[0].Name)
	}
	if !strings.Contains(mock.CreatedTasks[0].Description, "(sin contenido)") {
		t.Error("Description missing empty-snippet placeholder")
	}
}

func TestResolveAutoCreateBoundsSnippet(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")

	long := strings.Repeat("á", 400)
	c := newTestCorrelator(mock, true)
	if _, err := c.Resolve(context.Background(), "thread-9", "Pedido", long); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	desc := mock.CreatedTasks[0].Description
	if strings.Contains(desc, long) {
		t.Error("Description contains the full snippet, want a bounded preview")
	}
	want := strings.Repeat("á", snippetPreviewRunes-3) + "..."
	if !strings.Contains(desc, want) {
		t.Errorf("Description missing truncated snippet:\n%s", desc)
	}
}

func TestResolveFieldMatchBeatsSubjectMatch(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.AddList("space1", "list1", "Inbox")
	mock.AddList("space1", "list2", "Backlog")
	// Subject candidate in the first list scanned
	mock.AddTask("list1", clickup.Task{
		ID:          "subject-task",
		Name:        "Invoice #42",
		DateCreated: fixedNow.Add(-5 * time.Minute).UnixMilli(),
	})
	// Field match in a later list
	mock.AddTask("list2", clickup.Task{
		ID: "field-task",
		CustomFields: []clickup.CustomField{
			{ID: "f-thread", Value: "thread-9"},
		},
	})

	c := newTestCorrelator(mock, false)
	res, err := c.Resolve(context.Background(), "thread-9", "Re: Invoice #42", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != OutcomeFoundByField || res.TaskID != "field-task" {
		t.Errorf("Resolve() = %+v, want field match to win over earlier subject match", res)
	}
}

func TestResolveTransportErrorPropagates(t *testing.T) {
	mock := clickup.NewMockAPI()
	mock.ListListsError = errors.New("503")

	c := newTestCorrelator(mock, true)
	if _, err := c.Resolve(context.Background(), "thread-9", "x", ""); err == nil {
		t.Error("Resolve() = nil error, want transport error to propagate")
	}
}
