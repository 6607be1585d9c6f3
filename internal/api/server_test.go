package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/averdugo/taskmail/internal/clickup"
	"github.com/averdugo/taskmail/internal/config"
	"github.com/averdugo/taskmail/internal/gmail"
	"github.com/averdugo/taskmail/internal/scheduler"
	"github.com/averdugo/taskmail/internal/store"
)

// fakeStore implements StateStore for handler tests.
type fakeStore struct {
	state       store.SyncState
	stateErr    error
	deadLetters []store.DeadLetter
	count       int
}

func (f *fakeStore) SyncStatus() (store.SyncState, error) {
	return f.state, f.stateErr
}

func (f *fakeStore) CountDeadLetters() (int, error) {
	return f.count, nil
}

func (f *fakeStore) ListDeadLetters(maxAttempts, limit int) ([]store.DeadLetter, error) {
	return f.deadLetters, nil
}

// fakeScheduler implements TickScheduler for handler tests.
type fakeScheduler struct {
	triggerErr error
	triggered  int
	status     scheduler.Status
}

func (f *fakeScheduler) TriggerTick() error {
	f.triggered++
	return f.triggerErr
}

func (f *fakeScheduler) Status() scheduler.Status {
	return f.status
}

type testServer struct {
	server *Server
	store  *fakeStore
	sched  *fakeScheduler
	mail   *gmail.MockAPI
	tasks  *clickup.MockAPI
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.APIPort = 8080
	cfg.Server.APIKey = apiKey
	cfg.Render.Timezone = "UTC"
	cfg.Render.Locale = "es"

	fs := &fakeStore{state: store.SyncState{Status: "idle", UpdatedAt: time.Now()}}
	sched := &fakeScheduler{status: scheduler.Status{Schedule: "*/1 * * * *"}}
	mail := gmail.NewMockAPI()
	tasks := clickup.NewMockAPI()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	srv := NewServer(cfg, fs, sched, mail, tasks, logger)

	return &testServer{server: srv, store: fs, sched: sched, mail: mail, tasks: tasks}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t, "secret")

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, "secret")

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"NoKey", nil, http.StatusUnauthorized},
		{"WrongKey", map[string]string{"X-API-Key": "wrong"}, http.StatusUnauthorized},
		{"XAPIKey", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"Bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"RawAuthorization", map[string]string{"Authorization": "secret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/v1/status", nil, tt.headers)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthSkippedWhenNoKeyConfigured(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/api/v1/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	ts := newTestServer(t, "")
	ts.store.state = store.SyncState{Status: "error", LastError: "boom", UpdatedAt: time.Now()}
	ts.store.count = 3

	rec := ts.do(t, http.MethodGet, "/api/v1/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "error" || resp.LastError != "boom" {
		t.Errorf("resp = %+v, want persisted state", resp)
	}
	if resp.DeadLetters != 3 {
		t.Errorf("DeadLetters = %d, want 3", resp.DeadLetters)
	}
	if resp.Scheduler.Schedule != "*/1 * * * *" {
		t.Errorf("Scheduler.Schedule = %q", resp.Scheduler.Schedule)
	}
}

func TestStatusHandlerStoreError(t *testing.T) {
	ts := newTestServer(t, "")
	ts.store.stateErr = errors.New("db locked")

	rec := ts.do(t, http.MethodGet, "/api/v1/status", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestDeadLettersHandler(t *testing.T) {
	ts := newTestServer(t, "")
	ts.store.deadLetters = []store.DeadLetter{
		{MessageID: "m1", ThreadID: "t1", Reason: "fetch failed", Attempts: 2, CreatedAt: time.Now()},
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/deadletters", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Total       int              `json:"total"`
		DeadLetters []DeadLetterInfo `json:"dead_letters"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.DeadLetters[0].MessageID != "m1" {
		t.Errorf("resp = %+v, want m1", resp)
	}
}

func TestTriggerSyncHandler(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodPost, "/api/v1/sync", nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if ts.sched.triggered != 1 {
		t.Errorf("triggered = %d, want 1", ts.sched.triggered)
	}
}

func TestTriggerSyncConflict(t *testing.T) {
	ts := newTestServer(t, "")
	ts.sched.triggerErr = errors.New("tick already running")

	rec := ts.do(t, http.MethodPost, "/api/v1/sync", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestGetThreadHandler(t *testing.T) {
	ts := newTestServer(t, "")
	ts.mail.SetupMessages(&gmail.Message{
		ID:           "m1",
		ThreadID:     "t1",
		InternalDate: 1704121440000,
		Payload: &gmail.Part{
			MimeType: "text/plain",
			Headers: []gmail.Header{
				{Name: "From", Value: "ana@example.com"},
				{Name: "To", Value: "soporte@acme.es"},
			},
			Body: "SG9sYQ", // "Hola"
		},
	})

	rec := ts.do(t, http.MethodGet, "/api/v1/threads/t1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ThreadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ThreadID != "t1" || resp.Messages != 1 {
		t.Errorf("resp = %+v, want one message in t1", resp)
	}
	if !bytes.Contains([]byte(resp.Body), []byte("Hola")) {
		t.Errorf("Body = %q, want rendered message text", resp.Body)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(t, http.MethodGet, "/api/v1/threads/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookHandler(t *testing.T) {
	ts := newTestServer(t, "")
	ts.tasks.AddList("space1", "list1", "Inbox")
	ts.tasks.AddTask("list1", clickup.Task{ID: "task1"})

	body, _ := json.Marshal(WebhookRequest{TaskID: "task1", Body: "estado actualizado"})
	rec := ts.do(t, http.MethodPost, "/api/v1/webhook", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ts.tasks.CommentCount("task1") != 1 {
		t.Errorf("CommentCount(task1) = %d, want 1", ts.tasks.CommentCount("task1"))
	}
}

func TestWebhookValidation(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"BadJSON", "{not json"},
		{"MissingTask", `{"body":"x"}`},
		{"MissingBody", `{"task_id":"task1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/webhook", []byte(tt.body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestWebhookUpstreamError(t *testing.T) {
	ts := newTestServer(t, "")
	ts.tasks.AddCommentError = errors.New("503")

	body, _ := json.Marshal(WebhookRequest{TaskID: "task1", Body: "x"})
	rec := ts.do(t, http.MethodPost, "/api/v1/webhook", body, nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow("1.2.3.4") {
		t.Error("first request should be allowed")
	}
	if !rl.Allow("1.2.3.4") {
		t.Error("second request should be allowed (burst)")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("third request should be limited")
	}
	// Other clients have their own bucket
	if !rl.Allow("5.6.7.8") {
		t.Error("different key should be allowed")
	}
}
