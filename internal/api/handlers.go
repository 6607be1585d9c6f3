package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/averdugo/taskmail/internal/gmail"
	"github.com/averdugo/taskmail/internal/mailtext"
	"github.com/averdugo/taskmail/internal/scheduler"
)

// StatusResponse reports the engine and scheduler state.
type StatusResponse struct {
	Status      string           `json:"status"`
	LastError   string           `json:"last_error,omitempty"`
	UpdatedAt   string           `json:"updated_at,omitempty"`
	DeadLetters int              `json:"dead_letters"`
	Scheduler   scheduler.Status `json:"scheduler"`
}

// DeadLetterInfo represents a retained failure in list responses.
type DeadLetterInfo struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
}

// ThreadResponse carries a rendered conversation.
type ThreadResponse struct {
	ThreadID string `json:"thread_id"`
	Messages int    `json:"messages"`
	Body     string `json:"body"`
}

// WebhookRequest is the payload for posting a comment directly.
type WebhookRequest struct {
	TaskID string `json:"task_id"`
	Body   string `json:"body"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// handleStatus returns the persisted sync state plus scheduler snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.SyncStatus()
	if err != nil {
		s.logger.Error("failed to load sync status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve status")
		return
	}
	count, err := s.store.CountDeadLetters()
	if err != nil {
		s.logger.Error("failed to count dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve status")
		return
	}

	resp := StatusResponse{
		Status:      state.Status,
		LastError:   state.LastError,
		DeadLetters: count,
		Scheduler:   s.scheduler.Status(),
	}
	if !state.UpdatedAt.IsZero() {
		resp.UpdatedAt = state.UpdatedAt.Format("2006-01-02T15:04:05Z")
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeadLetters returns retained failures for operator inspection.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	// maxAttempts high enough to include exhausted letters
	letters, err := s.store.ListDeadLetters(1<<30, limit)
	if err != nil {
		s.logger.Error("failed to list dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve dead letters")
		return
	}

	infos := make([]DeadLetterInfo, len(letters))
	for i, d := range letters {
		infos[i] = DeadLetterInfo{
			MessageID: d.MessageID,
			ThreadID:  d.ThreadID,
			Reason:    d.Reason,
			Attempts:  d.Attempts,
			CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":        len(infos),
		"dead_letters": infos,
	})
}

// handleGetThread returns a conversation rendered as comment text.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "Thread ID is required")
		return
	}

	thread, err := s.mail.GetThread(r.Context(), threadID)
	if err != nil {
		var notFound *gmail.NotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "not_found", "Thread not found")
			return
		}
		s.logger.Error("failed to fetch thread", "thread", threadID, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "Failed to fetch thread")
		return
	}

	body := mailtext.RenderThread(thread.Messages, s.cfg.RenderLocation(), s.renderLocale())
	writeJSON(w, http.StatusOK, ThreadResponse{
		ThreadID: thread.ID,
		Messages: len(thread.Messages),
		Body:     body,
	})
}

// handleTriggerSync runs a tick outside the schedule.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.TriggerTick(); err != nil {
		s.logger.Error("failed to trigger sync", "error", err)
		writeError(w, http.StatusConflict, "sync_error", err.Error())
		return
	}

	s.logger.Info("sync triggered via API")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sync started",
	})
}

// handleWebhook posts a comment on a task without going through the
// correlation ladder. Used by external automations that already know
// the task.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}
	if req.TaskID == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Fields 'task_id' and 'body' are required")
		return
	}

	comment, err := s.tasks.AddComment(r.Context(), req.TaskID, req.Body)
	if err != nil {
		s.logger.Error("webhook comment failed", "task", req.TaskID, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "Failed to post comment")
		return
	}

	s.logger.Info("webhook comment posted", "task", req.TaskID, "comment", comment.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":     "created",
		"comment_id": comment.ID,
	})
}
