package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	baseURL    = "https://api.clickup.com/api/v2"
	maxRetries = 6
	maxBackoff = 120 // Max backoff in seconds
)

// Client implements the ClickUp API interface.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	token      string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

// NewClient creates a new ClickUp API client authenticated with the
// given personal or OAuth token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		logger:     slog.Default(),
		// ClickUp allows 100 requests/minute per token
		limiter: rate.NewLimiter(rate.Every(time.Minute/100), 10),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// request makes an HTTP request with rate limiting and retry logic.
// bodyBytes can be nil for requests without a body.
func (c *Client) request(ctx context.Context, method, path string, bodyBytes []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", c.token)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue // Retry on network errors
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch resp.StatusCode {
		case 429:
			c.logger.Debug("rate limited", "path", path, "attempt", attempt)
			lastErr = fmt.Errorf("rate limited (429)")
			continue

		case 500, 502, 503, 504:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue

		case 401:
			return nil, fmt.Errorf("unauthorized (401): check CLICKUP_ACCESS_TOKEN")

		case 404:
			return nil, &NotFoundError{Path: path}

		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the backoff duration for a retry attempt.
// Uses exponential backoff with full jitter.
func calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// ClickUp API JSON response types (unexported, used only for JSON unmarshaling).

type listJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listListsResponse struct {
	Lists []listJSON `json:"lists"`
}

type folderJSON struct {
	ID    string     `json:"id"`
	Lists []listJSON `json:"lists"`
}

type listFoldersResponse struct {
	Folders []folderJSON `json:"folders"`
}

type customFieldJSON struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

type taskJSON struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	DateCreated  string            `json:"date_created"`
	CustomFields []customFieldJSON `json:"custom_fields"`
}

type listTasksResponse struct {
	Tasks []taskJSON `json:"tasks"`
}

type commentResponse struct {
	ID json.Number `json:"id"`
}

// ListLists returns every list in the space. Folderless lists come from
// the space list endpoint; the rest come from each folder.
func (c *Client) ListLists(ctx context.Context, spaceID string) ([]List, error) {
	data, err := c.request(ctx, "GET", fmt.Sprintf("/space/%s/list", spaceID), nil)
	if err != nil {
		return nil, err
	}

	var folderless listListsResponse
	if err := json.Unmarshal(data, &folderless); err != nil {
		return nil, fmt.Errorf("parse lists: %w", err)
	}

	data, err = c.request(ctx, "GET", fmt.Sprintf("/space/%s/folder", spaceID), nil)
	if err != nil {
		return nil, err
	}

	var folders listFoldersResponse
	if err := json.Unmarshal(data, &folders); err != nil {
		return nil, fmt.Errorf("parse folders: %w", err)
	}

	var lists []List
	for _, l := range folderless.Lists {
		lists = append(lists, List(l))
	}
	for _, f := range folders.Folders {
		for _, l := range f.Lists {
			lists = append(lists, List(l))
		}
	}
	return lists, nil
}

// ListTasks returns one page of tasks in a list. ClickUp paginates with a
// zero-based page parameter; an empty page means no more tasks. Closed
// tasks are requested explicitly: the endpoint omits them by default,
// and a linked task stays the thread's comment target after it closes.
func (c *Client) ListTasks(ctx context.Context, listID string, page int) ([]Task, error) {
	path := fmt.Sprintf("/list/%s/task?page=%d&include_closed=true&archived=false", listID, page)
	data, err := c.request(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp listTasksResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	tasks := make([]Task, len(resp.Tasks))
	for i, t := range resp.Tasks {
		tasks[i] = mapTask(t)
	}
	return tasks, nil
}

// CreateTask creates a task in the given list.
func (c *Client) CreateTask(ctx context.Context, listID string, req CreateTaskRequest) (*Task, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	data, err := c.request(ctx, "POST", fmt.Sprintf("/list/%s/task", listID), bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp taskJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse created task: %w", err)
	}

	task := mapTask(resp)
	return &task, nil
}

// SetCustomField sets a custom field value on a task.
func (c *Client) SetCustomField(ctx context.Context, taskID, fieldID string, value any) error {
	body := struct {
		Value any `json:"value"`
	}{Value: value}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal field value: %w", err)
	}

	path := fmt.Sprintf("/task/%s/field/%s", taskID, fieldID)
	_, err = c.request(ctx, "POST", path, bodyBytes)
	return err
}

// AddComment posts a comment on a task.
func (c *Client) AddComment(ctx context.Context, taskID, text string) (*Comment, error) {
	body := struct {
		CommentText string `json:"comment_text"`
	}{CommentText: text}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal comment: %w", err)
	}

	data, err := c.request(ctx, "POST", fmt.Sprintf("/task/%s/comment", taskID), bodyBytes)
	if err != nil {
		return nil, err
	}

	var resp commentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse comment: %w", err)
	}

	return &Comment{ID: resp.ID.String()}, nil
}

// mapTask converts a JSON task to the domain type.
func mapTask(t taskJSON) Task {
	created, _ := strconv.ParseInt(t.DateCreated, 10, 64)

	task := Task{
		ID:          t.ID,
		Name:        t.Name,
		URL:         t.URL,
		DateCreated: created,
	}
	if len(t.CustomFields) > 0 {
		task.CustomFields = make([]CustomField, len(t.CustomFields))
		for i, f := range t.CustomFields {
			task.CustomFields[i] = CustomField(f)
		}
	}
	return task
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
