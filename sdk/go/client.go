package verifikasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Verifika HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Validation represents the API validation model (partial).
type Validation struct {
	ID           string   `json:"id"`
	ActivityID   string   `json:"activity_id"`
	TechnicianID string   `json:"technician_id"`
	ClientID     string   `json:"client_id"`
	ReviewerID   string   `json:"reviewer_id"`
	SupervisorID *string  `json:"supervisor_id,omitempty"`
	Status       string   `json:"status"`
	Score        *int     `json:"score,omitempty"`
	DeadlineAt   string   `json:"deadline_at"`
	CompletedAt  *string  `json:"completed_at,omitempty"`
	ReviewHours  *float64 `json:"review_hours,omitempty"`
}

// Comment represents one node of a validation's comment thread.
type Comment struct {
	ID           string    `json:"id"`
	ValidationID string    `json:"validation_id"`
	ParentID     *string   `json:"parent_id,omitempty"`
	AuthorID     string    `json:"author_id"`
	Body         string    `json:"body"`
	NestingLevel int       `json:"nesting_level"`
	Replies      []Comment `json:"replies,omitempty"`
	CreatedAt    string    `json:"created_at"`
}

// Dashboard is the validation rollup.
type Dashboard struct {
	Total          int     `json:"total"`
	PendingReview  int     `json:"pending_review"`
	InReview       int     `json:"in_review"`
	Approved       int     `json:"approved"`
	Rejected       int     `json:"rejected"`
	Escalated      int     `json:"escalated"`
	Reopened       int     `json:"reopened"`
	Overdue        int     `json:"overdue"`
	ApprovalRate   float64 `json:"approval_rate"`
	AvgScore       float64 `json:"avg_score"`
	AvgReviewHours float64 `json:"avg_review_hours"`
}

// RequiredChange is one item a technician must fix after a rejection.
type RequiredChange struct {
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateValidation opens a review for a completed activity.
func (c *Client) CreateValidation(ctx context.Context, activityID, reviewerID string) (Validation, error) {
	body := map[string]any{
		"activity_id": activityID,
		"reviewer_id": reviewerID,
	}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/validations", body, &resp)
	return resp, err
}

// GetValidation fetches a validation by id.
func (c *Client) GetValidation(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodGet, "v0/validations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListValidations returns validations, optionally filtered by status.
func (c *Client) ListValidations(ctx context.Context, status string) ([]Validation, error) {
	endpoint := "v0/validations"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Validation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartReview moves a validation into in_review.
func (c *Client) StartReview(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/validations/"+url.PathEscape(id)+"/start", nil, &resp)
	return resp, err
}

// Approve approves an in-review validation with a 1-10 score.
func (c *Client) Approve(ctx context.Context, id string, score int, comment string) (Validation, error) {
	body := map[string]any{
		"score":   score,
		"comment": comment,
	}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/validations/"+url.PathEscape(id)+"/approve", body, &resp)
	return resp, err
}

// Reject rejects an in-review validation.
func (c *Client) Reject(ctx context.Context, id, comment string, changes []RequiredChange) (Validation, error) {
	body := map[string]any{
		"comment":          comment,
		"required_changes": changes,
	}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/validations/"+url.PathEscape(id)+"/reject", body, &resp)
	return resp, err
}

// Escalate hands the validation to the client's supervisor.
func (c *Client) Escalate(ctx context.Context, id, reason, urgency string) (Validation, error) {
	body := map[string]any{
		"reason":  reason,
		"urgency": urgency,
	}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/validations/"+url.PathEscape(id)+"/escalate", body, &resp)
	return resp, err
}

// Reopen contests an approved validation.
func (c *Client) Reopen(ctx context.Context, id, reason string) (Validation, error) {
	body := map[string]any{"reason": reason}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v0/validations/"+url.PathEscape(id)+"/reopen", body, &resp)
	return resp, err
}

// AddComment posts a comment; parentID may be empty for a root comment.
func (c *Client) AddComment(ctx context.Context, validationID, parentID, body string) (Comment, error) {
	payload := map[string]any{"body": body}
	if parentID != "" {
		payload["parent_id"] = parentID
	}
	var resp Comment
	endpoint := "v0/validations/" + url.PathEscape(validationID) + "/comments"
	err := c.do(ctx, http.MethodPost, endpoint, payload, &resp)
	return resp, err
}

// ListComments returns the threaded comments of a validation.
func (c *Client) ListComments(ctx context.Context, validationID string) ([]Comment, error) {
	var resp []Comment
	endpoint := "v0/validations/" + url.PathEscape(validationID) + "/comments"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetDashboard fetches the rollup.
func (c *Client) GetDashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "v0/dashboard", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
