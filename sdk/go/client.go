package civicsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal civicops HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Report represents the API report model (partial).
type Report struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	ProblemType      string  `json:"problem_type"`
	District         string  `json:"district"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Status           string  `json:"status"`
	Priority         float64 `json:"priority"`
	ReporterID       string  `json:"reporter_id,omitempty"`
	AssignedWorkerID *string `json:"assigned_worker_id,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	VerifiedAt       *string `json:"verified_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// Completion is an accepted completion claim.
type Completion struct {
	Accepted        bool    `json:"accepted"`
	DistanceMeters  float64 `json:"distance_meters"`
	ThresholdMeters float64 `json:"threshold_meters"`
	Report          Report  `json:"report"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsGPSRejection reports whether err is a completion refused for distance.
func IsGPSRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "gps_verification_failed"
}

// SubmitCompletion sends the worker's on-site claim for a report.
func (c *Client) SubmitCompletion(ctx context.Context, reportID string, lat, lon float64, proofPhotoRef string) (Completion, error) {
	body := map[string]any{
		"latitude":  lat,
		"longitude": lon,
	}
	if proofPhotoRef != "" {
		body["proof_photo_ref"] = proofPhotoRef
	}
	var resp Completion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reports/%s/completion", url.PathEscape(reportID)), body, &resp)
	return resp, err
}

// Verify confirms a completed report.
func (c *Client) Verify(ctx context.Context, reportID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reports/%s/verify", url.PathEscape(reportID)), nil, &resp)
	return resp, err
}

// Reject closes a report without resolution.
func (c *Client) Reject(ctx context.Context, reportID, reason string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reports/%s/reject", url.PathEscape(reportID)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// GetReport fetches a report by id.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("reports/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListReports lists reports; a worker id returns that worker's task list.
func (c *Client) ListReports(ctx context.Context, status, workerID string) ([]Report, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if workerID != "" {
		q.Set("worker_id", workerID)
	}
	endpoint := "reports"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Report `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
