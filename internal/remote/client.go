// Package remote is the client side of the remote store: a typed HTTP
// client for the attendance API, an availability prober with a cached
// answer, and a WebSocket subscriber for live update events.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hudacode/prayerlog/internal/record"
)

// ErrNotFound is returned when the server reports 404 for an entity.
var ErrNotFound = errors.New("not found")

// Client talks to the remote store's HTTP API.
//
// Every call takes a context and the underlying http.Client carries an
// overall timeout, so a wedged network surfaces as an error instead of a
// hang.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewClient creates a client for the server at baseURL (e.g.
// "http://localhost:8080"). Timeout bounds each request; zero means 10s.
// If logger is nil, a default logger writing to stderr is used.
func NewClient(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebSocketURL returns the live update endpoint derived from the base URL.
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}

// apiError is the {message} body every 4xx/5xx response carries.
type apiError struct {
	Message string `json:"message"`
}

// do performs one JSON request. A nil body sends no payload; a nil out
// discards the response body. 404 responses map to ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: %s: %w", method, path, apiErr.Message, ErrNotFound)
		}
		return fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Health checks whether the server is answering.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// FetchAttendance returns every live record the server holds.
func (c *Client) FetchAttendance(ctx context.Context) ([]record.AttendanceRecord, error) {
	var records []record.AttendanceRecord
	if err := c.do(ctx, http.MethodGet, "/attendance", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// UpsertAttendance pushes one record upstream and returns the stored copy.
func (c *Client) UpsertAttendance(ctx context.Context, rec record.AttendanceRecord) (record.AttendanceRecord, error) {
	var stored record.AttendanceRecord
	if err := c.do(ctx, http.MethodPost, "/attendance", rec, &stored); err != nil {
		return record.AttendanceRecord{}, err
	}
	return stored, nil
}

// DeleteAttendance removes one record by id. Missing records return
// ErrNotFound.
func (c *Client) DeleteAttendance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/attendance/"+url.PathEscape(id), nil, nil)
}

// clearResponse mirrors the server's DELETE /attendance body.
type clearResponse struct {
	Count     int   `json:"count"`
	ClearedAt int64 `json:"clearedAt"`
}

// ClearAttendance wipes every record on the server. It returns the number
// removed and the server-assigned watermark, which the caller must adopt
// as canonical.
func (c *Client) ClearAttendance(ctx context.Context) (int, time.Time, error) {
	var resp clearResponse
	if err := c.do(ctx, http.MethodDelete, "/attendance", nil, &resp); err != nil {
		return 0, time.Time{}, err
	}
	return resp.Count, time.UnixMilli(resp.ClearedAt), nil
}

// clearedAtResponse mirrors GET /attendance/cleared-at.
type clearedAtResponse struct {
	ClearedAt int64 `json:"clearedAt"`
}

// ClearedAt fetches the server's clear watermark; zero means no clear has
// ever run.
func (c *Client) ClearedAt(ctx context.Context) (time.Time, error) {
	var resp clearedAtResponse
	if err := c.do(ctx, http.MethodGet, "/attendance/cleared-at", nil, &resp); err != nil {
		return time.Time{}, err
	}
	if resp.ClearedAt == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(resp.ClearedAt), nil
}

// Classes lists all classes.
func (c *Client) Classes(ctx context.Context) ([]record.Class, error) {
	var classes []record.Class
	if err := c.do(ctx, http.MethodGet, "/classes", nil, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// AddClass creates a class by name.
func (c *Client) AddClass(ctx context.Context, name string) (record.Class, error) {
	var cls record.Class
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/classes", body, &cls); err != nil {
		return record.Class{}, err
	}
	return cls, nil
}

// CascadeSummary reports how far a cascade delete reached.
type CascadeSummary struct {
	DeletedStudents int `json:"deleted_students"`
	DeletedRecords  int `json:"deleted_records"`
}

// DeleteClass removes a class; the server cascades over its students and
// their attendance.
func (c *Client) DeleteClass(ctx context.Context, id string) (CascadeSummary, error) {
	var summary CascadeSummary
	if err := c.do(ctx, http.MethodDelete, "/classes/"+url.PathEscape(id), nil, &summary); err != nil {
		return CascadeSummary{}, err
	}
	return summary, nil
}

// Students lists all students.
func (c *Client) Students(ctx context.Context) ([]record.Student, error) {
	var students []record.Student
	if err := c.do(ctx, http.MethodGet, "/students", nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// StudentsByClass lists students belonging to a class name.
func (c *Client) StudentsByClass(ctx context.Context, className string) ([]record.Student, error) {
	var students []record.Student
	path := "/students/class/" + url.PathEscape(className)
	if err := c.do(ctx, http.MethodGet, path, nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// AddStudent creates a student under an existing class.
func (c *Client) AddStudent(ctx context.Context, st record.Student) (record.Student, error) {
	var added record.Student
	if err := c.do(ctx, http.MethodPost, "/students", st, &added); err != nil {
		return record.Student{}, err
	}
	return added, nil
}

// DeleteStudent removes a student; the server cascades over their
// attendance.
func (c *Client) DeleteStudent(ctx context.Context, id string) (CascadeSummary, error) {
	var summary CascadeSummary
	if err := c.do(ctx, http.MethodDelete, "/students/"+url.PathEscape(id), nil, &summary); err != nil {
		return CascadeSummary{}, err
	}
	return summary, nil
}
