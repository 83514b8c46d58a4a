// Package client provides an HTTP client for the docjobs server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/raphaelgruber/docjobs/internal/models"
)

// DefaultURL is used when neither an explicit URL nor DOCJOBS_SERVER_URL is set.
const DefaultURL = "http://localhost:8585"

// ErrNotFound is returned when the server has no job with the requested id.
var ErrNotFound = errors.New("job not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Status, e.Message)
}

// Client talks to the docjobs REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses DOCJOBS_SERVER_URL or DefaultURL.
// Timeout can be configured via DOCJOBS_CLIENT_TIMEOUT (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DOCJOBS_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}

	timeout := 30 * time.Second
	if t := os.Getenv("DOCJOBS_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a request and decodes a JSON response into result when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	apiErr := &APIError{Status: status, Message: msg}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

// Submit starts a job and returns its id.
func (c *Client) Submit(ctx context.Context, req models.SubmitRequest) (string, error) {
	var resp models.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Status returns the current snapshot of a job.
func (c *Client) Status(ctx context.Context, id string) (*models.JobSnapshot, error) {
	var snap models.JobSnapshot
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns all known jobs, most recent first.
func (c *Client) List(ctx context.Context) ([]models.JobSnapshot, error) {
	var jobs []models.JobSnapshot
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Logs returns the last lastN log lines of a job; -1 returns all retained lines.
func (c *Client) Logs(ctx context.Context, id string, lastN int) ([]string, error) {
	path := "/jobs/" + url.PathEscape(id) + "/logs?last_n=" + strconv.Itoa(lastN)
	var resp models.LogsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// Cancel requests cancellation of a running job.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Remove forgets a finished job.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil)
}

// Collections lists the collections of the server's document store.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Stats returns the server's aggregate metrics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Watch streams snapshots of a job until it reaches a terminal state.
// onSnapshot is invoked for each snapshot; return an error from it to abort.
// The final snapshot is returned.
func (c *Client) Watch(ctx context.Context, id string, onSnapshot func(models.JobSnapshot) error) (*models.JobSnapshot, error) {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/jobs/" + url.PathEscape(id) + "/watch")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *models.JobSnapshot
	for {
		var snap models.JobSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil {
				return last, nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway) {
				return last, fmt.Errorf("%w: %s was removed", ErrNotFound, id)
			}
			return last, fmt.Errorf("read snapshot: %w", err)
		}
		last = &snap
		if err := onSnapshot(snap); err != nil {
			return last, err
		}
	}
}
