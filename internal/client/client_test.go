package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func TestSubmitAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		var req models.SubmitRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "embed", req.Kind)
		assert.Equal(t, "articles", req.Params.Collection)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.SubmitResponse{ID: "abcd1234"})
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "abcd1234" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"job not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.JobSnapshot{ID: "abcd1234", Status: models.JobStatusRunning, Progress: 12})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	id, err := c.Submit(ctx, models.SubmitRequest{
		Kind:   "embed",
		Params: models.JobParams{Collection: "articles", TextField: "body"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", id)

	snap, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, snap.Status)
	assert.Equal(t, 12, snap.Progress)

	_, err = c.Status(ctx, "other")
	require.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "job not found", apiErr.Message)
}

func TestLogsSendsLastN(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-1", r.URL.Query().Get("last_n"))
		_ = json.NewEncoder(w).Encode(models.LogsResponse{ID: r.PathValue("id"), Lines: []string{"a", "b"}})
	})
	c := newTestClient(t, mux)

	lines, err := c.Logs(context.Background(), "j1", -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestCancelConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"job already finished"}`))
	})
	c := newTestClient(t, mux)

	err := c.Cancel(context.Background(), "j1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestWatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		for _, st := range []models.JobStatus{models.JobStatusStarting, models.JobStatusRunning, models.JobStatusCompleted} {
			_ = conn.WriteJSON(models.JobSnapshot{ID: "j1", Status: st})
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "completed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	})
	c := newTestClient(t, mux)

	var seen []models.JobStatus
	final, err := c.Watch(context.Background(), "j1", func(s models.JobSnapshot) error {
		seen = append(seen, s.Status)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Len(t, seen, 3)
}

func TestWatchUnknownJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}/watch", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"job not found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	_, err := c.Watch(context.Background(), "nope", func(models.JobSnapshot) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewUsesEnv(t *testing.T) {
	t.Setenv("DOCJOBS_SERVER_URL", "http://jobs.internal:9000/")
	assert.Equal(t, "http://jobs.internal:9000", New("").BaseURL())

	t.Setenv("DOCJOBS_SERVER_URL", "")
	assert.Equal(t, DefaultURL, New("").BaseURL())
}
