package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/raphaelgruber/docjobs/internal/models"
	"github.com/raphaelgruber/docjobs/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeJobs struct {
	mu        sync.Mutex
	submitted []models.SubmitRequest
	submitErr error
	jobs      map[string]models.JobSnapshot
	logs      map[string][]string
	lastN     int
	polls     int
	// after this many Status calls the job reports completed
	completeAfter int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]models.JobSnapshot{}, logs: map[string][]string{}}
}

func (f *fakeJobs) Submit(kind string, params models.JobParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, models.SubmitRequest{Kind: kind, Params: params})
	id := fmt.Sprintf("job%05d", len(f.submitted))
	f.jobs[id] = models.JobSnapshot{ID: id, Kind: kind, Status: models.JobStatusStarting, Params: params}
	return id, nil
}

func (f *fakeJobs) Status(id string) (models.JobSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.jobs[id]
	if !ok {
		return models.JobSnapshot{}, service.ErrNotFound
	}
	f.polls++
	if f.completeAfter > 0 && f.polls >= f.completeAfter {
		snap.Status = models.JobStatusCompleted
		snap.Progress = 100
		f.jobs[id] = snap
	}
	return snap, nil
}

func (f *fakeJobs) Logs(id string, lastN int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return nil, service.ErrNotFound
	}
	f.lastN = lastN
	return f.logs[id], nil
}

func (f *fakeJobs) List() []models.JobSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobSnapshot, 0, len(f.jobs))
	for _, s := range f.jobs {
		out = append(out, s)
	}
	return out
}

func (f *fakeJobs) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.jobs[id]
	if !ok {
		return service.ErrNotFound
	}
	if snap.Status.Terminal() {
		return service.ErrJobFinished
	}
	return nil
}

func (f *fakeJobs) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.jobs[id]
	if !ok {
		return service.ErrNotFound
	}
	if !snap.Status.Terminal() {
		return service.ErrJobActive
	}
	delete(f.jobs, id)
	return nil
}

type fakeCatalog struct {
	names []string
	err   error
}

func (c fakeCatalog) CollectionNames(context.Context) ([]string, error) {
	return c.names, c.err
}

// ---- helpers ----

func newTestServer(t *testing.T, jobs Jobs, catalog Catalog) *httptest.Server {
	t.Helper()
	s, err := New(jobs, catalog, metrics.NewCollector(), nil)
	require.NoError(t, err)
	s.WatchInterval = 10 * time.Millisecond
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

const validSubmission = `{"kind":"embed","params":{"collection":"articles","text_field":"body","provider":{"name":"ollama","model":"nomic-embed-text"}}}`

// ---- tests ----

func TestSubmit(t *testing.T) {
	jobs := newFakeJobs()
	ts := newTestServer(t, jobs, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/jobs", validSubmission)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var got models.SubmitResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "job00001", got.ID)
	assert.Equal(t, "/jobs/job00001", resp.Header.Get("Location"))

	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, "embed", jobs.submitted[0].Kind)
	assert.Equal(t, "articles", jobs.submitted[0].Params.Collection)
}

func TestSubmitYAMLBody(t *testing.T) {
	jobs := newFakeJobs()
	ts := newTestServer(t, jobs, nil)

	body := "kind: tokenize\nparams:\n  collection: c\n  text_field: t\n  provider:\n    name: tiktoken\n"
	resp, _ := do(t, http.MethodPost, ts.URL+"/jobs", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"schema violation", `{"kind":"embed","params":{}}`, nil, http.StatusBadRequest},
		{"registry rejects", validSubmission, fmt.Errorf("%w: bad", service.ErrInvalidParams), http.StatusBadRequest},
		{"shutting down", validSubmission, service.ErrShuttingDown, http.StatusServiceUnavailable},
		{"unexpected", validSubmission, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobs()
			jobs.submitErr = tt.submitErr
			ts := newTestServer(t, jobs, nil)

			resp, body := do(t, http.MethodPost, ts.URL+"/jobs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)

			var apiErr apiError
			require.NoError(t, json.Unmarshal(body, &apiErr))
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestStatus(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["abc"] = models.JobSnapshot{ID: "abc", Status: models.JobStatusRunning, Progress: 40, Metrics: map[string]float64{"documents_processed": 1000}}
	ts := newTestServer(t, jobs, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/jobs/abc", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.JobSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, models.JobStatusRunning, snap.Status)
	assert.Equal(t, 40, snap.Progress)
	assert.Equal(t, 1000.0, snap.Metrics["documents_processed"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestList(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["a"] = models.JobSnapshot{ID: "a"}
	jobs.jobs["b"] = models.JobSnapshot{ID: "b"}
	ts := newTestServer(t, jobs, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []models.JobSnapshot
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 2)
}

func TestLogs(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["abc"] = models.JobSnapshot{ID: "abc"}
	jobs.logs["abc"] = []string{"12:00:00 one", "12:00:01 two"}
	ts := newTestServer(t, jobs, nil)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLastN int
	}{
		{"default is all", "", http.StatusOK, -1},
		{"explicit", "?last_n=5", http.StatusOK, 5},
		{"all", "?last_n=-1", http.StatusOK, -1},
		{"not a number", "?last_n=x", http.StatusBadRequest, 0},
		{"below -1", "?last_n=-2", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, ts.URL+"/jobs/abc/logs"+tt.query, "")
			require.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var got models.LogsResponse
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, []string{"12:00:00 one", "12:00:01 two"}, got.Lines)
			assert.Equal(t, tt.wantLastN, jobs.lastN)
		})
	}

	resp, _ := do(t, http.MethodGet, ts.URL+"/jobs/missing/logs", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelAndRemove(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["run"] = models.JobSnapshot{ID: "run", Status: models.JobStatusRunning}
	jobs.jobs["done"] = models.JobSnapshot{ID: "done", Status: models.JobStatusCompleted}
	ts := newTestServer(t, jobs, nil)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/jobs/run/cancel", http.StatusAccepted},
		{http.MethodPost, "/jobs/done/cancel", http.StatusConflict},
		{http.MethodPost, "/jobs/missing/cancel", http.StatusNotFound},
		{http.MethodDelete, "/jobs/run", http.StatusConflict},
		{http.MethodDelete, "/jobs/done", http.StatusNoContent},
		{http.MethodDelete, "/jobs/done", http.StatusNotFound},
	}

	for _, tt := range tests {
		resp, _ := do(t, tt.method, ts.URL+tt.path, "")
		assert.Equal(t, tt.want, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestCollections(t *testing.T) {
	ts := newTestServer(t, newFakeJobs(), fakeCatalog{names: []string{"articles", "papers"}})
	resp, body := do(t, http.MethodGet, ts.URL+"/collections", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["articles","papers"]`, string(body))

	ts = newTestServer(t, newFakeJobs(), fakeCatalog{err: errors.New("solr down")})
	resp, _ = do(t, http.MethodGet, ts.URL+"/collections", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	ts = newTestServer(t, newFakeJobs(), nil)
	resp, _ = do(t, http.MethodGet, ts.URL+"/collections", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	ts := newTestServer(t, newFakeJobs(), nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = do(t, http.MethodGet, ts.URL+"/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestWatch(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["abc"] = models.JobSnapshot{ID: "abc", Status: models.JobStatusRunning}
	jobs.completeAfter = 4
	ts := newTestServer(t, jobs, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jobs/abc/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var statuses []models.JobStatus
	for {
		var snap models.JobSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		statuses = append(statuses, snap.Status)
	}

	require.NotEmpty(t, statuses)
	assert.Equal(t, models.JobStatusRunning, statuses[0])
	assert.Equal(t, models.JobStatusCompleted, statuses[len(statuses)-1])
}

func TestWatchUnknownJob(t *testing.T) {
	ts := newTestServer(t, newFakeJobs(), nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jobs/missing/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.max))
	}
}
